package codec

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/danmuck/simcircuit/internal/protocol/frame"
	"github.com/danmuck/simcircuit/internal/protocol/template"
	"github.com/google/uuid"
)

// OutState is the lifecycle of an OutMessage.
type OutState uint8

const (
	OutBuilding OutState = iota
	OutFinished
	OutSent
)

func (s OutState) String() string {
	switch s {
	case OutBuilding:
		return "building"
	case OutFinished:
		return "finished"
	case OutSent:
		return "sent"
	default:
		return "invalid"
	}
}

// OutMessage builds a payload in template order. Variable blocks need their
// instance count set before their first variable.
type OutMessage struct {
	tmpl     *template.Message
	buf      []byte
	body     []byte
	cur      cursor
	state    OutState
	reliable bool
	seq      uint32
	scratch  [24]byte
}

func NewOutMessage(tmpl *template.Message) *OutMessage {
	m := &OutMessage{tmpl: tmpl, buf: make([]byte, 0, 64)}
	m.cur.enterBlock(tmpl, 0)
	return m
}

func (m *OutMessage) Template() *template.Message { return m.tmpl }
func (m *OutMessage) Name() string                { return m.tmpl.Name }
func (m *OutMessage) State() OutState             { return m.state }
func (m *OutMessage) Sequence() uint32            { return m.seq }
func (m *OutMessage) Reliable() bool              { return m.reliable }
func (m *OutMessage) Offset() int                 { return len(m.buf) }

func (m *OutMessage) SetReliable(reliable bool) {
	m.reliable = reliable
}

// Flags are the datagram flags this message asks for.
func (m *OutMessage) Flags() frame.Flags {
	var f frame.Flags
	if m.reliable {
		f |= frame.FlagReliable
	}
	if m.tmpl.Encoding == template.Zerocoded {
		f |= frame.FlagZeroCoded
	}
	return f
}

// Payload returns a copy of the bytes written so far, without the message id.
func (m *OutMessage) Payload() []byte {
	return append([]byte(nil), m.buf...)
}

// SetVariableBlockCount writes the instance count of the current Variable
// block. A zero count moves on to the next block.
func (m *OutMessage) SetVariableBlockCount(n int) error {
	if m.state != OutBuilding {
		return ErrAlreadyFinished
	}
	if m.cur.atEnd || m.tmpl.Blocks[m.cur.block].Repeat != template.RepeatVariable {
		return ErrNotVariableBlock
	}
	if m.cur.countKnown {
		return fmt.Errorf("%w: %s.%s", ErrBlockCountAlreadySet, m.tmpl.Name, m.tmpl.Blocks[m.cur.block].Name)
	}
	if n < 0 || n > 0xFF {
		return fmt.Errorf("%w: %d", ErrBlockCountRange, n)
	}
	m.buf = append(m.buf, byte(n))
	m.cur.offset = len(m.buf)
	m.cur.setCount(m.tmpl, n)
	return nil
}

func (m *OutMessage) AddU8(v uint8) error {
	return m.add(template.TypeU8, append(m.scratch[:0], v))
}

func (m *OutMessage) AddU16(v uint16) error {
	return m.add(template.TypeU16, binary.LittleEndian.AppendUint16(m.scratch[:0], v))
}

func (m *OutMessage) AddU32(v uint32) error {
	return m.add(template.TypeU32, binary.LittleEndian.AppendUint32(m.scratch[:0], v))
}

func (m *OutMessage) AddU64(v uint64) error {
	return m.add(template.TypeU64, binary.LittleEndian.AppendUint64(m.scratch[:0], v))
}

func (m *OutMessage) AddS8(v int8) error {
	return m.add(template.TypeS8, append(m.scratch[:0], byte(v)))
}

func (m *OutMessage) AddS16(v int16) error {
	return m.add(template.TypeS16, binary.LittleEndian.AppendUint16(m.scratch[:0], uint16(v)))
}

func (m *OutMessage) AddS32(v int32) error {
	return m.add(template.TypeS32, binary.LittleEndian.AppendUint32(m.scratch[:0], uint32(v)))
}

func (m *OutMessage) AddS64(v int64) error {
	return m.add(template.TypeS64, binary.LittleEndian.AppendUint64(m.scratch[:0], uint64(v)))
}

func (m *OutMessage) AddF32(v float32) error {
	return m.add(template.TypeF32, appendF32(m.scratch[:0], v))
}

func (m *OutMessage) AddF64(v float64) error {
	return m.add(template.TypeF64, appendF64(m.scratch[:0], v))
}

func (m *OutMessage) AddBool(v bool) error {
	var b byte
	if v {
		b = 1
	}
	return m.add(template.TypeBool, append(m.scratch[:0], b))
}

func (m *OutMessage) AddUUID(v uuid.UUID) error {
	return m.add(template.TypeUUID, v[:])
}

func (m *OutMessage) AddVector3(v Vector3) error {
	return m.add(template.TypeVector3, appendVector3(m.scratch[:0], v))
}

func (m *OutMessage) AddVector3d(v Vector3d) error {
	return m.add(template.TypeVector3d, appendVector3d(m.scratch[:0], v))
}

func (m *OutMessage) AddVector4(v Vector4) error {
	return m.add(template.TypeVector4, appendVector4(m.scratch[:0], v))
}

func (m *OutMessage) AddQuaternion(q Quaternion) error {
	return m.add(template.TypeQuaternion, appendVector3(m.scratch[:0], q.packed()))
}

func (m *OutMessage) AddIPAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	if !addr.Is4() {
		return fmt.Errorf("%w: %s is not an IPv4 address", ErrInvalidValue, addr)
	}
	a := addr.As4()
	return m.add(template.TypeIPAddr, a[:])
}

func (m *OutMessage) AddIPPort(port uint16) error {
	return m.add(template.TypeIPPort, binary.BigEndian.AppendUint16(m.scratch[:0], port))
}

// AddFixed writes a Fixed variable; b must be exactly the declared size.
func (m *OutMessage) AddFixed(b []byte) error {
	v, err := m.slot(template.TypeFixed)
	if err != nil {
		return err
	}
	if len(b) != v.Size {
		return fmt.Errorf("%w: %s.%s wants %d bytes, got %d", ErrInvalidValue, m.tmpl.Name, v.Name, v.Size, len(b))
	}
	m.write(b)
	return nil
}

// AddBuffer writes a Variable1 or Variable2 field with its length prefix.
func (m *OutMessage) AddBuffer(b []byte) error {
	v, err := m.slot(template.TypeVariable1, template.TypeVariable2)
	if err != nil {
		return err
	}
	if len(b) > v.Type.MaxBufferLen() {
		return fmt.Errorf("%w: %s.%s len=%d max=%d", ErrBufferTooLarge, m.tmpl.Name, v.Name, len(b), v.Type.MaxBufferLen())
	}
	if v.Type == template.TypeVariable1 {
		m.buf = append(m.buf, byte(len(b)))
	} else {
		m.buf = binary.LittleEndian.AppendUint16(m.buf, uint16(len(b)))
	}
	m.write(b)
	return nil
}

// AddString writes text into a Variable or Fixed field. No terminator is
// added; a Fixed field is zero padded.
func (m *OutMessage) AddString(s string) error {
	if m.state == OutBuilding && !m.cur.atEnd && m.cur.countKnown {
		if v := m.tmpl.Blocks[m.cur.block].Variables[m.cur.variable]; v.Type == template.TypeFixed {
			if len(s) > v.Size {
				return fmt.Errorf("%w: %s.%s len=%d max=%d", ErrBufferTooLarge, m.tmpl.Name, v.Name, len(s), v.Size)
			}
			b := make([]byte, v.Size)
			copy(b, s)
			return m.AddFixed(b)
		}
	}
	return m.AddBuffer([]byte(s))
}

// Finish writes zero counts for unset trailing Variable blocks and freezes the
// message. It returns the body: message id followed by payload. Calling it
// again returns the same body.
func (m *OutMessage) Finish() ([]byte, error) {
	if m.state != OutBuilding {
		return m.body, nil
	}
	saved, savedLen := m.cur, len(m.buf)
	for !m.cur.atEnd {
		if m.tmpl.Blocks[m.cur.block].Repeat != template.RepeatVariable || m.cur.countKnown {
			m.cur, m.buf = saved, m.buf[:savedLen]
			return nil, fmt.Errorf("%w: %s stopped at block %s", ErrIncomplete, m.tmpl.Name, m.tmpl.Blocks[m.cur.block].Name)
		}
		m.buf = append(m.buf, 0)
		m.cur.offset = len(m.buf)
		m.cur.setCount(m.tmpl, 0)
	}
	id, err := frame.EncodeMessageID(m.tmpl.ID, m.tmpl.Frequency.IDWidth())
	if err != nil {
		m.cur, m.buf = saved, m.buf[:savedLen]
		return nil, err
	}
	m.body = append(id, m.buf...)
	m.state = OutFinished
	return m.body, nil
}

// Body returns the finished body or nil while building.
func (m *OutMessage) Body() []byte {
	return m.body
}

// MarkSent records the sequence number the circuit assigned.
func (m *OutMessage) MarkSent(seq uint32) {
	m.seq = seq
	m.state = OutSent
}

func (m *OutMessage) add(t template.VarType, b []byte) error {
	if _, err := m.slot(t); err != nil {
		return err
	}
	m.write(b)
	return nil
}

func (m *OutMessage) slot(accept ...template.VarType) (template.Variable, error) {
	if m.state != OutBuilding {
		return template.Variable{}, ErrAlreadyFinished
	}
	if m.cur.atEnd {
		return template.Variable{}, fmt.Errorf("%w: %s", ErrMessageComplete, m.tmpl.Name)
	}
	blk := m.tmpl.Blocks[m.cur.block]
	if !m.cur.countKnown {
		return template.Variable{}, fmt.Errorf("%w: %s.%s", ErrBlockCountRequired, m.tmpl.Name, blk.Name)
	}
	v := blk.Variables[m.cur.variable]
	if !accepts(v.Type, accept) {
		return template.Variable{}, &TypeMismatchError{
			Message:   m.tmpl.Name,
			Block:     blk.Name,
			Variable:  v.Name,
			Declared:  v.Type,
			Requested: accept[0],
		}
	}
	return v, nil
}

func (m *OutMessage) write(b []byte) {
	m.buf = append(m.buf, b...)
	m.cur.offset = len(m.buf)
	m.cur.advance(m.tmpl)
}
