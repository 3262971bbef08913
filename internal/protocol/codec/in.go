package codec

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/danmuck/simcircuit/internal/protocol/frame"
	"github.com/danmuck/simcircuit/internal/protocol/template"
	"github.com/google/uuid"
)

// InMessage is a received message positioned by a read cursor. It is owned by
// one goroutine at a time.
type InMessage struct {
	tmpl     *template.Message
	seq      uint32
	flags    frame.Flags
	data     []byte
	received time.Time
	cur      cursor
}

// Decode strips the message id from body, resolves its template and returns a
// message with the cursor reset. body is retained, not copied.
func Decode(reg *template.Registry, seq uint32, flags frame.Flags, body []byte) (*InMessage, error) {
	id, width, err := frame.DecodeMessageID(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	tmpl, err := reg.LookupByID(id)
	if err != nil {
		return nil, err
	}
	if tmpl.Frequency.IDWidth() != width {
		return nil, fmt.Errorf("%w: %s width=%d", ErrIDWidth, tmpl.Name, width)
	}
	return NewInMessage(tmpl, seq, flags, body[width:]), nil
}

// FromPacket decodes the body of a framed datagram.
func FromPacket(reg *template.Registry, p frame.Packet) (*InMessage, error) {
	return Decode(reg, p.Sequence, p.Flags, p.Body)
}

// NewInMessage wraps a payload that no longer carries its message id.
func NewInMessage(tmpl *template.Message, seq uint32, flags frame.Flags, payload []byte) *InMessage {
	m := &InMessage{
		tmpl:     tmpl,
		seq:      seq,
		flags:    flags,
		data:     payload,
		received: time.Now(),
	}
	m.ResetReading()
	return m
}

func (m *InMessage) ResetReading() {
	m.cur = cursor{}
	m.cur.enterBlock(m.tmpl, 0)
}

func (m *InMessage) Template() *template.Message { return m.tmpl }
func (m *InMessage) ID() uint32                  { return m.tmpl.ID }
func (m *InMessage) Name() string                { return m.tmpl.Name }
func (m *InMessage) Sequence() uint32            { return m.seq }
func (m *InMessage) Flags() frame.Flags          { return m.flags }
func (m *InMessage) Received() time.Time         { return m.received }
func (m *InMessage) DataSize() int               { return len(m.data) }
func (m *InMessage) Offset() int                 { return m.cur.offset }
func (m *InMessage) AtEnd() bool                 { return m.cur.atEnd }
func (m *InMessage) CurrentBlock() int           { return m.cur.block }
func (m *InMessage) CurrentInstance() int        { return m.cur.instance }
func (m *InMessage) CurrentVariable() int        { return m.cur.variable }

// BlockCount returns the current block's instance count and whether it is
// known yet.
func (m *InMessage) BlockCount() (int, bool) {
	if m.cur.atEnd {
		return 0, true
	}
	return m.cur.count, m.cur.countKnown
}

// CurrentVariableInfo describes the variable under the cursor.
func (m *InMessage) CurrentVariableInfo() (template.Block, template.Variable, bool) {
	if m.cur.atEnd {
		return template.Block{}, template.Variable{}, false
	}
	b := m.tmpl.Blocks[m.cur.block]
	return b, b.Variables[m.cur.variable], true
}

// Payload returns a copy of the payload without the message id.
func (m *InMessage) Payload() []byte {
	return append([]byte(nil), m.data...)
}

// ReadCurrentBlockInstanceCount establishes the instance count of the current
// block. For a Variable block the count byte is consumed on the first call
// only; a zero count moves the cursor on to the next block.
func (m *InMessage) ReadCurrentBlockInstanceCount() (int, error) {
	if m.cur.atEnd {
		return 0, nil
	}
	if m.cur.countKnown {
		return m.cur.count, nil
	}
	if m.cur.offset >= len(m.data) {
		return 0, fmt.Errorf("%w: %s.%s count at offset %d", ErrBufferUnderrun,
			m.tmpl.Name, m.tmpl.Blocks[m.cur.block].Name, m.cur.offset)
	}
	n := int(m.data[m.cur.offset])
	m.cur.offset++
	m.cur.setCount(m.tmpl, n)
	return n, nil
}

// SkipToNextVariable moves past the variable under the cursor without
// decoding it. Pending Variable block counts are read on the way.
func (m *InMessage) SkipToNextVariable() error {
	saved := m.cur
	if err := m.settle(); err != nil {
		m.cur = saved
		return err
	}
	if m.cur.atEnd {
		m.cur = saved
		return m.pastEnd()
	}
	_, n, err := m.span()
	if err != nil {
		m.cur = saved
		return err
	}
	m.consume(n)
	return nil
}

// SkipToFirstVariableByName scans forward from the cursor, inclusive, to the
// first variable called name. On a miss the cursor is left where it was.
func (m *InMessage) SkipToFirstVariableByName(name string) error {
	saved := m.cur
	for {
		if err := m.settle(); err != nil {
			m.cur = saved
			return err
		}
		if m.cur.atEnd {
			m.cur = saved
			return fmt.Errorf("%w: %s.%s", ErrVariableNotFound, m.tmpl.Name, name)
		}
		if m.variable().Name == name {
			return nil
		}
		_, n, err := m.span()
		if err != nil {
			m.cur = saved
			return err
		}
		m.consume(n)
	}
}

func (m *InMessage) ReadU8() (uint8, error) {
	b, err := m.read(template.TypeU8)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *InMessage) ReadU16() (uint16, error) {
	b, err := m.read(template.TypeU16)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (m *InMessage) ReadU32() (uint32, error) {
	b, err := m.read(template.TypeU32)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *InMessage) ReadU64() (uint64, error) {
	b, err := m.read(template.TypeU64)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (m *InMessage) ReadS8() (int8, error) {
	b, err := m.read(template.TypeS8)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (m *InMessage) ReadS16() (int16, error) {
	b, err := m.read(template.TypeS16)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

func (m *InMessage) ReadS32() (int32, error) {
	b, err := m.read(template.TypeS32)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (m *InMessage) ReadS64() (int64, error) {
	b, err := m.read(template.TypeS64)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (m *InMessage) ReadF32() (float32, error) {
	b, err := m.read(template.TypeF32)
	if err != nil {
		return 0, err
	}
	return f32(b), nil
}

func (m *InMessage) ReadF64() (float64, error) {
	b, err := m.read(template.TypeF64)
	if err != nil {
		return 0, err
	}
	return f64(b), nil
}

// ReadBool accepts only 0 and 1; anything else is malformed and leaves the
// cursor in place.
func (m *InMessage) ReadBool() (bool, error) {
	b, n, err := m.peek(template.TypeBool)
	if err != nil {
		return false, err
	}
	if b[0] > 1 {
		return false, fmt.Errorf("%w: %s value=%d", ErrBadBool, m.where(), b[0])
	}
	m.consume(n)
	return b[0] == 1, nil
}

func (m *InMessage) ReadUUID() (uuid.UUID, error) {
	b, err := m.read(template.TypeUUID)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.FromBytes(b)
}

func (m *InMessage) ReadVector3() (Vector3, error) {
	b, err := m.read(template.TypeVector3)
	if err != nil {
		return Vector3{}, err
	}
	return decodeVector3(b), nil
}

func (m *InMessage) ReadVector3d() (Vector3d, error) {
	b, err := m.read(template.TypeVector3d)
	if err != nil {
		return Vector3d{}, err
	}
	return decodeVector3d(b), nil
}

func (m *InMessage) ReadVector4() (Vector4, error) {
	b, err := m.read(template.TypeVector4)
	if err != nil {
		return Vector4{}, err
	}
	return decodeVector4(b), nil
}

func (m *InMessage) ReadQuaternion() (Quaternion, error) {
	b, err := m.read(template.TypeQuaternion)
	if err != nil {
		return Quaternion{}, err
	}
	return unpackQuaternion(decodeVector3(b)), nil
}

func (m *InMessage) ReadIPAddr() (netip.Addr, error) {
	b, err := m.read(template.TypeIPAddr)
	if err != nil {
		return netip.Addr{}, err
	}
	return netip.AddrFrom4([4]byte(b)), nil
}

// ReadIPPort reads a port, which unlike other scalars is big-endian.
func (m *InMessage) ReadIPPort() (uint16, error) {
	b, err := m.read(template.TypeIPPort)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (m *InMessage) ReadFixed() ([]byte, error) {
	b, err := m.read(template.TypeFixed)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// ReadBuffer reads a length-prefixed Variable1 or Variable2 field.
func (m *InMessage) ReadBuffer() ([]byte, error) {
	b, err := m.read(template.TypeVariable1, template.TypeVariable2)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// ReadString reads a Variable1, Variable2 or Fixed field as text with any
// trailing NULs removed.
func (m *InMessage) ReadString() (string, error) {
	b, err := m.read(template.TypeVariable1, template.TypeVariable2, template.TypeFixed)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\x00"), nil
}

func (m *InMessage) read(accept ...template.VarType) ([]byte, error) {
	b, n, err := m.peek(accept...)
	if err != nil {
		return nil, err
	}
	m.consume(n)
	return b, nil
}

// peek validates the variable under the cursor and returns its value bytes and
// full encoded width without moving.
func (m *InMessage) peek(accept ...template.VarType) ([]byte, int, error) {
	if m.cur.atEnd {
		return nil, 0, m.pastEnd()
	}
	if !m.cur.countKnown {
		return nil, 0, fmt.Errorf("%w: %s.%s", ErrBlockCountNotRead,
			m.tmpl.Name, m.tmpl.Blocks[m.cur.block].Name)
	}
	v := m.variable()
	if !accepts(v.Type, accept) {
		return nil, 0, &TypeMismatchError{
			Message:   m.tmpl.Name,
			Block:     m.tmpl.Blocks[m.cur.block].Name,
			Variable:  v.Name,
			Declared:  v.Type,
			Requested: accept[0],
		}
	}
	return m.span()
}

// span measures the variable under the cursor from fixed widths or its length
// prefix.
func (m *InMessage) span() ([]byte, int, error) {
	v := m.variable()
	rest := m.data[m.cur.offset:]
	if w, ok := v.Width(); ok {
		if len(rest) < w {
			return nil, 0, m.underrun(w, len(rest))
		}
		return rest[:w], w, nil
	}
	p := v.Type.PrefixWidth()
	if len(rest) < p {
		return nil, 0, m.underrun(p, len(rest))
	}
	n := int(rest[0])
	if p == 2 {
		n = int(binary.LittleEndian.Uint16(rest))
	}
	if len(rest) < p+n {
		return nil, 0, m.underrun(p+n, len(rest))
	}
	return rest[p : p+n], p + n, nil
}

// settle reads pending Variable block counts until the cursor rests on a
// variable or at the end.
func (m *InMessage) settle() error {
	for !m.cur.atEnd && !m.cur.countKnown {
		if _, err := m.ReadCurrentBlockInstanceCount(); err != nil {
			return err
		}
	}
	return nil
}

func (m *InMessage) consume(n int) {
	m.cur.offset += n
	m.cur.advance(m.tmpl)
}

func (m *InMessage) variable() template.Variable {
	return m.tmpl.Blocks[m.cur.block].Variables[m.cur.variable]
}

func (m *InMessage) where() string {
	if m.cur.atEnd {
		return m.tmpl.Name
	}
	return fmt.Sprintf("%s.%s[%d].%s", m.tmpl.Name, m.tmpl.Blocks[m.cur.block].Name,
		m.cur.instance, m.variable().Name)
}

func (m *InMessage) underrun(need, have int) error {
	return fmt.Errorf("%w: %s at offset %d need=%d have=%d", ErrBufferUnderrun, m.where(), m.cur.offset, need, have)
}

func (m *InMessage) pastEnd() error {
	return fmt.Errorf("%w: %s", ErrPastEnd, m.tmpl.Name)
}
