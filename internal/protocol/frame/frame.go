package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Flags is the first byte of every datagram.
type Flags uint8

const (
	FlagZeroCoded  Flags = 0x01
	FlagReliable   Flags = 0x02
	FlagResent     Flags = 0x04
	FlagAckPresent Flags = 0x08
)

const (
	// HeaderLen covers flags, sequence number and the extra header length byte.
	HeaderLen = 6
	// MaxAcks is the largest ack block the one byte trailer count can describe.
	MaxAcks = 0xFF
	// MaxExtraBytes is the largest extra header the length byte can describe.
	MaxExtraBytes = 0xFF
)

var (
	ErrMalformed        = errors.New("frame: malformed datagram")
	ErrShortHeader      = fmt.Errorf("%w: short header", ErrMalformed)
	ErrExtraOverrun     = fmt.Errorf("%w: extra header overruns datagram", ErrMalformed)
	ErrAckOverrun       = fmt.Errorf("%w: ack block overruns datagram", ErrMalformed)
	ErrEmptyBody        = fmt.Errorf("%w: empty body", ErrMalformed)
	ErrBadZeroCode      = fmt.Errorf("%w: bad zerocode run", ErrMalformed)
	ErrBadMessageID     = fmt.Errorf("%w: bad message id", ErrMalformed)
	ErrBodyTooLarge     = fmt.Errorf("%w: body too large", ErrMalformed)
	ErrDatagramTooLarge = errors.New("frame: datagram too large")
	ErrTooManyAcks      = errors.New("frame: too many acks")
	ErrExtraTooLarge    = errors.New("frame: extra header too large")
)

func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	parts := make([]string, 0, 4)
	if f.Has(FlagZeroCoded) {
		parts = append(parts, "zerocoded")
	}
	if f.Has(FlagReliable) {
		parts = append(parts, "reliable")
	}
	if f.Has(FlagResent) {
		parts = append(parts, "resent")
	}
	if f.Has(FlagAckPresent) {
		parts = append(parts, "acks")
	}
	if rest := f &^ (FlagZeroCoded | FlagReliable | FlagResent | FlagAckPresent); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%02x", uint8(rest)))
	}
	return strings.Join(parts, "|")
}

// Packet is one decoded datagram. Body starts with the message id and is
// always held in its decoded (not zerocoded) form.
type Packet struct {
	Flags    Flags
	Sequence uint32
	Extra    []byte
	Body     []byte
	Acks     []uint32
}

// Limits constrains datagram sizes on both directions.
type Limits struct {
	MaxDatagramBytes int
	MaxBodyBytes     int
}

func DefaultLimits() Limits {
	return Limits{
		MaxDatagramBytes: 8192,
		MaxBodyBytes:     16 * 1024,
	}
}

// Encode lays out p on the wire. AckPresent follows len(p.Acks). ZeroCoded is
// kept only when zero encoding actually shrinks the body.
func Encode(p Packet, limits Limits) ([]byte, error) {
	if len(p.Extra) > MaxExtraBytes {
		return nil, ErrExtraTooLarge
	}
	if len(p.Acks) > MaxAcks {
		return nil, ErrTooManyAcks
	}
	if len(p.Body) == 0 {
		return nil, ErrEmptyBody
	}
	if limits.MaxBodyBytes > 0 && len(p.Body) > limits.MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}

	flags := p.Flags &^ FlagAckPresent
	body := p.Body
	if flags.Has(FlagZeroCoded) {
		if enc := ZeroEncode(body); len(enc) < len(body) {
			body = enc
		} else {
			flags &^= FlagZeroCoded
		}
	}
	if len(p.Acks) > 0 {
		flags |= FlagAckPresent
	}

	size := HeaderLen + len(p.Extra) + len(body)
	if len(p.Acks) > 0 {
		size += 4*len(p.Acks) + 1
	}
	if limits.MaxDatagramBytes > 0 && size > limits.MaxDatagramBytes {
		return nil, ErrDatagramTooLarge
	}

	buf := make([]byte, 0, size)
	buf = append(buf, byte(flags))
	buf = binary.BigEndian.AppendUint32(buf, p.Sequence)
	buf = append(buf, byte(len(p.Extra)))
	buf = append(buf, p.Extra...)
	buf = append(buf, body...)
	if len(p.Acks) > 0 {
		for _, ack := range p.Acks {
			buf = binary.BigEndian.AppendUint32(buf, ack)
		}
		buf = append(buf, byte(len(p.Acks)))
	}
	return buf, nil
}

// Decode parses one datagram. The returned packet does not alias b.
func Decode(b []byte, limits Limits) (Packet, error) {
	if len(b) < HeaderLen {
		return Packet{}, ErrShortHeader
	}
	if limits.MaxDatagramBytes > 0 && len(b) > limits.MaxDatagramBytes {
		return Packet{}, ErrDatagramTooLarge
	}
	p := Packet{
		Flags:    Flags(b[0]),
		Sequence: binary.BigEndian.Uint32(b[1:5]),
	}
	start := HeaderLen + int(b[5])
	if start > len(b) {
		return Packet{}, ErrExtraOverrun
	}
	if b[5] > 0 {
		p.Extra = append([]byte(nil), b[HeaderLen:start]...)
	}

	end := len(b)
	if p.Flags.Has(FlagAckPresent) {
		if end <= start {
			return Packet{}, ErrAckOverrun
		}
		n := int(b[end-1])
		ackStart := end - 1 - 4*n
		if ackStart < start {
			return Packet{}, ErrAckOverrun
		}
		p.Acks = make([]uint32, n)
		for i := 0; i < n; i++ {
			p.Acks[i] = binary.BigEndian.Uint32(b[ackStart+4*i:])
		}
		end = ackStart
	}

	raw := b[start:end]
	if len(raw) == 0 {
		return Packet{}, ErrEmptyBody
	}
	if p.Flags.Has(FlagZeroCoded) {
		body, err := ZeroDecode(raw, limits.MaxBodyBytes)
		if err != nil {
			return Packet{}, err
		}
		p.Body = body
	} else {
		if limits.MaxBodyBytes > 0 && len(raw) > limits.MaxBodyBytes {
			return Packet{}, ErrBodyTooLarge
		}
		p.Body = append([]byte(nil), raw...)
	}
	return p, nil
}

// SetResent flips the Resent bit of an already encoded datagram in place.
func SetResent(datagram []byte) {
	if len(datagram) > 0 {
		datagram[0] |= byte(FlagResent)
	}
}

// EncodeMessageID writes id with the given frequency width (1, 2 or 4).
func EncodeMessageID(id uint32, width int) ([]byte, error) {
	switch width {
	case 1:
		if id == 0 || id > 0xFE {
			return nil, fmt.Errorf("frame: id 0x%X does not fit one byte", id)
		}
		return []byte{byte(id)}, nil
	case 2:
		if id&0xFFFFFF00 != 0xFF00 || id&0xFF == 0xFF {
			return nil, fmt.Errorf("frame: id 0x%X is not a medium id", id)
		}
		return []byte{0xFF, byte(id)}, nil
	case 4:
		if id < 0xFFFF0000 {
			return nil, fmt.Errorf("frame: id 0x%X is not a low or fixed id", id)
		}
		return binary.BigEndian.AppendUint32(nil, id), nil
	default:
		return nil, fmt.Errorf("frame: invalid id width %d", width)
	}
}

// DecodeMessageID reads the id prefix of a body: a first byte other than 0xFF
// is a one byte id, then a second byte other than 0xFF is a two byte id,
// otherwise the id is four bytes big-endian.
func DecodeMessageID(body []byte) (uint32, int, error) {
	switch {
	case len(body) < 1:
		return 0, 0, ErrBadMessageID
	case body[0] != 0xFF:
		return uint32(body[0]), 1, nil
	case len(body) < 2:
		return 0, 0, ErrBadMessageID
	case body[1] != 0xFF:
		return 0xFF00 | uint32(body[1]), 2, nil
	case len(body) < 4:
		return 0, 0, ErrBadMessageID
	default:
		return binary.BigEndian.Uint32(body[:4]), 4, nil
	}
}
