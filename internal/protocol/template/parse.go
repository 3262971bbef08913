package template

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	logs "github.com/danmuck/simcircuit/internal/logging"
)

type parseState int

const (
	stateTop parseState = iota
	stateMessageHeader
	stateMessageBody
	stateBlockHeader
	stateBlockBody
)

// Load parses a template file and builds a Registry from it.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Err: ErrMalformed, Reason: err.Error()}
	}
	defer f.Close()
	reg, err := LoadReader(f)
	if err != nil {
		return nil, err
	}
	logs.Infof("template.Load ok path=%q messages=%d", path, reg.Len())
	return reg, nil
}

func LoadReader(r io.Reader) (*Registry, error) {
	msgs, err := Parse(r)
	if err != nil {
		return nil, err
	}
	return NewRegistry(msgs)
}

// Parse reads the line-based message template format:
//
//	{
//		ChatFromViewer Low 80 NotTrusted Zerocoded
//		{
//			ChatData Single
//			{ Message Variable 2 }
//			{ Type U8 }
//		}
//	}
func Parse(r io.Reader) ([]Message, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	var (
		out   []Message
		msg   *Message
		block *Block
		state = stateTop
		line  int
	)
	for sc.Scan() {
		line++
		text := stripComment(sc.Text())
		if text == "" {
			continue
		}
		switch state {
		case stateTop:
			if strings.HasPrefix(text, "version") {
				continue
			}
			if text != "{" {
				return nil, malformed(line, "", "expected '{' to open a message, got %q", text)
			}
			state = stateMessageHeader
		case stateMessageHeader:
			m, err := parseMessageHeader(line, text)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
			msg = &out[len(out)-1]
			state = stateMessageBody
		case stateMessageBody:
			switch text {
			case "{":
				state = stateBlockHeader
			case "}":
				msg = nil
				state = stateTop
			default:
				return nil, malformed(line, msg.Name, "expected '{' or '}', got %q", text)
			}
		case stateBlockHeader:
			b, err := parseBlockHeader(line, msg.Name, text)
			if err != nil {
				return nil, err
			}
			msg.Blocks = append(msg.Blocks, b)
			block = &msg.Blocks[len(msg.Blocks)-1]
			state = stateBlockBody
		case stateBlockBody:
			if text == "}" {
				block = nil
				state = stateMessageBody
				continue
			}
			v, err := parseVariable(line, msg.Name, text)
			if err != nil {
				return nil, err
			}
			block.Variables = append(block.Variables, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &Error{Err: ErrMalformed, Line: line, Reason: err.Error()}
	}
	if state != stateTop {
		name := ""
		if msg != nil {
			name = msg.Name
		}
		return nil, malformed(line, name, "unexpected end of template")
	}
	return out, nil
}

func stripComment(raw string) string {
	if i := strings.Index(raw, "//"); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw)
}

func parseMessageHeader(line int, text string) (Message, error) {
	f := strings.Fields(text)
	if len(f) < 5 {
		return Message{}, malformed(line, "", "message header needs 5 fields, got %q", text)
	}
	m := Message{Name: f[0]}
	freq, ok := ParseFrequency(f[1])
	if !ok {
		return Message{}, malformed(line, m.Name, "unknown frequency %q", f[1])
	}
	m.Frequency = freq
	n, err := strconv.ParseUint(f[2], 0, 32)
	if err != nil {
		return Message{}, malformed(line, m.Name, "bad message number %q", f[2])
	}
	m.Number = uint32(n)
	id, err := WireID(freq, m.Number)
	if err != nil {
		return Message{}, malformed(line, m.Name, "%v", err)
	}
	m.ID = id
	switch f[3] {
	case "Trusted":
		m.Trust = Trusted
	case "NotTrusted":
		m.Trust = NotTrusted
	default:
		return Message{}, malformed(line, m.Name, "unknown trust level %q", f[3])
	}
	switch f[4] {
	case "Zerocoded":
		m.Encoding = Zerocoded
	case "Unencoded":
		m.Encoding = Unencoded
	default:
		return Message{}, malformed(line, m.Name, "unknown encoding %q", f[4])
	}
	for _, flag := range f[5:] {
		if strings.Contains(flag, "Deprecated") || strings.Contains(flag, "BlackListed") {
			m.Deprecated = true
		}
	}
	return m, nil
}

func parseBlockHeader(line int, msgName, text string) (Block, error) {
	f := strings.Fields(text)
	if len(f) < 2 {
		return Block{}, malformed(line, msgName, "block header needs a name and repeat kind, got %q", text)
	}
	b := Block{Name: f[0]}
	switch f[1] {
	case "Single":
		b.Repeat = RepeatSingle
		b.Count = 1
	case "Variable":
		b.Repeat = RepeatVariable
	case "Multiple":
		b.Repeat = RepeatMultiple
		if len(f) < 3 {
			return Block{}, malformed(line, msgName, "multiple block %q needs a count", b.Name)
		}
		n, err := strconv.Atoi(f[2])
		if err != nil || n < 1 {
			return Block{}, malformed(line, msgName, "multiple block %q bad count %q", b.Name, f[2])
		}
		b.Count = n
	default:
		return Block{}, malformed(line, msgName, "block %q unknown repeat kind %q", b.Name, f[1])
	}
	return b, nil
}

func parseVariable(line int, msgName, text string) (Variable, error) {
	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return Variable{}, malformed(line, msgName, "expected '{ name type }', got %q", text)
	}
	f := strings.Fields(strings.TrimSuffix(strings.TrimPrefix(text, "{"), "}"))
	if len(f) < 2 {
		return Variable{}, malformed(line, msgName, "variable needs a name and type, got %q", text)
	}
	v := Variable{Name: f[0]}
	size := 0
	if len(f) >= 3 {
		n, err := strconv.Atoi(f[2])
		if err != nil {
			return Variable{}, malformed(line, msgName, "variable %q bad size %q", v.Name, f[2])
		}
		size = n
	}
	switch t := parseVarType(f[1]); t {
	case TypeInvalid:
		return Variable{}, malformed(line, msgName, "variable %q unknown type %q", v.Name, f[1])
	case TypeFixed:
		if size <= 0 {
			return Variable{}, malformed(line, msgName, "fixed variable %q needs a size", v.Name)
		}
		v.Type = TypeFixed
		v.Size = size
	case TypeVariable1:
		switch size {
		case 1:
			v.Type = TypeVariable1
		case 2:
			v.Type = TypeVariable2
		default:
			return Variable{}, malformed(line, msgName, "variable %q length prefix %d unsupported", v.Name, size)
		}
	default:
		v.Type = t
	}
	return v, nil
}

func parseVarType(raw string) VarType {
	switch strings.ToUpper(raw) {
	case "U8":
		return TypeU8
	case "U16":
		return TypeU16
	case "U32":
		return TypeU32
	case "U64":
		return TypeU64
	case "S8":
		return TypeS8
	case "S16":
		return TypeS16
	case "S32":
		return TypeS32
	case "S64":
		return TypeS64
	case "F32":
		return TypeF32
	case "F64":
		return TypeF64
	case "LLVECTOR3":
		return TypeVector3
	case "LLVECTOR3D":
		return TypeVector3d
	case "LLVECTOR4":
		return TypeVector4
	case "LLQUATERNION":
		return TypeQuaternion
	case "LLUUID":
		return TypeUUID
	case "BOOL":
		return TypeBool
	case "IPADDR":
		return TypeIPAddr
	case "IPPORT":
		return TypeIPPort
	case "FIXED":
		return TypeFixed
	case "VARIABLE":
		return TypeVariable1
	default:
		return TypeInvalid
	}
}
