package template

import "fmt"

// Frequency is the message frequency class. It fixes the id width on the wire.
type Frequency uint8

const (
	FrequencyHigh Frequency = iota + 1
	FrequencyMedium
	FrequencyLow
	FrequencyFixed
)

// IDWidth returns the number of bytes the message id takes on the wire.
func (f Frequency) IDWidth() int {
	switch f {
	case FrequencyHigh:
		return 1
	case FrequencyMedium:
		return 2
	case FrequencyLow, FrequencyFixed:
		return 4
	default:
		return 0
	}
}

func (f Frequency) String() string {
	switch f {
	case FrequencyHigh:
		return "High"
	case FrequencyMedium:
		return "Medium"
	case FrequencyLow:
		return "Low"
	case FrequencyFixed:
		return "Fixed"
	default:
		return "Invalid"
	}
}

// ParseFrequency accepts the template file spelling of a frequency class.
func ParseFrequency(raw string) (Frequency, bool) {
	switch raw {
	case "High":
		return FrequencyHigh, true
	case "Medium", "Med":
		return FrequencyMedium, true
	case "Low":
		return FrequencyLow, true
	case "Fixed":
		return FrequencyFixed, true
	default:
		return 0, false
	}
}

type Trust uint8

const (
	NotTrusted Trust = iota
	Trusted
)

func (t Trust) String() string {
	if t == Trusted {
		return "Trusted"
	}
	return "NotTrusted"
}

type Encoding uint8

const (
	Unencoded Encoding = iota
	Zerocoded
)

func (e Encoding) String() string {
	if e == Zerocoded {
		return "Zerocoded"
	}
	return "Unencoded"
}

// RepeatKind controls how many instances of a block appear in a message.
type RepeatKind uint8

const (
	// RepeatSingle blocks appear exactly once.
	RepeatSingle RepeatKind = iota
	// RepeatMultiple blocks appear Block.Count times; the count is not on the wire.
	RepeatMultiple
	// RepeatVariable blocks carry a one byte instance count on the wire.
	RepeatVariable
)

func (k RepeatKind) String() string {
	switch k {
	case RepeatSingle:
		return "Single"
	case RepeatMultiple:
		return "Multiple"
	case RepeatVariable:
		return "Variable"
	default:
		return "Invalid"
	}
}

// VarType is the declared wire type of a variable.
type VarType uint8

const (
	TypeInvalid VarType = iota
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeS8
	TypeS16
	TypeS32
	TypeS64
	TypeF32
	TypeF64
	TypeVector3
	TypeVector3d
	TypeVector4
	TypeQuaternion
	TypeUUID
	TypeBool
	TypeIPAddr
	TypeIPPort
	TypeFixed
	TypeVariable1
	TypeVariable2
)

var typeNames = [...]string{
	TypeInvalid:    "Invalid",
	TypeU8:         "U8",
	TypeU16:        "U16",
	TypeU32:        "U32",
	TypeU64:        "U64",
	TypeS8:         "S8",
	TypeS16:        "S16",
	TypeS32:        "S32",
	TypeS64:        "S64",
	TypeF32:        "F32",
	TypeF64:        "F64",
	TypeVector3:    "LLVector3",
	TypeVector3d:   "LLVector3d",
	TypeVector4:    "LLVector4",
	TypeQuaternion: "LLQuaternion",
	TypeUUID:       "LLUUID",
	TypeBool:       "BOOL",
	TypeIPAddr:     "IPADDR",
	TypeIPPort:     "IPPORT",
	TypeFixed:      "Fixed",
	TypeVariable1:  "Variable1",
	TypeVariable2:  "Variable2",
}

var typeWidths = [...]int{
	TypeU8:         1,
	TypeU16:        2,
	TypeU32:        4,
	TypeU64:        8,
	TypeS8:         1,
	TypeS16:        2,
	TypeS32:        4,
	TypeS64:        8,
	TypeF32:        4,
	TypeF64:        8,
	TypeVector3:    12,
	TypeVector3d:   24,
	TypeVector4:    16,
	TypeQuaternion: 12,
	TypeUUID:       16,
	TypeBool:       1,
	TypeIPAddr:     4,
	TypeIPPort:     2,
	TypeFixed:      0,
	TypeVariable1:  0,
	TypeVariable2:  0,
}

func (t VarType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// Valid reports whether t names a real wire type.
func (t VarType) Valid() bool {
	return t > TypeInvalid && t <= TypeVariable2
}

// PrefixWidth is the length prefix size of a variable-length buffer type, 0 otherwise.
func (t VarType) PrefixWidth() int {
	switch t {
	case TypeVariable1:
		return 1
	case TypeVariable2:
		return 2
	default:
		return 0
	}
}

// MaxBufferLen is the largest buffer a length prefix of this type can describe.
func (t VarType) MaxBufferLen() int {
	switch t {
	case TypeVariable1:
		return 0xFF
	case TypeVariable2:
		return 0xFFFF
	default:
		return 0
	}
}

// Variable is one typed field inside a block.
type Variable struct {
	Name string
	Type VarType
	// Size is the byte length of a Fixed variable.
	Size int
}

// Width returns the encoded width of v and false when the width is only known
// from the length prefix on the wire.
func (v Variable) Width() (int, bool) {
	switch v.Type {
	case TypeFixed:
		return v.Size, true
	case TypeVariable1, TypeVariable2:
		return 0, false
	default:
		if v.Valid() {
			return typeWidths[v.Type], true
		}
		return 0, false
	}
}

func (v Variable) Valid() bool {
	return v.Type.Valid()
}

func (v Variable) String() string {
	if v.Type == TypeFixed {
		return fmt.Sprintf("%s(%s %d)", v.Name, v.Type, v.Size)
	}
	return fmt.Sprintf("%s(%s)", v.Name, v.Type)
}

// Block is a named, possibly repeated, group of variables.
type Block struct {
	Name      string
	Repeat    RepeatKind
	Count     int
	Variables []Variable
}

// FixedInstances returns the compile-time instance count, or false for Variable blocks.
func (b Block) FixedInstances() (int, bool) {
	switch b.Repeat {
	case RepeatSingle:
		return 1, true
	case RepeatMultiple:
		return b.Count, true
	default:
		return 0, false
	}
}

// Message is one message template.
type Message struct {
	// ID is the full wire id, e.g. 0xFFFF0050 for Low 80.
	ID         uint32
	Number     uint32
	Name       string
	Frequency  Frequency
	Trust      Trust
	Encoding   Encoding
	Deprecated bool
	Blocks     []Block
}

// BlockIndex returns the index of the named block.
func (m *Message) BlockIndex(name string) (int, bool) {
	for i := range m.Blocks {
		if m.Blocks[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

func (m *Message) String() string {
	return fmt.Sprintf("%s(0x%X %s %d)", m.Name, m.ID, m.Frequency, m.Number)
}

// WireID derives the full wire id from a frequency class and message number.
func WireID(freq Frequency, number uint32) (uint32, error) {
	switch freq {
	case FrequencyHigh:
		if number < 1 || number > 0xFE {
			return 0, fmt.Errorf("high frequency number %d out of range", number)
		}
		return number, nil
	case FrequencyMedium:
		if number < 1 || number > 0xFE {
			return 0, fmt.Errorf("medium frequency number %d out of range", number)
		}
		return 0xFF00 | number, nil
	case FrequencyLow:
		if number < 1 || number > 0xFFFE {
			return 0, fmt.Errorf("low frequency number %d out of range", number)
		}
		return 0xFFFF0000 | number, nil
	case FrequencyFixed:
		if number < 0xFFFFFF00 {
			return 0, fmt.Errorf("fixed number 0x%X out of range", number)
		}
		return number, nil
	default:
		return 0, fmt.Errorf("invalid frequency %d", freq)
	}
}
