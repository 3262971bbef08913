package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/danmuck/simcircuit/internal/protocol/template"
	"github.com/google/uuid"
)

type Vector3 struct {
	X, Y, Z float32
}

type Vector3d struct {
	X, Y, Z float64
}

type Vector4 struct {
	X, Y, Z, W float32
}

// Quaternion travels as the x, y and z parts of its normalized form with a
// non-negative w; w is rebuilt on decode.
type Quaternion struct {
	X, Y, Z, W float32
}

func IdentityQuaternion() Quaternion {
	return Quaternion{W: 1}
}

func (q Quaternion) Normalize() Quaternion {
	mag := math.Sqrt(float64(q.X)*float64(q.X) + float64(q.Y)*float64(q.Y) +
		float64(q.Z)*float64(q.Z) + float64(q.W)*float64(q.W))
	if mag == 0 {
		return IdentityQuaternion()
	}
	return Quaternion{
		X: float32(float64(q.X) / mag),
		Y: float32(float64(q.Y) / mag),
		Z: float32(float64(q.Z) / mag),
		W: float32(float64(q.W) / mag),
	}
}

func (q Quaternion) packed() Vector3 {
	n := q.Normalize()
	if n.W < 0 {
		return Vector3{X: -n.X, Y: -n.Y, Z: -n.Z}
	}
	return Vector3{X: n.X, Y: n.Y, Z: n.Z}
}

func unpackQuaternion(v Vector3) Quaternion {
	s := 1 - (float64(v.X)*float64(v.X) + float64(v.Y)*float64(v.Y) + float64(v.Z)*float64(v.Z))
	if s < 0 {
		s = 0
	}
	return Quaternion{X: v.X, Y: v.Y, Z: v.Z, W: float32(math.Sqrt(s))}
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func f64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func appendF32(dst []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
}

func appendF64(dst []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
}

func decodeVector3(b []byte) Vector3 {
	return Vector3{X: f32(b[0:4]), Y: f32(b[4:8]), Z: f32(b[8:12])}
}

func decodeVector3d(b []byte) Vector3d {
	return Vector3d{X: f64(b[0:8]), Y: f64(b[8:16]), Z: f64(b[16:24])}
}

func decodeVector4(b []byte) Vector4 {
	return Vector4{X: f32(b[0:4]), Y: f32(b[4:8]), Z: f32(b[8:12]), W: f32(b[12:16])}
}

func appendVector3(dst []byte, v Vector3) []byte {
	dst = appendF32(dst, v.X)
	dst = appendF32(dst, v.Y)
	return appendF32(dst, v.Z)
}

func appendVector3d(dst []byte, v Vector3d) []byte {
	dst = appendF64(dst, v.X)
	dst = appendF64(dst, v.Y)
	return appendF64(dst, v.Z)
}

func appendVector4(dst []byte, v Vector4) []byte {
	dst = appendF32(dst, v.X)
	dst = appendF32(dst, v.Y)
	dst = appendF32(dst, v.Z)
	return appendF32(dst, v.W)
}

// formatValue renders raw wire bytes of one variable for dumps.
func formatValue(t template.VarType, raw []byte) string {
	switch t {
	case template.TypeU8:
		return strconv.FormatUint(uint64(raw[0]), 10)
	case template.TypeU16:
		return strconv.FormatUint(uint64(binary.LittleEndian.Uint16(raw)), 10)
	case template.TypeU32:
		return strconv.FormatUint(uint64(binary.LittleEndian.Uint32(raw)), 10)
	case template.TypeU64:
		return strconv.FormatUint(binary.LittleEndian.Uint64(raw), 10)
	case template.TypeS8:
		return strconv.FormatInt(int64(int8(raw[0])), 10)
	case template.TypeS16:
		return strconv.FormatInt(int64(int16(binary.LittleEndian.Uint16(raw))), 10)
	case template.TypeS32:
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(raw))), 10)
	case template.TypeS64:
		return strconv.FormatInt(int64(binary.LittleEndian.Uint64(raw)), 10)
	case template.TypeF32:
		return strconv.FormatFloat(float64(f32(raw)), 'g', -1, 32)
	case template.TypeF64:
		return strconv.FormatFloat(f64(raw), 'g', -1, 64)
	case template.TypeVector3:
		v := decodeVector3(raw)
		return fmt.Sprintf("<%g, %g, %g>", v.X, v.Y, v.Z)
	case template.TypeVector3d:
		v := decodeVector3d(raw)
		return fmt.Sprintf("<%g, %g, %g>", v.X, v.Y, v.Z)
	case template.TypeVector4:
		v := decodeVector4(raw)
		return fmt.Sprintf("<%g, %g, %g, %g>", v.X, v.Y, v.Z, v.W)
	case template.TypeQuaternion:
		q := unpackQuaternion(decodeVector3(raw))
		return fmt.Sprintf("<%g, %g, %g, %g>", q.X, q.Y, q.Z, q.W)
	case template.TypeUUID:
		id, err := uuid.FromBytes(raw)
		if err != nil {
			return fmt.Sprintf("% x", raw)
		}
		return id.String()
	case template.TypeBool:
		return strconv.FormatBool(raw[0] == 1)
	case template.TypeIPAddr:
		return netip.AddrFrom4([4]byte(raw)).String()
	case template.TypeIPPort:
		return strconv.FormatUint(uint64(binary.BigEndian.Uint16(raw)), 10)
	default:
		trimmed := strings.TrimRight(string(raw), "\x00")
		if utf8.ValidString(trimmed) && isPrintable(trimmed) {
			return strconv.Quote(trimmed)
		}
		return fmt.Sprintf("% x", raw)
	}
}

func isPrintable(s string) bool {
	for _, r := range s {
		if !strconv.IsPrint(r) && r != '\n' && r != '\t' {
			return false
		}
	}
	return true
}
