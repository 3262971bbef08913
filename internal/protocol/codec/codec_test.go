package codec

import (
	"bytes"
	"errors"
	"math"
	"net/netip"
	"strings"
	"testing"

	"github.com/danmuck/simcircuit/internal/protocol/frame"
	"github.com/danmuck/simcircuit/internal/protocol/template"
	"github.com/danmuck/simcircuit/internal/testutil/testlog"
	"github.com/google/uuid"
)

const testTemplate = `
{
	AllTypes Low 500 NotTrusted Zerocoded
	{
		Scalars Single
		{ U8v U8 }
		{ U16v U16 }
		{ U32v U32 }
		{ U64v U64 }
		{ S8v S8 }
		{ S16v S16 }
		{ S32v S32 }
		{ S64v S64 }
		{ F32v F32 }
		{ F64v F64 }
	}
	{
		Geometry Single
		{ V3 LLVector3 }
		{ V3d LLVector3d }
		{ V4 LLVector4 }
		{ Rot LLQuaternion }
	}
	{
		Net Single
		{ ID LLUUID }
		{ Flag BOOL }
		{ IP IPADDR }
		{ Port IPPORT }
	}
	{
		Raw Multiple 2
		{ Blob Fixed 3 }
	}
	{
		Items Variable
		{ Name Variable 1 }
		{ Data Variable 2 }
	}
}
{
	Tail Low 501 NotTrusted Unencoded
	{
		Head Single
		{ A U8 }
	}
	{
		Opt1 Variable
		{ B U8 }
	}
	{
		Opt2 Variable
		{ C U16 }
	}
}
`

var testID = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

func testRegistry(t *testing.T) *template.Registry {
	t.Helper()
	reg, err := template.LoadReader(strings.NewReader(testTemplate))
	if err != nil {
		t.Fatalf("load test template: %v", err)
	}
	return reg
}

func mustTemplate(t *testing.T, reg *template.Registry, name string) *template.Message {
	t.Helper()
	tmpl, err := reg.LookupByName(name)
	if err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return tmpl
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func buildAllTypes(t *testing.T, reg *template.Registry) *OutMessage {
	t.Helper()
	out := NewOutMessage(mustTemplate(t, reg, "AllTypes"))
	must(t, out.AddU8(200))
	must(t, out.AddU16(0xBEEF))
	must(t, out.AddU32(0xDEADBEEF))
	must(t, out.AddU64(1<<40+5))
	must(t, out.AddS8(-5))
	must(t, out.AddS16(-300))
	must(t, out.AddS32(-70000))
	must(t, out.AddS64(-1<<40))
	must(t, out.AddF32(1.5))
	must(t, out.AddF64(-2.25))
	must(t, out.AddVector3(Vector3{1, 2, 3}))
	must(t, out.AddVector3d(Vector3d{1e10, -2, 0.5}))
	must(t, out.AddVector4(Vector4{1, 2, 3, 4}))
	must(t, out.AddQuaternion(Quaternion{X: 0, Y: 0, Z: 0.6, W: 0.8}))
	must(t, out.AddUUID(testID))
	must(t, out.AddBool(true))
	must(t, out.AddIPAddr(netip.MustParseAddr("10.1.2.3")))
	must(t, out.AddIPPort(9000))
	must(t, out.AddFixed([]byte{1, 2, 3}))
	must(t, out.AddFixed([]byte{4, 5, 6}))
	must(t, out.SetVariableBlockCount(2))
	must(t, out.AddString("alpha"))
	must(t, out.AddBuffer(bytes.Repeat([]byte{0xAB}, 300)))
	must(t, out.AddString("b"))
	must(t, out.AddBuffer(nil))
	return out
}

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-6
}

func TestRoundTripAllTypes(t *testing.T) {
	testlog.Start(t)
	reg := testRegistry(t)
	out := buildAllTypes(t, reg)
	body, err := out.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if !bytes.Equal(body[:4], []byte{0xFF, 0xFF, 0x01, 0xF4}) {
		t.Fatalf("unexpected id prefix: % x", body[:4])
	}
	payload := out.Payload()
	if payload[0] != 200 || payload[1] != 0xEF || payload[2] != 0xBE {
		t.Fatalf("scalars should be little-endian: % x", payload[:3])
	}

	in, err := Decode(reg, 7, out.Flags(), body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if in.Sequence() != 7 || in.Name() != "AllTypes" || in.DataSize() != len(payload) {
		t.Fatalf("unexpected header: seq=%d name=%s size=%d", in.Sequence(), in.Name(), in.DataSize())
	}
	if !in.Flags().Has(frame.FlagZeroCoded) {
		t.Fatalf("zerocoded template should request the zerocoded flag")
	}

	if v, err := in.ReadU8(); err != nil || v != 200 {
		t.Fatalf("u8 got=%d err=%v", v, err)
	}
	if v, err := in.ReadU16(); err != nil || v != 0xBEEF {
		t.Fatalf("u16 got=%x err=%v", v, err)
	}
	if v, err := in.ReadU32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("u32 got=%x err=%v", v, err)
	}
	if v, err := in.ReadU64(); err != nil || v != 1<<40+5 {
		t.Fatalf("u64 got=%d err=%v", v, err)
	}
	if v, err := in.ReadS8(); err != nil || v != -5 {
		t.Fatalf("s8 got=%d err=%v", v, err)
	}
	if v, err := in.ReadS16(); err != nil || v != -300 {
		t.Fatalf("s16 got=%d err=%v", v, err)
	}
	if v, err := in.ReadS32(); err != nil || v != -70000 {
		t.Fatalf("s32 got=%d err=%v", v, err)
	}
	if v, err := in.ReadS64(); err != nil || v != -1<<40 {
		t.Fatalf("s64 got=%d err=%v", v, err)
	}
	if v, err := in.ReadF32(); err != nil || v != 1.5 {
		t.Fatalf("f32 got=%v err=%v", v, err)
	}
	if v, err := in.ReadF64(); err != nil || v != -2.25 {
		t.Fatalf("f64 got=%v err=%v", v, err)
	}
	if v, err := in.ReadVector3(); err != nil || v != (Vector3{1, 2, 3}) {
		t.Fatalf("vector3 got=%v err=%v", v, err)
	}
	if v, err := in.ReadVector3d(); err != nil || v != (Vector3d{1e10, -2, 0.5}) {
		t.Fatalf("vector3d got=%v err=%v", v, err)
	}
	if v, err := in.ReadVector4(); err != nil || v != (Vector4{1, 2, 3, 4}) {
		t.Fatalf("vector4 got=%v err=%v", v, err)
	}
	q, err := in.ReadQuaternion()
	if err != nil || !near(q.X, 0) || !near(q.Y, 0) || !near(q.Z, 0.6) || !near(q.W, 0.8) {
		t.Fatalf("quaternion got=%v err=%v", q, err)
	}
	if v, err := in.ReadUUID(); err != nil || v != testID {
		t.Fatalf("uuid got=%v err=%v", v, err)
	}
	if v, err := in.ReadBool(); err != nil || !v {
		t.Fatalf("bool got=%v err=%v", v, err)
	}
	if v, err := in.ReadIPAddr(); err != nil || v != netip.MustParseAddr("10.1.2.3") {
		t.Fatalf("ipaddr got=%v err=%v", v, err)
	}
	portOffset := in.Offset()
	if v, err := in.ReadIPPort(); err != nil || v != 9000 {
		t.Fatalf("ipport got=%d err=%v", v, err)
	}
	if payload[portOffset] != 0x23 || payload[portOffset+1] != 0x28 {
		t.Fatalf("ipport should be big-endian: % x", payload[portOffset:portOffset+2])
	}
	for i, want := range [][]byte{{1, 2, 3}, {4, 5, 6}} {
		if v, err := in.ReadFixed(); err != nil || !bytes.Equal(v, want) {
			t.Fatalf("fixed[%d] got=%v err=%v", i, v, err)
		}
	}
	if n, err := in.ReadCurrentBlockInstanceCount(); err != nil || n != 2 {
		t.Fatalf("items count got=%d err=%v", n, err)
	}
	if v, err := in.ReadString(); err != nil || v != "alpha" {
		t.Fatalf("name[0] got=%q err=%v", v, err)
	}
	if v, err := in.ReadBuffer(); err != nil || len(v) != 300 || v[299] != 0xAB {
		t.Fatalf("data[0] len=%d err=%v", len(v), err)
	}
	if v, err := in.ReadString(); err != nil || v != "b" {
		t.Fatalf("name[1] got=%q err=%v", v, err)
	}
	if v, err := in.ReadBuffer(); err != nil || len(v) != 0 {
		t.Fatalf("data[1] len=%d err=%v", len(v), err)
	}
	if !in.AtEnd() || in.Offset() != in.DataSize() {
		t.Fatalf("expected end of message: atEnd=%v offset=%d size=%d", in.AtEnd(), in.Offset(), in.DataSize())
	}
	if _, err := in.ReadU8(); !errors.Is(err, ErrPastEnd) || !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrPastEnd wrapping ErrMalformed, got %v", err)
	}
}

func TestIdentityQuaternionIsExact(t *testing.T) {
	payload := appendVector3(nil, IdentityQuaternion().packed())
	q := unpackQuaternion(decodeVector3(payload))
	if q != IdentityQuaternion() {
		t.Fatalf("identity round trip got=%v", q)
	}
	neg := Quaternion{X: 0, Y: 0, Z: -0.6, W: -0.8}.packed()
	if !near(neg.Z, 0.6) {
		t.Fatalf("negative w should be flipped before packing, got %v", neg)
	}
}

func TestChatFromViewerWireBytes(t *testing.T) {
	testlog.Start(t)
	reg, err := template.Builtin()
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	out := NewOutMessage(mustTemplate(t, reg, template.MsgChatFromViewer))
	must(t, out.AddUUID(uuid.Nil))
	must(t, out.AddUUID(uuid.Nil))
	must(t, out.AddString("hello"))
	must(t, out.AddU8(1))
	must(t, out.AddS32(0))
	body, err := out.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	want := make([]byte, 32)
	want = append(want, 0x05, 'h', 'e', 'l', 'l', 'o', 0x01, 0, 0, 0, 0)
	if !bytes.Equal(out.Payload(), want) {
		t.Fatalf("payload mismatch:\n got=% x\nwant=% x", out.Payload(), want)
	}

	in, err := Decode(reg, 1, out.Flags(), body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := in.SkipToFirstVariableByName("Message"); err != nil {
		t.Fatalf("skip to message: %v", err)
	}
	if s, err := in.ReadString(); err != nil || s != "hello" {
		t.Fatalf("message got=%q err=%v", s, err)
	}
	if v, err := in.ReadU8(); err != nil || v != 1 {
		t.Fatalf("type got=%d err=%v", v, err)
	}
	if v, err := in.ReadS32(); err != nil || v != 0 {
		t.Fatalf("channel got=%d err=%v", v, err)
	}
	if !in.AtEnd() {
		t.Fatalf("expected end of message")
	}
}

func TestCursorAdvancesMonotonically(t *testing.T) {
	reg := testRegistry(t)
	out := buildAllTypes(t, reg)
	body, err := out.Finish()
	must(t, err)
	in, err := Decode(reg, 1, 0, body)
	must(t, err)

	skips := 0
	last := in.Offset()
	for !in.AtEnd() {
		if err := in.SkipToNextVariable(); err != nil {
			t.Fatalf("skip %d: %v", skips, err)
		}
		if in.Offset() <= last {
			t.Fatalf("offset did not advance: %d -> %d", last, in.Offset())
		}
		last = in.Offset()
		skips++
	}
	if skips != 24 {
		t.Fatalf("expected 24 variables, skipped %d", skips)
	}
	if in.Offset() != in.DataSize() {
		t.Fatalf("offset %d != size %d", in.Offset(), in.DataSize())
	}
}

func TestNamedSkipMatchesRepeatedSkips(t *testing.T) {
	reg := testRegistry(t)
	body, err := buildAllTypes(t, reg).Finish()
	must(t, err)

	a, err := Decode(reg, 1, 0, body)
	must(t, err)
	if err := a.SkipToFirstVariableByName("Port"); err != nil {
		t.Fatalf("named skip: %v", err)
	}
	b, err := Decode(reg, 1, 0, body)
	must(t, err)
	for i := 0; i < 17; i++ {
		must(t, b.SkipToNextVariable())
	}
	if a.Offset() != b.Offset() || a.CurrentBlock() != b.CurrentBlock() || a.CurrentVariable() != b.CurrentVariable() {
		t.Fatalf("cursor mismatch: named=(%d,%d,%d) repeated=(%d,%d,%d)",
			a.CurrentBlock(), a.CurrentVariable(), a.Offset(), b.CurrentBlock(), b.CurrentVariable(), b.Offset())
	}
	if _, v, ok := a.CurrentVariableInfo(); !ok || v.Name != "Port" {
		t.Fatalf("expected cursor on Port, got %+v", v)
	}

	// Forward only: a name behind the cursor is not found and the cursor stays.
	offset := a.Offset()
	if err := a.SkipToFirstVariableByName("U8v"); !errors.Is(err, ErrVariableNotFound) {
		t.Fatalf("expected ErrVariableNotFound, got %v", err)
	}
	if a.Offset() != offset {
		t.Fatalf("cursor moved on miss: %d -> %d", offset, a.Offset())
	}

	// Through a Variable block the count is read implicitly.
	if err := a.SkipToFirstVariableByName("Data"); err != nil {
		t.Fatalf("skip to data: %v", err)
	}
	if n, ok := a.BlockCount(); !ok || n != 2 {
		t.Fatalf("expected implicit count 2, got %d known=%v", n, ok)
	}
}

func TestVariableBlockCountContract(t *testing.T) {
	reg := testRegistry(t)
	body, err := buildAllTypes(t, reg).Finish()
	must(t, err)
	in, err := Decode(reg, 1, 0, body)
	must(t, err)
	for i := 0; i < 20; i++ {
		must(t, in.SkipToNextVariable())
	}
	if _, ok := in.BlockCount(); ok {
		t.Fatalf("variable block count should not be known before reading it")
	}
	offset := in.Offset()
	if _, err := in.ReadString(); !errors.Is(err, ErrBlockCountNotRead) {
		t.Fatalf("expected ErrBlockCountNotRead, got %v", err)
	}
	if in.Offset() != offset {
		t.Fatalf("failed read moved the cursor")
	}
	n, err := in.ReadCurrentBlockInstanceCount()
	if err != nil || n != 2 {
		t.Fatalf("count got=%d err=%v", n, err)
	}
	afterCount := in.Offset()
	if afterCount != offset+1 {
		t.Fatalf("count should consume one byte: %d -> %d", offset, afterCount)
	}
	n, err = in.ReadCurrentBlockInstanceCount()
	if err != nil || n != 2 || in.Offset() != afterCount {
		t.Fatalf("second count read should be idempotent: n=%d offset=%d err=%v", n, in.Offset(), err)
	}
	if in.CurrentBlock() != 4 || in.CurrentInstance() != 0 {
		t.Fatalf("unexpected position block=%d instance=%d", in.CurrentBlock(), in.CurrentInstance())
	}
	_, _ = in.ReadString()
	_, _ = in.ReadBuffer()
	if in.CurrentInstance() != 1 {
		t.Fatalf("expected second instance, got %d", in.CurrentInstance())
	}
}

func TestZeroCountMovesToNextBlock(t *testing.T) {
	reg := testRegistry(t)
	out := NewOutMessage(mustTemplate(t, reg, "Tail"))
	must(t, out.AddU8(9))
	must(t, out.SetVariableBlockCount(0))
	must(t, out.SetVariableBlockCount(1))
	must(t, out.AddU16(5))
	body, err := out.Finish()
	must(t, err)
	if !bytes.Equal(out.Payload(), []byte{9, 0, 1, 5, 0}) {
		t.Fatalf("unexpected payload % x", out.Payload())
	}

	in, err := Decode(reg, 1, 0, body)
	must(t, err)
	if v, err := in.ReadU8(); err != nil || v != 9 {
		t.Fatalf("head got=%d err=%v", v, err)
	}
	if n, err := in.ReadCurrentBlockInstanceCount(); err != nil || n != 0 {
		t.Fatalf("opt1 count got=%d err=%v", n, err)
	}
	if in.CurrentBlock() != 2 {
		t.Fatalf("zero count should move to block 2, at %d", in.CurrentBlock())
	}
	if n, err := in.ReadCurrentBlockInstanceCount(); err != nil || n != 1 {
		t.Fatalf("opt2 count got=%d err=%v", n, err)
	}
	if v, err := in.ReadU16(); err != nil || v != 5 {
		t.Fatalf("c got=%d err=%v", v, err)
	}
	if !in.AtEnd() {
		t.Fatalf("expected end")
	}
	if n, err := in.ReadCurrentBlockInstanceCount(); err != nil || n != 0 {
		t.Fatalf("count at end got=%d err=%v", n, err)
	}
}

func TestFinishZeroFillsTrailingVariableBlocks(t *testing.T) {
	reg := testRegistry(t)
	out := NewOutMessage(mustTemplate(t, reg, "Tail"))
	must(t, out.AddU8(3))
	body, err := out.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if !bytes.Equal(out.Payload(), []byte{3, 0, 0}) {
		t.Fatalf("unexpected payload % x", out.Payload())
	}
	again, err := out.Finish()
	if err != nil || !bytes.Equal(again, body) {
		t.Fatalf("second finish should return the same body: err=%v", err)
	}
	if out.State() != OutFinished {
		t.Fatalf("expected finished state, got %s", out.State())
	}
	out.MarkSent(44)
	if out.State() != OutSent || out.Sequence() != 44 {
		t.Fatalf("mark sent: state=%s seq=%d", out.State(), out.Sequence())
	}
}

func TestEncodeMisuse(t *testing.T) {
	reg := testRegistry(t)

	out := NewOutMessage(mustTemplate(t, reg, "Tail"))
	if err := out.SetVariableBlockCount(1); !errors.Is(err, ErrNotVariableBlock) {
		t.Fatalf("expected ErrNotVariableBlock, got %v", err)
	}
	if err := out.AddU16(1); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	var mismatch *TypeMismatchError
	if err := out.AddS8(1); !errors.As(err, &mismatch) || mismatch.Declared != template.TypeU8 {
		t.Fatalf("expected TypeMismatchError on U8, got %v", err)
	}
	must(t, out.AddU8(1))
	if err := out.AddU8(2); !errors.Is(err, ErrBlockCountRequired) {
		t.Fatalf("expected ErrBlockCountRequired, got %v", err)
	}
	if err := out.SetVariableBlockCount(256); !errors.Is(err, ErrBlockCountRange) {
		t.Fatalf("expected ErrBlockCountRange, got %v", err)
	}
	must(t, out.SetVariableBlockCount(2))
	if err := out.SetVariableBlockCount(2); !errors.Is(err, ErrBlockCountAlreadySet) {
		t.Fatalf("expected ErrBlockCountAlreadySet, got %v", err)
	}
	must(t, out.AddU8(2))
	if _, err := out.Finish(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	must(t, out.AddU8(3))
	if _, err := out.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := out.AddU16(1); !errors.Is(err, ErrAlreadyFinished) {
		t.Fatalf("expected ErrAlreadyFinished, got %v", err)
	}
	if err := out.SetVariableBlockCount(0); !errors.Is(err, ErrAlreadyFinished) {
		t.Fatalf("expected ErrAlreadyFinished, got %v", err)
	}

	all := NewOutMessage(mustTemplate(t, reg, "AllTypes"))
	for i := 0; i < 20; i++ {
		all.cur.advance(all.tmpl)
	}
	must(t, all.SetVariableBlockCount(1))
	if err := all.AddBuffer(make([]byte, 256)); !errors.Is(err, ErrBufferTooLarge) {
		t.Fatalf("expected ErrBufferTooLarge for Variable1, got %v", err)
	}
	must(t, all.AddBuffer(make([]byte, 255)))
	if err := all.AddBuffer(make([]byte, 0x10000)); !errors.Is(err, ErrBufferTooLarge) {
		t.Fatalf("expected ErrBufferTooLarge for Variable2, got %v", err)
	}
	must(t, all.AddBuffer(make([]byte, 0xFFFF)))
	if err := all.AddU8(1); !errors.Is(err, ErrMessageComplete) {
		t.Fatalf("expected ErrMessageComplete, got %v", err)
	}
}

func TestReadFailuresLeaveCursor(t *testing.T) {
	reg := testRegistry(t)
	tmpl := mustTemplate(t, reg, "Tail")

	in := NewInMessage(tmpl, 1, 0, []byte{})
	if _, err := in.ReadU8(); !errors.Is(err, ErrBufferUnderrun) || !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrBufferUnderrun, got %v", err)
	}
	if in.Offset() != 0 || in.CurrentBlock() != 0 {
		t.Fatalf("failed read moved cursor")
	}
	if _, err := in.ReadU16(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}

	in = NewInMessage(tmpl, 1, 0, []byte{1, 1})
	_, _ = in.ReadU8()
	if _, err := in.ReadCurrentBlockInstanceCount(); err != nil {
		t.Fatalf("count: %v", err)
	}
	offset := in.Offset()
	if _, err := in.ReadU8(); !errors.Is(err, ErrBufferUnderrun) {
		t.Fatalf("expected ErrBufferUnderrun, got %v", err)
	}
	if in.Offset() != offset || in.CurrentInstance() != 0 {
		t.Fatalf("failed read moved cursor")
	}
	if err := in.SkipToNextVariable(); !errors.Is(err, ErrBufferUnderrun) {
		t.Fatalf("expected skip underrun, got %v", err)
	}
	if in.Offset() != offset {
		t.Fatalf("failed skip moved cursor")
	}
}

func TestReadBoolRejectsOutOfRange(t *testing.T) {
	reg := testRegistry(t)
	tmpl := mustTemplate(t, reg, "AllTypes")
	in := NewInMessage(tmpl, 1, 0, make([]byte, 200))
	if err := in.SkipToFirstVariableByName("Flag"); err != nil {
		t.Fatalf("skip: %v", err)
	}
	offset := in.Offset()
	in.data[offset] = 2
	if _, err := in.ReadBool(); !errors.Is(err, ErrBadBool) || !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrBadBool, got %v", err)
	}
	if in.Offset() != offset {
		t.Fatalf("bad bool moved cursor")
	}
	in.data[offset] = 0
	if v, err := in.ReadBool(); err != nil || v {
		t.Fatalf("bool got=%v err=%v", v, err)
	}
}

func TestDecodeUnknownAndMalformedID(t *testing.T) {
	reg := testRegistry(t)
	if _, err := Decode(reg, 1, 0, []byte{0xFF, 0xFF, 0x7F, 0x00}); !errors.Is(err, template.ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
	if _, err := Decode(reg, 1, 0, []byte{0xFF}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestSnapshotOpenAndDump(t *testing.T) {
	testlog.Start(t)
	reg := testRegistry(t)
	out := buildAllTypes(t, reg)
	body, err := out.Finish()
	must(t, err)
	out.MarkSent(12)
	snap := out.Snapshot()
	if snap.Sequence != 12 || snap.Name != "AllTypes" || snap.ID != 0xFFFF01F4 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	in, err := snap.Open(reg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := in.ReadU8(); err != nil {
		t.Fatalf("read from snapshot: %v", err)
	}
	in.data[0] = 0
	if snap.Payload[0] != 200 {
		t.Fatalf("snapshot payload was aliased")
	}

	decoded, err := Decode(reg, 12, out.Flags(), body)
	must(t, err)
	_, _ = decoded.ReadU8()
	d, err := Dump(decoded)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if decoded.Offset() != 1 {
		t.Fatalf("dump disturbed the cursor: %d", decoded.Offset())
	}
	if len(d.Variables) != 24 {
		t.Fatalf("expected 24 dumped variables, got %d", len(d.Variables))
	}
	if d.Variables[0].Value != "200" || d.Variables[16].Value != "10.1.2.3" || d.Variables[17].Value != "9000" {
		t.Fatalf("unexpected dump values: %+v", d.Variables[:18])
	}
	if d.Variables[20].Value != `"alpha"` || d.Variables[20].Count != 2 {
		t.Fatalf("unexpected variable block dump: %+v", d.Variables[20])
	}
	if !strings.Contains(d.String(), "Items[1/2]") {
		t.Fatalf("rendered dump missing instance header:\n%s", d.String())
	}
}

func TestDumpReportsMalformed(t *testing.T) {
	reg := testRegistry(t)
	tmpl := mustTemplate(t, reg, "Tail")

	d, err := Dump(NewInMessage(tmpl, 3, 0, []byte{7, 1}))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for truncated payload, got %v", err)
	}
	if len(d.Variables) != 1 || d.Variables[0].Value != "7" {
		t.Fatalf("expected partial dump, got %+v", d.Variables)
	}

	_, err = Dump(NewInMessage(tmpl, 3, 0, []byte{7, 0, 0, 9}))
	if !errors.Is(err, ErrTrailingBytes) {
		t.Fatalf("expected ErrTrailingBytes, got %v", err)
	}
}
