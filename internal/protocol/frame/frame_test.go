package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := Packet{
		Flags:    FlagReliable,
		Sequence: 0x01020304,
		Extra:    []byte{0xAA, 0xBB},
		Body:     []byte{0x01, 0x10, 0x20},
		Acks:     []uint32{7, 0xDEADBEEF},
	}
	b, err := Encode(in, DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{
		0x0A, 0x01, 0x02, 0x03, 0x04, 0x02, 0xAA, 0xBB,
		0x01, 0x10, 0x20,
		0x00, 0x00, 0x00, 0x07, 0xDE, 0xAD, 0xBE, 0xEF, 0x02,
	}
	if !bytes.Equal(b, want) {
		t.Fatalf("wire mismatch:\n got=% x\nwant=% x", b, want)
	}
	out, err := Decode(b, DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Sequence != in.Sequence || !out.Flags.Has(FlagReliable|FlagAckPresent) {
		t.Fatalf("header mismatch: %+v", out)
	}
	if !bytes.Equal(out.Extra, in.Extra) || !bytes.Equal(out.Body, in.Body) {
		t.Fatalf("content mismatch: %+v", out)
	}
	if len(out.Acks) != 2 || out.Acks[0] != 7 || out.Acks[1] != 0xDEADBEEF {
		t.Fatalf("acks mismatch: %v", out.Acks)
	}
}

func TestEncodeClearsStaleAckFlag(t *testing.T) {
	b, err := Encode(Packet{Flags: FlagAckPresent, Sequence: 1, Body: []byte{1}}, DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if Flags(b[0]).Has(FlagAckPresent) {
		t.Fatalf("ack flag should follow the ack list")
	}
	if len(b) != HeaderLen+1 {
		t.Fatalf("unexpected datagram length %d", len(b))
	}
}

func TestZeroCodedOnlyWhenSmaller(t *testing.T) {
	body := append([]byte{0xFF, 0xFF, 0x00, 0x50}, make([]byte, 32)...)
	b, err := Encode(Packet{Flags: FlagZeroCoded, Sequence: 9, Body: body}, DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !Flags(b[0]).Has(FlagZeroCoded) {
		t.Fatalf("expected zerocoded flag for a zero-heavy body")
	}
	if len(b) >= HeaderLen+len(body) {
		t.Fatalf("zerocoded datagram not smaller: %d", len(b))
	}
	out, err := Decode(b, DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(out.Body, body) {
		t.Fatalf("body mismatch after zero decode")
	}

	dense := []byte{0x01, 0x00, 0x02}
	b, err = Encode(Packet{Flags: FlagZeroCoded, Sequence: 10, Body: dense}, DefaultLimits())
	if err != nil {
		t.Fatalf("encode dense: %v", err)
	}
	if Flags(b[0]).Has(FlagZeroCoded) {
		t.Fatalf("zerocoded flag kept although encoding did not shrink")
	}
	if !bytes.Equal(b[HeaderLen:], dense) {
		t.Fatalf("dense body should be sent verbatim: % x", b[HeaderLen:])
	}
}

func TestZeroCodeRuns(t *testing.T) {
	src := append(append([]byte{7}, make([]byte, 300)...), 8)
	enc := ZeroEncode(src)
	want := []byte{7, 0x00, 0xFF, 0x00, 45, 8}
	if !bytes.Equal(enc, want) {
		t.Fatalf("encode got=% x want=% x", enc, want)
	}
	dec, err := ZeroDecode(enc, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(dec, src) {
		t.Fatalf("round trip mismatch")
	}
	if _, err := ZeroDecode([]byte{1, 0x00}, 0); !errors.Is(err, ErrBadZeroCode) {
		t.Fatalf("expected ErrBadZeroCode for dangling run, got %v", err)
	}
	if _, err := ZeroDecode([]byte{0x00, 0x00}, 0); !errors.Is(err, ErrBadZeroCode) {
		t.Fatalf("expected ErrBadZeroCode for empty run, got %v", err)
	}
	if _, err := ZeroDecode([]byte{0x00, 0xFF, 0x00, 0xFF}, 300); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want error
	}{
		{"short", []byte{0, 0, 0, 1}, ErrShortHeader},
		{"extra overrun", []byte{0, 0, 0, 0, 1, 9, 1, 2}, ErrExtraOverrun},
		{"ack overrun", []byte{byte(FlagAckPresent), 0, 0, 0, 1, 0, 1, 0, 0, 0, 2, 3}, ErrAckOverrun},
		{"ack without body", []byte{byte(FlagAckPresent), 0, 0, 0, 1, 0}, ErrAckOverrun},
		{"empty body", []byte{0, 0, 0, 0, 1, 0}, ErrEmptyBody},
		{"bad zerocode", []byte{byte(FlagZeroCoded), 0, 0, 0, 1, 0, 5, 0x00}, ErrBadZeroCode},
	}
	for _, tc := range cases {
		_, err := Decode(tc.in, DefaultLimits())
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed wrapper, got %v", tc.name, err)
		}
	}
	big := make([]byte, 20)
	if _, err := Decode(big, Limits{MaxDatagramBytes: 10}); !errors.Is(err, ErrDatagramTooLarge) {
		t.Fatalf("expected ErrDatagramTooLarge, got %v", err)
	}
}

func TestEncodeLimits(t *testing.T) {
	if _, err := Encode(Packet{Body: []byte{1}, Acks: make([]uint32, 256)}, DefaultLimits()); !errors.Is(err, ErrTooManyAcks) {
		t.Fatalf("expected ErrTooManyAcks, got %v", err)
	}
	if _, err := Encode(Packet{Body: []byte{1}, Extra: make([]byte, 256)}, DefaultLimits()); !errors.Is(err, ErrExtraTooLarge) {
		t.Fatalf("expected ErrExtraTooLarge, got %v", err)
	}
	if _, err := Encode(Packet{Body: bytes.Repeat([]byte{1}, 64)}, Limits{MaxDatagramBytes: 32}); !errors.Is(err, ErrDatagramTooLarge) {
		t.Fatalf("expected ErrDatagramTooLarge, got %v", err)
	}
}

func TestMessageIDWidths(t *testing.T) {
	cases := []struct {
		id    uint32
		width int
		wire  []byte
	}{
		{0x01, 1, []byte{0x01}},
		{0xFE, 1, []byte{0xFE}},
		{0xFF07, 2, []byte{0xFF, 0x07}},
		{0xFFFF0050, 4, []byte{0xFF, 0xFF, 0x00, 0x50}},
		{0xFFFFFFFB, 4, []byte{0xFF, 0xFF, 0xFF, 0xFB}},
	}
	for _, tc := range cases {
		wire, err := EncodeMessageID(tc.id, tc.width)
		if err != nil {
			t.Fatalf("encode 0x%X: %v", tc.id, err)
		}
		if !bytes.Equal(wire, tc.wire) {
			t.Fatalf("encode 0x%X got=% x want=% x", tc.id, wire, tc.wire)
		}
		id, width, err := DecodeMessageID(append(wire, 0x99))
		if err != nil {
			t.Fatalf("decode 0x%X: %v", tc.id, err)
		}
		if id != tc.id || width != tc.width {
			t.Fatalf("decode got (0x%X,%d) want (0x%X,%d)", id, width, tc.id, tc.width)
		}
	}
	if _, _, err := DecodeMessageID([]byte{0xFF, 0xFF, 0x00}); !errors.Is(err, ErrBadMessageID) {
		t.Fatalf("expected ErrBadMessageID for truncated low id, got %v", err)
	}
	if _, err := EncodeMessageID(0xFFFF0050, 1); err == nil {
		t.Fatalf("expected width mismatch error")
	}
}

func TestSetResent(t *testing.T) {
	b, err := Encode(Packet{Flags: FlagReliable, Sequence: 3, Body: []byte{1}}, DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	SetResent(b)
	p, err := Decode(b, DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !p.Flags.Has(FlagResent | FlagReliable) {
		t.Fatalf("expected resent and reliable, got %s", p.Flags)
	}
}
