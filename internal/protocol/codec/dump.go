package codec

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// VariableDump is one decoded variable of a MessageDump.
type VariableDump struct {
	Block      string `json:"block"`
	BlockIndex int    `json:"block_index"`
	Instance   int    `json:"instance"`
	Count      int    `json:"count"`
	Variable   string `json:"variable"`
	Type       string `json:"type"`
	Value      string `json:"value"`
	Raw        []byte `json:"-"`
	Hex        string `json:"hex"`
}

type MessageDump struct {
	Sequence  uint32         `json:"sequence"`
	ID        uint32         `json:"id"`
	Name      string         `json:"name"`
	Flags     string         `json:"flags"`
	Size      int            `json:"size"`
	Variables []VariableDump `json:"variables"`
}

// Dump walks m from the start without disturbing its cursor. On malformed
// data the variables decoded so far are returned with an error wrapping
// ErrMalformed.
func Dump(m *InMessage) (MessageDump, error) {
	d := MessageDump{
		Sequence: m.seq,
		ID:       m.tmpl.ID,
		Name:     m.tmpl.Name,
		Flags:    m.flags.String(),
		Size:     len(m.data),
	}
	w := *m
	w.ResetReading()
	for {
		if err := w.settle(); err != nil {
			return d, fmt.Errorf("codec: dump %s: %w", m.tmpl.Name, err)
		}
		if w.cur.atEnd {
			break
		}
		blk := w.tmpl.Blocks[w.cur.block]
		v := w.variable()
		raw, n, err := w.span()
		if err != nil {
			return d, fmt.Errorf("codec: dump %s: %w", m.tmpl.Name, err)
		}
		raw = append([]byte(nil), raw...)
		d.Variables = append(d.Variables, VariableDump{
			Block:      blk.Name,
			BlockIndex: w.cur.block,
			Instance:   w.cur.instance,
			Count:      w.cur.count,
			Variable:   v.Name,
			Type:       v.Type.String(),
			Value:      formatValue(v.Type, raw),
			Raw:        raw,
			Hex:        hex.EncodeToString(raw),
		})
		w.consume(n)
	}
	if w.cur.offset < len(w.data) {
		return d, fmt.Errorf("codec: dump %s: %w: %d bytes after last variable", m.tmpl.Name, ErrTrailingBytes, len(w.data)-w.cur.offset)
	}
	return d, nil
}

// String renders the dump one variable per line.
func (d MessageDump) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s id=0x%X seq=%d flags=%s size=%d\n", d.Name, d.ID, d.Sequence, d.Flags, d.Size)
	last := -1
	lastInstance := -1
	for _, v := range d.Variables {
		if v.BlockIndex != last || v.Instance != lastInstance {
			fmt.Fprintf(&sb, "  %s[%d/%d]\n", v.Block, v.Instance, v.Count)
			last, lastInstance = v.BlockIndex, v.Instance
		}
		fmt.Fprintf(&sb, "    %s %s = %s\n", v.Variable, v.Type, v.Value)
	}
	return sb.String()
}
