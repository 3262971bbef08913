package codec

import (
	"time"

	"github.com/danmuck/simcircuit/internal/protocol/frame"
	"github.com/danmuck/simcircuit/internal/protocol/template"
)

// Snapshot is an immutable copy of a message taken for the debug history.
type Snapshot struct {
	Sequence uint32
	ID       uint32
	Name     string
	Flags    frame.Flags
	Payload  []byte
	At       time.Time
}

func (m *InMessage) Snapshot() Snapshot {
	return Snapshot{
		Sequence: m.seq,
		ID:       m.tmpl.ID,
		Name:     m.tmpl.Name,
		Flags:    m.flags,
		Payload:  m.Payload(),
		At:       m.received,
	}
}

// Snapshot copies the message as written so far. After MarkSent it carries
// the assigned sequence number.
func (m *OutMessage) Snapshot() Snapshot {
	return Snapshot{
		Sequence: m.seq,
		ID:       m.tmpl.ID,
		Name:     m.tmpl.Name,
		Flags:    m.Flags(),
		Payload:  m.Payload(),
		At:       time.Now(),
	}
}

// Open re-decodes the snapshot. The returned message reads a private copy.
func (s Snapshot) Open(reg *template.Registry) (*InMessage, error) {
	tmpl, err := reg.LookupByID(s.ID)
	if err != nil {
		return nil, err
	}
	m := NewInMessage(tmpl, s.Sequence, s.Flags, append([]byte(nil), s.Payload...))
	m.received = s.At
	return m, nil
}
