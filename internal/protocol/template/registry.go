package template

import (
	"fmt"
	"sort"
	"strings"

	logs "github.com/danmuck/simcircuit/internal/logging"
)

// Registry resolves message templates by wire id and by name.
type Registry struct {
	byID   map[uint32]*Message
	byName map[string]*Message
	order  []*Message
}

// NewRegistry validates msgs and indexes them. Any failure is a SchemaError and
// callers are expected to abort startup.
func NewRegistry(msgs []Message) (*Registry, error) {
	r := &Registry{
		byID:   make(map[uint32]*Message, len(msgs)),
		byName: make(map[string]*Message, len(msgs)),
		order:  make([]*Message, 0, len(msgs)),
	}
	for i := range msgs {
		m := cloneMessage(msgs[i])
		if err := validateMessage(m); err != nil {
			logs.Errf("template.NewRegistry invalid message=%q err=%v", m.Name, err)
			return nil, err
		}
		if prev, ok := r.byID[m.ID]; ok {
			return nil, &Error{
				Err:     ErrDuplicateID,
				Message: m.Name,
				Reason:  fmt.Sprintf("id 0x%X already used by %s", m.ID, prev.Name),
			}
		}
		if _, ok := r.byName[m.Name]; ok {
			return nil, &Error{Err: ErrDuplicateID, Message: m.Name, Reason: "name already defined"}
		}
		r.byID[m.ID] = m
		r.byName[m.Name] = m
		r.order = append(r.order, m)
	}
	sort.Slice(r.order, func(i, j int) bool { return r.order[i].ID < r.order[j].ID })
	logs.Debugf("template.NewRegistry ok messages=%d", len(r.order))
	return r, nil
}

// LookupByID never panics; ids from a mismatched peer simply miss.
func (r *Registry) LookupByID(id uint32) (*Message, error) {
	if r != nil {
		if m, ok := r.byID[id]; ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: id=0x%X", ErrUnknownMessage, id)
}

func (r *Registry) LookupByName(name string) (*Message, error) {
	if r != nil {
		if m, ok := r.byName[strings.TrimSpace(name)]; ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: name=%q", ErrUnknownMessage, name)
}

// Messages returns the templates ordered by wire id.
func (r *Registry) Messages() []*Message {
	out := make([]*Message, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Len() int {
	return len(r.order)
}

func validateMessage(m *Message) error {
	if strings.TrimSpace(m.Name) == "" {
		return malformed(0, "", "missing message name")
	}
	id, err := WireID(m.Frequency, m.Number)
	if err != nil {
		return malformed(0, m.Name, "%v", err)
	}
	if m.ID == 0 {
		m.ID = id
	} else if m.ID != id {
		return malformed(0, m.Name, "id 0x%X does not match %s %d", m.ID, m.Frequency, m.Number)
	}
	seen := make(map[string]struct{}, len(m.Blocks))
	for _, b := range m.Blocks {
		if strings.TrimSpace(b.Name) == "" {
			return malformed(0, m.Name, "block without name")
		}
		if _, dup := seen[b.Name]; dup {
			return malformed(0, m.Name, "duplicate block %q", b.Name)
		}
		seen[b.Name] = struct{}{}
		switch b.Repeat {
		case RepeatSingle, RepeatVariable:
		case RepeatMultiple:
			if b.Count < 1 || b.Count > 0xFF {
				return malformed(0, m.Name, "block %q multiple count %d out of range", b.Name, b.Count)
			}
		default:
			return malformed(0, m.Name, "block %q has invalid repeat kind", b.Name)
		}
		if len(b.Variables) == 0 {
			return malformed(0, m.Name, "block %q has no variables", b.Name)
		}
		for _, v := range b.Variables {
			if !v.Valid() {
				return malformed(0, m.Name, "block %q variable %q has invalid type", b.Name, v.Name)
			}
			if v.Type == TypeFixed && v.Size <= 0 {
				return malformed(0, m.Name, "block %q fixed variable %q needs a size", b.Name, v.Name)
			}
		}
	}
	return nil
}

func cloneMessage(in Message) *Message {
	out := in
	out.Blocks = make([]Block, len(in.Blocks))
	for i, b := range in.Blocks {
		nb := b
		if b.Repeat == RepeatSingle {
			nb.Count = 1
		}
		nb.Variables = append([]Variable(nil), b.Variables...)
		out.Blocks[i] = nb
	}
	return &out
}
