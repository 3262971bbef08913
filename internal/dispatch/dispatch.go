package dispatch

import (
	"fmt"
	"sort"
	"time"

	logs "github.com/danmuck/simcircuit/internal/logging"
	"github.com/danmuck/simcircuit/internal/observability"
	"github.com/danmuck/simcircuit/internal/protocol/codec"
	"github.com/danmuck/simcircuit/internal/protocol/template"
)

// Listener handles a message and reports whether it consumed it.
type Listener interface {
	Handle(msg *codec.InMessage) bool
}

type ListenerFunc func(msg *codec.InMessage) bool

func (f ListenerFunc) Handle(msg *codec.InMessage) bool {
	return f(msg)
}

type routeKind uint8

const (
	routeAny routeKind = iota
	routeID
	routeCategory
)

// Route selects which messages a listener sees.
type Route struct {
	kind     routeKind
	id       uint32
	category string
}

func ByID(id uint32) Route {
	return Route{kind: routeID, id: id}
}

func ByCategory(category string) Route {
	return Route{kind: routeCategory, category: category}
}

func Any() Route {
	return Route{kind: routeAny}
}

// ByName resolves a message name to an id route.
func ByName(reg *template.Registry, name string) (Route, error) {
	tmpl, err := reg.LookupByName(name)
	if err != nil {
		return Route{}, err
	}
	return ByID(tmpl.ID), nil
}

func (r Route) String() string {
	switch r.kind {
	case routeID:
		return fmt.Sprintf("id=0x%X", r.id)
	case routeCategory:
		return "category=" + r.category
	default:
		return "any"
	}
}

// Handle identifies one registration.
type Handle uint64

type entry struct {
	handle   Handle
	route    Route
	priority int
	listener Listener
}

type Dispatcher struct {
	entries    []entry
	categories map[string]map[uint32]struct{}
	next       Handle
	dispatched uint64
	unhandled  uint64
}

func New() *Dispatcher {
	return &Dispatcher{categories: make(map[string]map[uint32]struct{})}
}

// Categorize adds message ids to a named category.
func (d *Dispatcher) Categorize(category string, ids ...uint32) {
	set, ok := d.categories[category]
	if !ok {
		set = make(map[uint32]struct{}, len(ids))
		d.categories[category] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

// Register adds l for route. Higher priorities run first; equal priorities
// run in registration order.
func (d *Dispatcher) Register(route Route, priority int, l Listener) Handle {
	d.next++
	d.entries = append(d.entries, entry{handle: d.next, route: route, priority: priority, listener: l})
	sort.SliceStable(d.entries, func(i, j int) bool {
		return d.entries[i].priority > d.entries[j].priority
	})
	logs.Debugf("dispatch.Dispatcher.Register handle=%d route=%s priority=%d", d.next, route, priority)
	return d.next
}

// Unregister removes one registration and reports whether it existed.
func (d *Dispatcher) Unregister(h Handle) bool {
	for i := range d.entries {
		if d.entries[i].handle == h {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (d *Dispatcher) UnregisterAll() {
	d.entries = nil
}

func (d *Dispatcher) Len() int {
	return len(d.entries)
}

// Counts returns how many messages were offered and how many went unhandled.
func (d *Dispatcher) Counts() (dispatched, unhandled uint64) {
	return d.dispatched, d.unhandled
}

// Dispatch offers msg to matching listeners until one handles it. The read
// cursor is reset before each listener.
func (d *Dispatcher) Dispatch(msg *codec.InMessage) bool {
	d.dispatched++
	start := time.Now()
	matched := d.matching(msg.ID())
	for _, l := range matched {
		msg.ResetReading()
		if l.Handle(msg) {
			observability.RecordDispatch(msg.Name(), time.Since(start))
			return true
		}
	}
	d.unhandled++
	observability.RecordUnhandled(msg.Name())
	logs.Debugf("dispatch.Dispatcher.Dispatch unhandled message=%s seq=%d listeners=%d", msg.Name(), msg.Sequence(), len(matched))
	return false
}

// matching snapshots the listeners for id so registrations made by a listener
// take effect from the next message.
func (d *Dispatcher) matching(id uint32) []Listener {
	var out []Listener
	for _, e := range d.entries {
		if d.matches(e.route, id) {
			out = append(out, e.listener)
		}
	}
	return out
}

func (d *Dispatcher) matches(r Route, id uint32) bool {
	switch r.kind {
	case routeAny:
		return true
	case routeID:
		return r.id == id
	case routeCategory:
		_, ok := d.categories[r.category][id]
		return ok
	default:
		return false
	}
}
