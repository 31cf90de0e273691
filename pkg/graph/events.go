package graph

import "sync"

// EventType tags a store change event. The rendering layer switches on
// this single enum instead of registering per-event listeners.
type EventType uint8

const (
	EventNodeAdded EventType = iota
	EventNodeUpdated
	EventNodeRemoved
	EventEdgeAdded
	EventEdgeRemoved
	EventReset
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	switch t {
	case EventNodeAdded:
		return "node_added"
	case EventNodeUpdated:
		return "node_updated"
	case EventNodeRemoved:
		return "node_removed"
	case EventEdgeAdded:
		return "edge_added"
	case EventEdgeRemoved:
		return "edge_removed"
	case EventReset:
		return "reset"
	}
	return "unknown"
}

// Event is one store mutation. Node is set for node events, Edge for edge
// events; both are zero for EventReset. Events carry values, not pointers
// into store internals, so subscribers can hold them across blocking calls.
type Event struct {
	Type EventType
	Node Node
	Edge Edge
}

// Subscription is a registered event receiver. Events are delivered on C;
// a subscriber that falls behind loses events (Dropped counts them) rather
// than blocking store mutations.
type Subscription struct {
	C chan Event

	store   *Store
	id      int
	dropped uint64
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.store.unsubscribe(s.id)
}

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	d := &s.store.dispatch
	d.mu.Lock()
	defer d.mu.Unlock()
	return s.dropped
}

// dispatcher fans store events out to subscribers. Guarded by the store
// mutex, so emits are strictly ordered with the mutations they describe.
type dispatcher struct {
	subs   map[int]*Subscription
	nextID int
	mu     sync.Mutex
}

func (d *dispatcher) subscribe(s *Store, buffer int) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.subs == nil {
		d.subs = make(map[int]*Subscription)
	}
	sub := &Subscription{
		C:     make(chan Event, buffer),
		store: s,
		id:    d.nextID,
	}
	d.subs[d.nextID] = sub
	d.nextID++
	return sub
}

func (d *dispatcher) unsubscribe(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sub, ok := d.subs[id]; ok {
		delete(d.subs, id)
		close(sub.C)
	}
}

func (d *dispatcher) emit(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sub := range d.subs {
		select {
		case sub.C <- ev:
		default:
			sub.dropped++
		}
	}
}
