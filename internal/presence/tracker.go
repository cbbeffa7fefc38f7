// Package presence tracks which identities have a live connection. State is
// purely in memory; durable last-seen timestamps are written back by the
// subscriber the server installs, not by the tracker itself.
package presence

import (
	"sync"
	"time"
)

// Event reports one presence flip.
type Event struct {
	Address string
	Online  bool
	At      time.Time
}

// Subscriber receives presence events after the tracker state has changed.
// Callbacks run on the caller's goroutine; keep them fast.
type Subscriber func(Event)

type binding struct {
	handle string
	since  time.Time
}

// Tracker maps canonical addresses to their one authoritative connection
// handle. A new bind supersedes the previous handle for the same address; the
// superseded handle's later unbind is recognized as stale and ignored so it
// cannot flip the address offline while the newer connection lives.
type Tracker struct {
	mu       sync.RWMutex
	bindings map[string]binding
	subs     []Subscriber
}

func NewTracker() *Tracker {
	return &Tracker{bindings: make(map[string]binding)}
}

// Subscribe registers a callback for presence flips. Not safe to call after
// binds begin; the server wires all subscribers at startup.
func (t *Tracker) Subscribe(fn Subscriber) {
	t.subs = append(t.subs, fn)
}

// Bind records handle as authoritative for address and reports whether the
// address just came online (false when this bind merely superseded an
// existing connection).
func (t *Tracker) Bind(address, handle string, at time.Time) bool {
	t.mu.Lock()
	_, existed := t.bindings[address]
	t.bindings[address] = binding{handle: handle, since: at}
	t.mu.Unlock()

	if !existed {
		t.emit(Event{Address: address, Online: true, At: at})
	}
	return !existed
}

// Unbind removes the binding if handle is still the authoritative one and
// reports whether the address went offline. A stale handle (superseded by a
// newer bind) is a no-op.
func (t *Tracker) Unbind(address, handle string, at time.Time) bool {
	t.mu.Lock()
	b, ok := t.bindings[address]
	if !ok || b.handle != handle {
		t.mu.Unlock()
		return false
	}
	delete(t.bindings, address)
	t.mu.Unlock()

	t.emit(Event{Address: address, Online: false, At: at})
	return true
}

func (t *Tracker) IsOnline(address string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.bindings[address]
	return ok
}

// ActiveHandle returns the authoritative handle for address, if any.
func (t *Tracker) ActiveHandle(address string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.bindings[address]
	return b.handle, ok
}

// Online returns a snapshot of all online addresses.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.bindings))
	for addr := range t.bindings {
		out = append(out, addr)
	}
	return out
}

func (t *Tracker) emit(e Event) {
	for _, fn := range t.subs {
		fn(e)
	}
}
