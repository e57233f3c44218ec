// Package correlate matches responses arriving on the stream to the requests
// waiting for them, keyed by request id.
package correlate

import (
	"sync"

	"github.com/probelabs/mcpscout/transport"
)

// Registry is the pending-response store behind send-and-wait.
//
// The listener calls Complete for every envelope carrying an id. If a waiter
// registered that id, the envelope is handed over and forgotten; otherwise it
// is parked under the id until someone claims it. Parked entries nobody
// claims accumulate for the process lifetime — acceptable for a short-lived
// client, matching the store it replaces.
type Registry struct {
	mu      sync.Mutex
	waiters map[int64]chan *transport.Response
	parked  map[int64]*transport.Response
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		waiters: make(map[int64]chan *transport.Response),
		parked:  make(map[int64]*transport.Response),
	}
}

// Register announces interest in the response for id and returns the channel
// it will arrive on. If the response already parked, it is delivered
// immediately and removed. Registering an id twice replaces the old waiter;
// the stale channel never fires.
func (r *Registry) Register(id int64) <-chan *transport.Response {
	ch := make(chan *transport.Response, 1)

	r.mu.Lock()
	defer r.mu.Unlock()

	if resp, ok := r.parked[id]; ok {
		delete(r.parked, id)
		ch <- resp
		return ch
	}
	r.waiters[id] = ch
	return ch
}

// Complete records the response for id: delivered to the waiter when one is
// registered, parked otherwise. A parked entry with the same id is
// overwritten; stale data never shadows a fresh response.
func (r *Registry) Complete(id int64, resp *transport.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.waiters[id]; ok {
		delete(r.waiters, id)
		ch <- resp
		return
	}
	r.parked[id] = resp
}

// Cancel withdraws the waiter for id, if any. Called when a send times out;
// a response arriving afterwards parks instead of firing a dead channel.
func (r *Registry) Cancel(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, id)
}

// Parked reports whether an unclaimed response is held for id.
func (r *Registry) Parked(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.parked[id]
	return ok
}

// TakeParked removes and returns the unclaimed response for id, if any.
func (r *Registry) TakeParked(id int64) (*transport.Response, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.parked[id]
	if ok {
		delete(r.parked, id)
	}
	return resp, ok
}

// PendingWaiters returns the number of registered waiters.
func (r *Registry) PendingWaiters() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
