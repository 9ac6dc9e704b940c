// Package registry maps front-end requesters to their automation sessions.
// At most one entry exists per requester; entries are registered before
// session initialization completes so an in-flight create can be cancelled.
package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/wheelhouse-dev/wheelhouse/pkg/automation"
)

// RequesterID identifies a front-end window/channel. It is stable for the
// window's lifetime and unique only among currently-live requesters.
type RequesterID string

// Entry holds one requester's session adapter plus its creation parameters.
// ID is a broker-local identifier used to correlate log lines; it is distinct
// from the remote session id assigned by the automation server. cancel aborts
// the entry's in-flight initialization, if any.
type Entry struct {
	ID        string
	Requester RequesterID
	Session   automation.Session
	Request   automation.SessionRequest

	cancel context.CancelFunc
}

// Cancel signals the entry's initialization context. Safe on entries whose
// init already finished.
func (e *Entry) Cancel() {
	if e != nil && e.cancel != nil {
		e.cancel()
	}
}

// Registry is a mutex-guarded requester → session map.
type Registry struct {
	mu      sync.Mutex
	entries map[RequesterID]*Entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[RequesterID]*Entry)}
}

// Register stores an entry for a requester and returns the displaced entry,
// if one existed. The caller owns the displaced entry's teardown.
func (r *Registry) Register(requester RequesterID, session automation.Session, req automation.SessionRequest, cancel context.CancelFunc) (*Entry, *Entry) {
	entry := &Entry{
		ID:        uuid.NewString(),
		Requester: requester,
		Session:   session,
		Request:   req,
		cancel:    cancel,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	previous := r.entries[requester]
	r.entries[requester] = entry
	return entry, previous
}

// Get returns the entry for a requester.
func (r *Registry) Get(requester RequesterID) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[requester]
	return entry, ok
}

// Remove deletes and returns the entry for a requester. Returns nil when no
// entry exists.
func (r *Registry) Remove(requester RequesterID) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.entries[requester]
	delete(r.entries, requester)
	return entry
}

// RemoveEntry deletes the mapping only if it still points at entry. Returns
// true when the entry was removed. This keeps a slow initialization from
// tearing down a replacement session registered after it.
func (r *Registry) RemoveEntry(requester RequesterID, entry *Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.entries[requester]
	if !ok || current != entry {
		return false
	}
	delete(r.entries, requester)
	return true
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// All returns a snapshot of the live entries.
func (r *Registry) All() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	return out
}
