// Package intent holds the server's per-peer recorded decision (port,
// protocol) and its bounded connection counter. The map is a sync.Map
// keyed by NodeIdentity: inserts and removes are per-key, reads
// during stream accept are lock-free.
package intent

import (
	"sync"
	"sync/atomic"

	"github.com/cestef/punch/internal/identity"
	"github.com/cestef/punch/internal/wire"
)

// PeerIntent is the server's recorded decision for one peer: which
// local port to bridge to, and over which protocol.
type PeerIntent struct {
	Port     uint16
	Protocol wire.Protocol
}

// Table tracks at most one PeerIntent per NodeIdentity and the number
// of sessions currently being handled.
type Table struct {
	intents sync.Map // identity.NodeIdentity -> PeerIntent
	active  int64
	max     int64
}

func NewTable(maxConnections int) *Table {
	return &Table{max: int64(maxConnections)}
}

// TryAcquire increments the active-connection count if doing so would
// not exceed max, returning whether it succeeded. The caller must
// call Release on every exit path once TryAcquire returns true.
func (t *Table) TryAcquire() bool {
	for {
		cur := atomic.LoadInt64(&t.active)
		if t.max > 0 && cur >= t.max {
			return false
		}
		if atomic.CompareAndSwapInt64(&t.active, cur, cur+1) {
			return true
		}
	}
}

func (t *Table) Release() {
	atomic.AddInt64(&t.active, -1)
}

func (t *Table) Active() int {
	return int(atomic.LoadInt64(&t.active))
}

// Record stores the intent for id, replacing any prior intent for the
// same identity: at most one PeerIntent exists per identity, and a
// new session atomically replaces the old entry.
func (t *Table) Record(id identity.NodeIdentity, pi PeerIntent) {
	t.intents.Store(id, pi)
}

// Remove deletes the intent for id. Safe to call even if no intent is
// recorded.
func (t *Table) Remove(id identity.NodeIdentity) {
	t.intents.Delete(id)
}

// Lookup returns the currently recorded intent for id, if any.
func (t *Table) Lookup(id identity.NodeIdentity) (PeerIntent, bool) {
	v, ok := t.intents.Load(id)
	if !ok {
		return PeerIntent{}, false
	}
	return v.(PeerIntent), true
}
