package core

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seojin-dev/classroom/internal/domain"
)

var ErrAlreadyRequested = errors.New("entry already requested")

// PendingEntry is one waiting-room request. A request lives until it is
// approved, the requester disconnects, or its deadline passes.
type PendingEntry struct {
	Room     domain.RoomKey
	ID       domain.ConnID
	Name     string
	Conn     SignalConnection
	Deadline time.Time
}

// Gate is the per-room waiting room. A connection moves
// none -> requested -> approved, or drops out of "requested" on
// disconnect or expiry. Approval only lifts the gate: the requester is
// still expected to join afterwards, which consumes the approval.
type Gate struct {
	mu       sync.Mutex
	pending  map[domain.ConnID]*PendingEntry
	approved map[domain.ConnID]domain.RoomKey
	ttl      time.Duration

	now func() time.Time // overridable in tests
}

// NewGate creates a gate whose requests expire after ttl.
// ttl <= 0 disables expiry.
func NewGate(ttl time.Duration) *Gate {
	return &Gate{
		pending:  make(map[domain.ConnID]*PendingEntry),
		approved: make(map[domain.ConnID]domain.RoomKey),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Request registers a pending entry. Valid only from the "none" state;
// a second request from the same connection is refused.
func (g *Gate) Request(key domain.RoomKey, id domain.ConnID, name string, conn SignalConnection) (*PendingEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.pending[id]; ok && !g.expired(e) {
		return nil, ErrAlreadyRequested
	}
	e := &PendingEntry{Room: key, ID: id, Name: name, Conn: conn}
	if g.ttl > 0 {
		e.Deadline = g.now().Add(g.ttl)
	}
	g.pending[id] = e
	log.Info().Str("module", "core.gate").Str("room", string(key)).Str("conn", string(id)).Msg("entry requested")
	return e, nil
}

// Approve moves a request to the approved state and hands back the entry
// so the adapter can notify the requester. Approving a connection with
// no live request is a no-op, so duplicate clicks are harmless.
func (g *Gate) Approve(key domain.RoomKey, id domain.ConnID) (*PendingEntry, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.pending[id]
	if !ok || e.Room != key || g.expired(e) {
		return nil, false
	}
	delete(g.pending, id)
	g.approved[id] = key
	log.Info().Str("module", "core.gate").Str("room", string(key)).Str("conn", string(id)).Msg("entry approved")
	return e, true
}

// ConsumeApproval checks and clears the approved state for a join into
// the named room.
func (g *Gate) ConsumeApproval(key domain.RoomKey, id domain.ConnID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.approved[id]
	if !ok || room != key {
		return false
	}
	delete(g.approved, id)
	return true
}

// Abandon drops any pending or approved state on disconnect. No
// notification is owed: the requester is gone.
func (g *Gate) Abandon(id domain.ConnID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, wasPending := g.pending[id]
	delete(g.pending, id)
	delete(g.approved, id)
	if wasPending {
		log.Info().Str("module", "core.gate").Str("conn", string(id)).Msg("entry abandoned")
	}
	return wasPending
}

// Expire evicts requests past their deadline and returns them so the
// sweep can tell each requester to ask again.
func (g *Gate) Expire() []*PendingEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*PendingEntry
	for id, e := range g.pending {
		if g.expired(e) {
			delete(g.pending, id)
			out = append(out, e)
			log.Info().Str("module", "core.gate").Str("room", string(e.Room)).Str("conn", string(id)).Msg("entry expired")
		}
	}
	return out
}

// Pending lists live requests for a room, oldest deadline first not
// guaranteed; callers display, they do not order on it.
func (g *Gate) Pending(key domain.RoomKey) []*PendingEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*PendingEntry
	for _, e := range g.pending {
		if e.Room == key && !g.expired(e) {
			out = append(out, e)
		}
	}
	return out
}

func (g *Gate) expired(e *PendingEntry) bool {
	return g.ttl > 0 && g.now().After(e.Deadline)
}
