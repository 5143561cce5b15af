package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seojin-dev/classroom/internal/core"
	"github.com/seojin-dev/classroom/internal/domain"
)

var (
	ErrNotApproved   = errors.New("entry not approved")
	ErrNotPrivileged = errors.New("caller not privileged")
)

// Orchestrator ties the roster and the entry gate together and owns the
// flows that touch both. Adapters marshal frames; this layer never sees
// wire encoding.
type Orchestrator struct {
	Roster *core.Roster
	Gate   *core.Gate
	Policy Policy
}

// Join registers a participant and returns the members that were
// already present. A restricted participant must hold a consumed
// approval for exactly this room.
func (o *Orchestrator) Join(key domain.RoomKey, p domain.Participant, conn core.SignalConnection) ([]domain.Participant, error) {
	// Checked before the approval is consumed so a refused duplicate
	// join changes nothing. A connection's frames are handled one at a
	// time, so the check cannot race a concurrent join by the same id.
	if _, joined := o.Roster.RoomOf(p.ID); joined {
		return nil, core.ErrAlreadyJoined
	}
	if p.Role == domain.RoleRestricted && !o.Gate.ConsumeApproval(key, p.ID) {
		return nil, ErrNotApproved
	}
	return o.Roster.Join(key, p, conn)
}

// Disconnect runs synchronously with transport teardown so no frame is
// ever routed to a stale connection id. It clears gate state first: a
// requester that vanishes must not linger in any waiting list.
func (o *Orchestrator) Disconnect(id domain.ConnID) (domain.RoomKey, domain.Participant, bool) {
	o.Gate.Abandon(id)
	return o.Roster.Leave(id)
}

// RequestEntry places a restricted connection in the waiting room and
// returns the privileged members that should be shown the request.
func (o *Orchestrator) RequestEntry(key domain.RoomKey, id domain.ConnID, name string, conn core.SignalConnection) ([]core.Member, error) {
	if _, err := o.Gate.Request(key, id, name, conn); err != nil {
		return nil, err
	}
	var privileged []core.Member
	for _, m := range o.Roster.Members(key) {
		if m.Participant.Role == domain.RolePrivileged {
			privileged = append(privileged, m)
		}
	}
	// No privileged member present is fine: the request waits silently.
	return privileged, nil
}

// ApproveEntry lifts the gate for target. Authority is checked against
// the role the roster holds for the approver, never against anything
// client-asserted. Approving a connection with no pending request is a
// no-op.
func (o *Orchestrator) ApproveEntry(approver domain.ConnID, target domain.ConnID) (*core.PendingEntry, error) {
	m, ok := o.Roster.Member(approver)
	if !ok || m.Participant.Role != domain.RolePrivileged {
		return nil, ErrNotPrivileged
	}
	key, _ := o.Roster.RoomOf(approver)
	e, ok := o.Gate.Approve(key, target)
	if !ok {
		return nil, nil
	}
	return e, nil
}

// Relay delivers a frame to one live connection. A dead target is a
// silent drop: the sender has already seen, or is about to see, the
// matching participant-left notification.
func (o *Orchestrator) Relay(target domain.ConnID, data core.Frame) bool {
	m, ok := o.Roster.Member(target)
	if !ok {
		log.Debug().Str("module", "app").Str("target", string(target)).Msg("relay dropped, target gone")
		return false
	}
	if err := m.Conn.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "app").Str("target", string(target)).Msg("relay send failed")
		return false
	}
	return true
}

// Broadcast fans a frame out to everyone else in the sender's room and
// applies the backpressure policy to members that could not keep up.
func (o *Orchestrator) Broadcast(from domain.ConnID, data core.Frame) {
	key, ok := o.Roster.RoomOf(from)
	if !ok {
		return
	}
	o.BroadcastRoom(key, from, data)
}

// BroadcastRoom is Broadcast for callers that already resolved the room.
func (o *Orchestrator) BroadcastRoom(key domain.RoomKey, from domain.ConnID, data core.Frame) {
	res := o.Roster.Broadcast(key, from, data)
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(slow) {
		case KickMember:
			log.Warn().Str("module", "app").Str("conn", string(slow.Participant.ID)).Msg("kicking slow member")
			// Closing the transport makes the adapter run the normal
			// disconnect flow, which keeps the roster consistent.
			slow.Conn.Close()
		case DropFrame, NoAction:
		}
	}
}

// RunGateSweep evicts expired entry requests until ctx is done. The
// notify callback tells each expired requester to ask again.
func (o *Orchestrator) RunGateSweep(ctx context.Context, every time.Duration, notify func(*core.PendingEntry)) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, e := range o.Gate.Expire() {
				if notify != nil {
					notify(e)
				}
			}
		}
	}
}
