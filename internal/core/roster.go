package core

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/seojin-dev/classroom/internal/domain"
)

var (
	ErrRoomFull      = errors.New("room full")
	ErrAlreadyJoined = errors.New("connection already in a room")
)

// room holds members in insertion order. Order is only used to answer
// "who was already here" for a new joiner, never for priority.
type room struct {
	mu      sync.Mutex
	members []Member
}

// Roster is the in-memory session registry. The outer lock guards the
// room and connection maps; each room carries its own lock so traffic in
// one room never contends with another.
type Roster struct {
	mu      sync.RWMutex
	rooms   map[domain.RoomKey]*room
	byConn  map[domain.ConnID]domain.RoomKey
	maxSize int
}

// NewRoster creates a registry bounded at maxSize members per room.
// maxSize <= 0 means unbounded.
func NewRoster(maxSize int) *Roster {
	return &Roster{
		rooms:   make(map[domain.RoomKey]*room),
		byConn:  make(map[domain.ConnID]domain.RoomKey),
		maxSize: maxSize,
	}
}

// Join registers p in the named room, creating the room if needed, and
// returns the participants that were already present. The caller is not
// part of its own snapshot. A connection holds at most one membership:
// joining again without leaving is refused, otherwise Leave would only
// find the later room and the earlier one would keep a dead member.
func (r *Roster) Join(key domain.RoomKey, p domain.Participant, conn SignalConnection) ([]domain.Participant, error) {
	r.mu.Lock()
	if _, joined := r.byConn[p.ID]; joined {
		r.mu.Unlock()
		return nil, ErrAlreadyJoined
	}
	rm, ok := r.rooms[key]
	if !ok {
		rm = &room{}
		r.rooms[key] = rm
	}
	rm.mu.Lock()
	if r.maxSize > 0 && len(rm.members) >= r.maxSize {
		rm.mu.Unlock()
		r.mu.Unlock()
		return nil, ErrRoomFull
	}
	r.byConn[p.ID] = key
	r.mu.Unlock()

	prior := make([]domain.Participant, 0, len(rm.members))
	for _, m := range rm.members {
		prior = append(prior, m.Participant)
	}
	rm.members = append(rm.members, Member{Participant: p, Conn: conn})
	rm.mu.Unlock()

	log.Info().Str("module", "core.roster").Str("room", string(key)).Str("conn", string(p.ID)).Str("role", string(p.Role)).Msg("member joined")
	return prior, nil
}

// Leave removes the connection from whichever room it belongs to and
// deletes the room once empty. It reports the room and participant so
// the adapter can notify the remaining members.
func (r *Roster) Leave(id domain.ConnID) (domain.RoomKey, domain.Participant, bool) {
	r.mu.Lock()
	key, ok := r.byConn[id]
	if !ok {
		r.mu.Unlock()
		return "", domain.Participant{}, false
	}
	delete(r.byConn, id)
	rm := r.rooms[key]

	rm.mu.Lock()
	var left domain.Participant
	for i, m := range rm.members {
		if m.Participant.ID == id {
			left = m.Participant
			rm.members = append(rm.members[:i], rm.members[i+1:]...)
			break
		}
	}
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if empty {
		delete(r.rooms, key)
	}
	r.mu.Unlock()

	log.Info().Str("module", "core.roster").Str("room", string(key)).Str("conn", string(id)).Bool("room_deleted", empty).Msg("member left")
	return key, left, true
}

// RoomOf resolves the room a connection currently belongs to.
func (r *Roster) RoomOf(id domain.ConnID) (domain.RoomKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byConn[id]
	return key, ok
}

// Member resolves a live member by connection id. Display names are
// never a lookup key.
func (r *Roster) Member(id domain.ConnID) (Member, bool) {
	r.mu.RLock()
	key, ok := r.byConn[id]
	if !ok {
		r.mu.RUnlock()
		return Member{}, false
	}
	rm := r.rooms[key]
	r.mu.RUnlock()

	rm.mu.Lock()
	defer rm.mu.Unlock()
	for _, m := range rm.members {
		if m.Participant.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// Members returns the live members of a room in insertion order.
func (r *Roster) Members(key domain.RoomKey) []Member {
	r.mu.RLock()
	rm, ok := r.rooms[key]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]Member, len(rm.members))
	copy(out, rm.members)
	return out
}

// Broadcast fans a frame out to every member of the room except from.
func (r *Roster) Broadcast(key domain.RoomKey, from domain.ConnID, data Frame) PublishResult {
	res := PublishResult{}
	for _, m := range r.Members(key) {
		if m.Participant.ID == from {
			continue
		}
		if err := m.Conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.roster").Str("room", string(key)).Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// List reports every live room, for the health surface.
func (r *Roster) List() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for key, rm := range r.rooms {
		rm.mu.Lock()
		n := len(rm.members)
		rm.mu.Unlock()
		out = append(out, RoomInfo{Key: key, MemberCount: n})
	}
	return out
}
