package core

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seojin-dev/classroom/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	fail   bool
	closed bool
}

func (c *fakeConn) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return fmt.Errorf("full")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func part(id string, role domain.Role) domain.Participant {
	return domain.Participant{ID: domain.ConnID(id), Name: "user-" + id, Role: role}
}

func TestRosterJoinSnapshot(t *testing.T) {
	r := NewRoster(0)

	prior, err := r.Join("math101", part("a", domain.RolePrivileged), &fakeConn{})
	require.NoError(t, err)
	require.Empty(t, prior, "first joiner sees an empty room")

	prior, err = r.Join("math101", part("b", domain.RoleRestricted), &fakeConn{})
	require.NoError(t, err)
	require.Len(t, prior, 1)
	require.Equal(t, domain.ConnID("a"), prior[0].ID)

	prior, err = r.Join("math101", part("c", domain.RoleRestricted), &fakeConn{})
	require.NoError(t, err)
	// Insertion order, and the joiner itself is never in the snapshot.
	require.Equal(t, []domain.ConnID{"a", "b"}, ids(prior))
}

func TestRosterRefusesSecondJoin(t *testing.T) {
	r := NewRoster(0)
	_, err := r.Join("room-a", part("x", domain.RolePrivileged), &fakeConn{})
	require.NoError(t, err)

	// Same connection, without leaving first: refused for any room,
	// including the one it is already in.
	_, err = r.Join("room-b", part("x", domain.RolePrivileged), &fakeConn{})
	require.ErrorIs(t, err, ErrAlreadyJoined)
	_, err = r.Join("room-a", part("x", domain.RolePrivileged), &fakeConn{})
	require.ErrorIs(t, err, ErrAlreadyJoined)

	// The refused join must not touch state: one leave fully clears the
	// connection and the emptied room is collected, so a fresh joiner
	// sees no trace of it.
	key, left, ok := r.Leave("x")
	require.True(t, ok)
	require.Equal(t, domain.RoomKey("room-a"), key)
	require.Equal(t, domain.ConnID("x"), left.ID)
	_, ok = r.RoomOf("x")
	require.False(t, ok)
	require.Empty(t, r.List())

	prior, err := r.Join("room-a", part("y", domain.RoleRestricted), &fakeConn{})
	require.NoError(t, err)
	require.Empty(t, prior)
	require.Nil(t, r.Members("room-b"))
}

func TestRosterSnapshotNeverContainsLeaver(t *testing.T) {
	r := NewRoster(0)
	_, err := r.Join("room", part("a", domain.RolePrivileged), &fakeConn{})
	require.NoError(t, err)
	_, err = r.Join("room", part("b", domain.RoleRestricted), &fakeConn{})
	require.NoError(t, err)

	key, left, ok := r.Leave("a")
	require.True(t, ok)
	require.Equal(t, domain.RoomKey("room"), key)
	require.Equal(t, domain.ConnID("a"), left.ID)

	prior, err := r.Join("room", part("c", domain.RoleRestricted), &fakeConn{})
	require.NoError(t, err)
	require.Equal(t, []domain.ConnID{"b"}, ids(prior))
}

func TestRosterEmptyRoomDeleted(t *testing.T) {
	r := NewRoster(0)
	_, err := r.Join("room", part("a", domain.RolePrivileged), &fakeConn{})
	require.NoError(t, err)

	_, _, ok := r.Leave("a")
	require.True(t, ok)
	require.Empty(t, r.List())

	// Leaving twice is a no-op.
	_, _, ok = r.Leave("a")
	require.False(t, ok)
}

func TestRosterCapacity(t *testing.T) {
	r := NewRoster(2)
	_, err := r.Join("room", part("a", domain.RolePrivileged), &fakeConn{})
	require.NoError(t, err)
	_, err = r.Join("room", part("b", domain.RoleRestricted), &fakeConn{})
	require.NoError(t, err)

	_, err = r.Join("room", part("c", domain.RoleRestricted), &fakeConn{})
	require.ErrorIs(t, err, ErrRoomFull)

	// A full room does not leak the rejected connection.
	_, ok := r.RoomOf("c")
	require.False(t, ok)

	// Capacity frees up when someone leaves.
	_, _, ok = r.Leave("b")
	require.True(t, ok)
	_, err = r.Join("room", part("c", domain.RoleRestricted), &fakeConn{})
	require.NoError(t, err)
}

func TestRosterBroadcastSkipsSender(t *testing.T) {
	r := NewRoster(0)
	ca, cb, cc := &fakeConn{}, &fakeConn{}, &fakeConn{}
	_, err := r.Join("room", part("a", domain.RolePrivileged), ca)
	require.NoError(t, err)
	_, err = r.Join("room", part("b", domain.RoleRestricted), cb)
	require.NoError(t, err)
	_, err = r.Join("room", part("c", domain.RoleRestricted), cc)
	require.NoError(t, err)

	res := r.Broadcast("room", "a", Frame(`{"type":"chat"}`))
	require.Equal(t, 2, res.SentTo)
	require.Empty(t, res.Dropped)
	require.Zero(t, ca.count(), "sender never receives its own broadcast")
	require.Equal(t, 1, cb.count())
	require.Equal(t, 1, cc.count())
}

func TestRosterBroadcastReportsDropped(t *testing.T) {
	r := NewRoster(0)
	slow := &fakeConn{fail: true}
	_, err := r.Join("room", part("a", domain.RolePrivileged), &fakeConn{})
	require.NoError(t, err)
	_, err = r.Join("room", part("b", domain.RoleRestricted), slow)
	require.NoError(t, err)

	res := r.Broadcast("room", "a", Frame(`{}`))
	require.Zero(t, res.SentTo)
	require.Len(t, res.Dropped, 1)
	require.Equal(t, domain.ConnID("b"), res.Dropped[0].Participant.ID)
}

func TestRosterIndependentRooms(t *testing.T) {
	r := NewRoster(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := domain.RoomKey(fmt.Sprintf("room-%d", i%4))
			id := fmt.Sprintf("conn-%d", i)
			_, err := r.Join(key, part(id, domain.RoleRestricted), &fakeConn{})
			require.NoError(t, err)
			r.Broadcast(key, domain.ConnID(id), Frame(`{}`))
			_, _, ok := r.Leave(domain.ConnID(id))
			require.True(t, ok)
		}(i)
	}
	wg.Wait()
	require.Empty(t, r.List())
}

func ids(parts []domain.Participant) []domain.ConnID {
	out := make([]domain.ConnID, 0, len(parts))
	for _, p := range parts {
		out = append(out, p.ID)
	}
	return out
}
