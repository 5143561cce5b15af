package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateRequestApproveConsume(t *testing.T) {
	g := NewGate(0)

	_, err := g.Request("room", "s1", "student", &fakeConn{})
	require.NoError(t, err)

	// Second request from the same connection is refused.
	_, err = g.Request("room", "s1", "student", &fakeConn{})
	require.ErrorIs(t, err, ErrAlreadyRequested)

	e, ok := g.Approve("room", "s1")
	require.True(t, ok)
	require.Equal(t, "student", e.Name)

	// Approval is consumed by exactly one join into the same room.
	require.False(t, g.ConsumeApproval("other-room", "s1"))
	require.True(t, g.ConsumeApproval("room", "s1"))
	require.False(t, g.ConsumeApproval("room", "s1"))
}

func TestGateApproveIsIdempotentNoOp(t *testing.T) {
	g := NewGate(0)

	// No pending request at all.
	_, ok := g.Approve("room", "ghost")
	require.False(t, ok)

	_, err := g.Request("room", "s1", "student", &fakeConn{})
	require.NoError(t, err)

	_, ok = g.Approve("room", "s1")
	require.True(t, ok)

	// Duplicate click.
	_, ok = g.Approve("room", "s1")
	require.False(t, ok)

	// Wrong room never matches a pending entry.
	_, err = g.Request("room-a", "s2", "student", &fakeConn{})
	require.NoError(t, err)
	_, ok = g.Approve("room-b", "s2")
	require.False(t, ok)
}

func TestGateAbandonOnDisconnect(t *testing.T) {
	g := NewGate(0)
	_, err := g.Request("room", "s1", "student", &fakeConn{})
	require.NoError(t, err)

	require.True(t, g.Abandon("s1"))
	_, ok := g.Approve("room", "s1")
	require.False(t, ok, "abandoned request must not be approvable")

	// Abandon also clears an un-consumed approval.
	_, err = g.Request("room", "s2", "student", &fakeConn{})
	require.NoError(t, err)
	_, ok = g.Approve("room", "s2")
	require.True(t, ok)
	g.Abandon("s2")
	require.False(t, g.ConsumeApproval("room", "s2"))
}

func TestGateExpiry(t *testing.T) {
	g := NewGate(time.Minute)
	now := time.Unix(1000, 0)
	g.now = func() time.Time { return now }

	_, err := g.Request("room", "s1", "student", &fakeConn{})
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	require.Empty(t, g.Expire())
	require.Len(t, g.Pending("room"), 1)

	now = now.Add(31 * time.Second)
	expired := g.Expire()
	require.Len(t, expired, 1)
	require.Equal(t, "s1", string(expired[0].ID))
	require.Empty(t, g.Pending("room"))

	// Expired entries cannot be approved, even before a sweep runs.
	_, err = g.Request("room", "s2", "student", &fakeConn{})
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, ok := g.Approve("room", "s2")
	require.False(t, ok)

	// But the requester may ask again.
	_, err = g.Request("room", "s2", "student", &fakeConn{})
	require.NoError(t, err)
}

func TestGatePendingScopedToRoom(t *testing.T) {
	g := NewGate(0)
	_, err := g.Request("room-a", "s1", "one", &fakeConn{})
	require.NoError(t, err)
	_, err = g.Request("room-b", "s2", "two", &fakeConn{})
	require.NoError(t, err)

	require.Len(t, g.Pending("room-a"), 1)
	require.Len(t, g.Pending("room-b"), 1)
	require.Empty(t, g.Pending("room-c"))
}
