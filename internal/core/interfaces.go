package core

import "github.com/seojin-dev/classroom/internal/domain"

// Frame is a raw wire payload, already marshaled by the adapter.
type Frame []byte

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Member binds a participant to its transport endpoint.
// This is what a room stores and fans out to.
type Member struct {
	Participant domain.Participant
	Conn        SignalConnection
}

// PublishResult reports delivery stats/backpressure to the orchestrator.
type PublishResult struct {
	SentTo  int
	Dropped []Member
}

type RoomInfo struct {
	Key         domain.RoomKey `json:"key"`
	MemberCount int            `json:"member_count"`
}
