package app

import "github.com/seojin-dev/classroom/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a member whose send buffer is full
// during a room broadcast.
type Policy interface {
	OnBackPressure(member core.Member) BackpressureAction
}

// KickSlowPolicy disconnects slow consumers. A participant that cannot
// keep up with low-volume signaling traffic is effectively gone anyway.
type KickSlowPolicy struct{}

func (KickSlowPolicy) OnBackPressure(core.Member) BackpressureAction { return KickMember }
