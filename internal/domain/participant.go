// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxNameLen = 36

var (
	ErrNameEmpty   = errors.New("display name empty")
	ErrNameTooLong = errors.New("display name too long")
	ErrBadRole     = errors.New("unknown role")
)

// ConnID identifies one live client connection. It is assigned by the
// relay at upgrade time and is the only routing key for targeted frames.
type ConnID string

func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

// Role is the participant class. Privileged participants moderate entry
// and broadcast whiteboard events; restricted participants must be
// approved before they join.
type Role string

const (
	RolePrivileged Role = "privileged"
	RoleRestricted Role = "restricted"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePrivileged, RoleRestricted:
		return Role(s), nil
	}
	return "", ErrBadRole
}

type Participant struct {
	ID   ConnID `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// NewParticipant validates the display name so adapters never build raw
// literals from client input.
func NewParticipant(id ConnID, name string, role Role) (Participant, error) {
	if len(name) == 0 {
		return Participant{}, ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return Participant{}, ErrNameTooLong
	}
	return Participant{ID: id, Name: name, Role: role}, nil
}
