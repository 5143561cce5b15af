package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/seojin-dev/classroom/internal/app"
	"github.com/seojin-dev/classroom/internal/core"
	"github.com/seojin-dev/classroom/internal/domain"
)

func (ctl *Controller) handleJoin(id domain.ConnID, conn *WsSignalConn, data []byte) {
	type joinPayload struct {
		Type string `json:"type"`
		Room string `json:"room"`
		Name string `json:"name"`
		Role string `json:"role"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	role, err := domain.ParseRole(p.Role)
	if err != nil {
		ctl.sendError(conn, "bad_role")
		return
	}
	part, err := domain.NewParticipant(id, p.Name, role)
	if err != nil {
		ctl.sendError(conn, "bad_name")
		return
	}

	key := domain.RoomKey(p.Room)
	prior, err := ctl.Orch.Join(key, part, conn)
	switch {
	case errors.Is(err, core.ErrRoomFull):
		ctl.sendError(conn, "room_full")
		return
	case errors.Is(err, core.ErrAlreadyJoined):
		ctl.sendError(conn, "already_joined")
		return
	case errors.Is(err, app.ErrNotApproved):
		ctl.sendError(conn, "not_approved")
		return
	case err != nil:
		ctl.sendError(conn, "join_failed")
		return
	}

	log.Info().Str("module", "signal").Str("conn", string(id)).Str("room", p.Room).Str("role", p.Role).Msg("join")

	// The snapshot seeds the newcomer's mesh: it offers to each of
	// these and waits for offers from anyone who joins later.
	ctl.sendJSON(conn, struct {
		Type         string               `json:"type"`
		Room         domain.RoomKey       `json:"room"`
		Participants []domain.Participant `json:"participants"`
	}{"existing-participants", key, prior})

	ctl.Orch.BroadcastRoom(key, id, mustJSON(struct {
		Type string        `json:"type"`
		ID   domain.ConnID `json:"id"`
		Name string        `json:"name"`
		Role domain.Role   `json:"role"`
	}{"participant-joined", part.ID, part.Name, part.Role}))
}
