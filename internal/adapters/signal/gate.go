package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/seojin-dev/classroom/internal/core"
	"github.com/seojin-dev/classroom/internal/domain"
)

func (ctl *Controller) handleRequestEntry(id domain.ConnID, conn *WsSignalConn, data []byte) {
	type requestPayload struct {
		Type string `json:"type"`
		Room string `json:"room"`
		Name string `json:"name"`
	}
	var p requestPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad request-entry payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if p.Name == "" || len(p.Name) > domain.MaxNameLen {
		ctl.sendError(conn, "bad_name")
		return
	}

	key := domain.RoomKey(p.Room)
	privileged, err := ctl.Orch.RequestEntry(key, id, p.Name, conn)
	if errors.Is(err, core.ErrAlreadyRequested) {
		ctl.sendError(conn, "already_requested")
		return
	}

	frame := mustJSON(struct {
		Type string        `json:"type"`
		ID   domain.ConnID `json:"id"`
		Name string        `json:"name"`
	}{"entry-requested", id, p.Name})
	for _, m := range privileged {
		_ = m.Conn.TrySend(frame)
	}
}

func (ctl *Controller) handleApproveEntry(id domain.ConnID, conn *WsSignalConn, data []byte) {
	type approvePayload struct {
		Type   string `json:"type"`
		Target string `json:"target"`
	}
	var p approvePayload
	if err := json.Unmarshal(data, &p); err != nil || p.Target == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad approve-entry payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	entry, err := ctl.Orch.ApproveEntry(id, domain.ConnID(p.Target))
	if err != nil {
		// Unauthorized approvals are logged and dropped, never honored.
		log.Warn().Str("module", "signal").Str("conn", string(id)).Str("target", p.Target).Msg("approve-entry refused")
		return
	}
	if entry == nil {
		// No pending request: duplicate click, stale list, or the
		// requester already disconnected. Idempotent no-op.
		return
	}

	ctl.sendJSON(entry.Conn, struct {
		Type string         `json:"type"`
		Room domain.RoomKey `json:"room"`
	}{"entry-approved", entry.Room})
}

// NotifyExpired tells an evicted requester to ask again. Wired as the
// gate sweep callback.
func (ctl *Controller) NotifyExpired(e *core.PendingEntry) {
	ctl.sendJSON(e.Conn, struct {
		Type string         `json:"type"`
		Room domain.RoomKey `json:"room"`
	}{"entry-expired", e.Room})
}
