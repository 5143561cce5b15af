package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/seojin-dev/classroom/internal/domain"
)

func (ctl *Controller) handleChat(id domain.ConnID, conn *WsSignalConn, data []byte) {
	if !ctl.chatLimiter.Allow(id) {
		ctl.sendError(conn, "rate_limited")
		return
	}

	type chatPayload struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	var p chatPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Text == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}

	m, ok := ctl.Orch.Roster.Member(id)
	if !ok {
		ctl.sendError(conn, "not_in_room")
		return
	}

	// The sender renders its own message locally and never gets it back.
	ctl.Orch.Broadcast(id, mustJSON(struct {
		Type   string        `json:"type"`
		Author string        `json:"author"`
		From   domain.ConnID `json:"from"`
		Text   string        `json:"text"`
	}{"chat", m.Participant.Name, id, p.Text}))
}

// Stroke is one whiteboard segment in normalized coordinates, so every
// client can scale it to its own canvas size.
type Stroke struct {
	X0     float64 `json:"x0"`
	Y0     float64 `json:"y0"`
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	Color  string  `json:"color,omitempty"`
	Eraser bool    `json:"eraser,omitempty"`
}

func (ctl *Controller) handleDraw(id domain.ConnID, conn *WsSignalConn, data []byte) {
	if !ctl.privileged(id) {
		ctl.sendError(conn, "not_privileged")
		return
	}
	if !ctl.drawLimiter.Allow(id) {
		// Strokes come in bursts while the pen is down; drop quietly
		// rather than spam the drawer with errors.
		return
	}

	type drawPayload struct {
		Type string `json:"type"`
		Stroke
	}
	var p drawPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad draw payload")
		return
	}

	ctl.Orch.Broadcast(id, mustJSON(struct {
		Type string `json:"type"`
		Stroke
	}{"draw", p.Stroke}))
}

func (ctl *Controller) handleClear(id domain.ConnID, conn *WsSignalConn) {
	if !ctl.privileged(id) {
		ctl.sendError(conn, "not_privileged")
		return
	}
	ctl.Orch.Broadcast(id, mustJSON(struct {
		Type string `json:"type"`
	}{"clear"}))
}

func (ctl *Controller) privileged(id domain.ConnID) bool {
	m, ok := ctl.Orch.Roster.Member(id)
	return ok && m.Participant.Role == domain.RolePrivileged
}
