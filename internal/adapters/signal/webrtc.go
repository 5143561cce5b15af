package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/seojin-dev/classroom/internal/domain"
)

// handleNegotiation forwards offer, answer and candidate envelopes to
// their target with the sender's id attached as "caller", so the
// receiver can address its reply. The payload itself is opaque: the
// relay never inspects SDP or candidate contents, and delivery is
// fire-and-forget with no ordering guarantee across envelope types.
func (ctl *Controller) handleNegotiation(id domain.ConnID, kind string, data []byte) {
	sender, ok := ctl.Orch.Roster.Member(id)
	if !ok {
		// Only room members negotiate. Dropped, not errored: the
		// negotiation surface is fire-and-forget in both directions.
		log.Warn().Str("module", "signal").Str("kind", kind).Str("conn", string(id)).Msg("negotiation from non-member")
		return
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("kind", kind).Msg("bad negotiation payload")
		return
	}

	var target string
	if raw, ok := env["target"]; ok {
		_ = json.Unmarshal(raw, &target)
	}
	if target == "" {
		log.Warn().Str("module", "signal").Str("kind", kind).Str("conn", string(id)).Msg("negotiation without target")
		return
	}
	delete(env, "target")

	if _, ok := env["caller"]; !ok {
		caller, _ := json.Marshal(string(id))
		env["caller"] = caller
	}
	// Offers open a peer the receiver has no roster entry for, so they
	// carry the caller's display name too.
	if kind == "offer" {
		if _, ok := env["name"]; !ok {
			name, _ := json.Marshal(sender.Participant.Name)
			env["name"] = name
		}
	}

	out, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("kind", kind).Msg("remarshal negotiation")
		return
	}

	// A dead target is dropped silently: the sender has the matching
	// participant-left notification to clean up on.
	ctl.Orch.Relay(domain.ConnID(target), out)
}
