package mesh

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/seojin-dev/classroom/internal/domain"
)

type PeerState int

const (
	StateCreated PeerState = iota
	StateOfferSent
	StateOfferReceived
	StateAnswered
	StateConnected
	StateClosed
)

func (s PeerState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOfferSent:
		return "offer-sent"
	case StateOfferReceived:
		return "offer-received"
	case StateAnswered:
		return "answered"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Peer drives the negotiation with one remote participant.
// closed is terminal and reachable from every state; everything else
// advances created -> offerSent|offerReceived -> answered -> connected.
type Peer struct {
	id   domain.ConnID
	name string

	mu        sync.Mutex
	state     PeerState
	tr        MediaTransport
	remoteSet bool
	// Candidates may outrun the answer; anything arriving before the
	// remote description is held here and flushed once it lands.
	pendingCandidates []Candidate

	send func(v any)
}

func newPeer(id domain.ConnID, name string, tr MediaTransport, send func(v any)) *Peer {
	p := &Peer{id: id, name: name, state: StateCreated, tr: tr, send: send}

	tr.OnICECandidate(func(c Candidate) {
		p.send(struct {
			Type string        `json:"type"`
			To   domain.ConnID `json:"target"`
			Candidate
		}{"candidate", p.id, c})
	})
	tr.OnConnected(func() {
		p.mu.Lock()
		if p.state == StateAnswered {
			p.state = StateConnected
		}
		p.mu.Unlock()
		log.Info().Str("module", "mesh").Str("peer", string(id)).Msg("transport connected")
	})
	tr.OnClosed(func() { p.close() })

	return p
}

func (p *Peer) ID() domain.ConnID { return p.id }
func (p *Peer) Name() string      { return p.name }

func (p *Peer) State() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// startOffer runs the initiating side. Only the newer participant of a
// pair ever calls this.
func (p *Peer) startOffer() error {
	p.mu.Lock()
	if p.state != StateCreated {
		p.mu.Unlock()
		return fmt.Errorf("offer from state %s", p.state)
	}
	p.state = StateOfferSent
	p.mu.Unlock()

	sdp, err := p.tr.CreateOffer()
	if err != nil {
		p.close()
		return err
	}
	p.send(struct {
		Type string        `json:"type"`
		To   domain.ConnID `json:"target"`
		SDP  string        `json:"sdp"`
	}{"offer", p.id, sdp})
	return nil
}

// handleOffer runs the answering side for a fresh peer.
func (p *Peer) handleOffer(sdp string) error {
	p.mu.Lock()
	if p.state != StateCreated {
		p.mu.Unlock()
		// Glare cannot happen under the newcomer-initiates rule; an
		// offer in any other state is protocol noise.
		return nil
	}
	p.state = StateOfferReceived
	p.mu.Unlock()

	answer, err := p.tr.ApplyOffer(sdp)
	if err != nil {
		p.close()
		return err
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.takePendingLocked()
	if p.state == StateOfferReceived {
		p.state = StateAnswered
	}
	p.mu.Unlock()
	p.applyCandidates(pending)

	p.send(struct {
		Type string        `json:"type"`
		To   domain.ConnID `json:"target"`
		SDP  string        `json:"sdp"`
	}{"answer", p.id, answer})
	return nil
}

// handleAnswer completes negotiation on the initiating side. Answers
// for unknown or already-answered sessions are ignored.
func (p *Peer) handleAnswer(sdp string) error {
	p.mu.Lock()
	if p.state != StateOfferSent {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.tr.ApplyAnswer(sdp); err != nil {
		p.close()
		return err
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.takePendingLocked()
	if p.state == StateOfferSent {
		p.state = StateAnswered
	}
	p.mu.Unlock()
	p.applyCandidates(pending)
	return nil
}

// handleCandidate applies immediately once the remote description is in
// place, and buffers otherwise. No candidate is lost to ordering.
func (p *Peer) handleCandidate(c Candidate) error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return nil
	}
	if !p.remoteSet {
		p.pendingCandidates = append(p.pendingCandidates, c)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.tr.AddICECandidate(c)
}

func (p *Peer) takePendingLocked() []Candidate {
	pending := p.pendingCandidates
	p.pendingCandidates = nil
	return pending
}

func (p *Peer) applyCandidates(cands []Candidate) {
	for _, c := range cands {
		if err := p.tr.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(p.id)).Msg("buffered candidate rejected")
		}
	}
}

// close is idempotent and safe from any state, including mid-negotiation.
func (p *Peer) close() {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = StateClosed
	p.pendingCandidates = nil
	p.mu.Unlock()

	if err := p.tr.Close(); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(p.id)).Msg("transport close")
	}
	log.Info().Str("module", "mesh").Str("peer", string(p.id)).Msg("peer closed")
}
