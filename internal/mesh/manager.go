package mesh

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/seojin-dev/classroom/internal/domain"
)

// Manager owns exactly one Peer per remote participant. Who initiates
// is fixed by join order: the newcomer offers to everyone already in
// the room and waits for offers from anyone who arrives later. That
// asymmetry yields exactly one offer per pair with no tie-break rule.
type Manager struct {
	mu     sync.Mutex
	peers  map[domain.ConnID]*Peer
	closed bool

	factory TransportFactory
	send    func(v any)
}

func NewManager(factory TransportFactory, send func(v any)) *Manager {
	return &Manager{
		peers:   make(map[domain.ConnID]*Peer),
		factory: factory,
		send:    send,
	}
}

// SeedExisting initiates an offer to every participant from the join
// snapshot. Failure on one peer never stalls negotiation with another.
func (m *Manager) SeedExisting(existing []domain.Participant) {
	for _, p := range existing {
		peer, err := m.addPeer(p.ID, p.Name)
		if err != nil {
			log.Error().Err(err).Str("module", "mesh").Str("peer", string(p.ID)).Msg("transport create")
			continue
		}
		if peer == nil {
			continue
		}
		if err := peer.startOffer(); err != nil {
			log.Error().Err(err).Str("module", "mesh").Str("peer", string(p.ID)).Msg("start offer")
			m.HandleLeft(p.ID)
		}
	}
}

// HandleJoined records a later arrival. We do not initiate: by the
// ordering rule the newcomer will offer to us.
func (m *Manager) HandleJoined(id domain.ConnID, name string) {
	log.Info().Str("module", "mesh").Str("peer", string(id)).Str("name", name).Msg("participant joined, awaiting their offer")
}

// HandleOffer answers an incoming offer, creating the peer when the
// caller is still unknown.
func (m *Manager) HandleOffer(caller domain.ConnID, name, sdp string) {
	m.mu.Lock()
	peer, ok := m.peers[caller]
	m.mu.Unlock()
	if !ok {
		var err error
		peer, err = m.addPeer(caller, name)
		if err != nil {
			log.Error().Err(err).Str("module", "mesh").Str("peer", string(caller)).Msg("transport create")
			return
		}
		if peer == nil {
			return
		}
	}
	if err := peer.handleOffer(sdp); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(caller)).Msg("apply offer")
		m.HandleLeft(caller)
	}
}

func (m *Manager) HandleAnswer(caller domain.ConnID, sdp string) {
	m.mu.Lock()
	peer, ok := m.peers[caller]
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := peer.handleAnswer(sdp); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(caller)).Msg("apply answer")
		m.HandleLeft(caller)
	}
}

func (m *Manager) HandleCandidate(caller domain.ConnID, c Candidate) {
	m.mu.Lock()
	peer, ok := m.peers[caller]
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := peer.handleCandidate(c); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(caller)).Msg("add candidate")
	}
}

// HandleLeft tears the peer down. Transport sessions hold OS resources;
// skipping this on a leave notification is a leak, not a cosmetic bug.
func (m *Manager) HandleLeft(id domain.ConnID) {
	m.mu.Lock()
	peer, ok := m.peers[id]
	delete(m.peers, id)
	m.mu.Unlock()
	if ok {
		peer.close()
	}
}

// ReplaceVideoTrack propagates a new outgoing video track (screen
// share, camera switch) to every live peer, not just some.
func (m *Manager) ReplaceVideoTrack(track webrtc.TrackLocal) {
	for _, peer := range m.snapshot() {
		if err := peer.tr.ReplaceVideoTrack(track); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(peer.id)).Msg("replace video track")
		}
	}
}

// Peers reports the live peer set, for status displays and tests.
func (m *Manager) Peers() []*Peer {
	return m.snapshot()
}

// Close tears down every peer. Safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.peers = make(map[domain.ConnID]*Peer)
	m.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}

func (m *Manager) addPeer(id domain.ConnID, name string) (*Peer, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil
	}
	if existing, ok := m.peers[id]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	tr, err := m.factory()
	if err != nil {
		return nil, err
	}

	peer := newPeer(id, name, tr, m.send)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		peer.close()
		return nil, nil
	}
	if existing, ok := m.peers[id]; ok {
		m.mu.Unlock()
		peer.close()
		return existing, nil
	}
	m.peers[id] = peer
	m.mu.Unlock()
	return peer, nil
}

func (m *Manager) snapshot() []*Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}
