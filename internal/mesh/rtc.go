package mesh

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// PionTransport implements MediaTransport on a pion PeerConnection.
type PionTransport struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	onICE       func(Candidate)
	onConnected func()
	onClosed    func()
	closed      bool
}

// NewPionTransport creates a transport carrying the given local tracks.
// With no tracks it still negotiates recvonly audio and video, so a
// headless participant can watch without capturing anything.
func NewPionTransport(cfg webrtc.Configuration, tracks []webrtc.TrackLocal) (*PionTransport, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	t := &PionTransport{pc: pc}

	if len(tracks) == 0 {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				_ = pc.Close()
				return nil, err
			}
		}
	}
	for _, track := range tracks {
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		t.mu.Lock()
		fn := t.onICE
		t.mu.Unlock()
		if fn != nil {
			ci := cand.ToJSON()
			fn(Candidate{Candidate: ci.Candidate, SDPMid: ci.SDPMid, SDPMLineIndex: ci.SDPMLineIndex})
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("module", "mesh.rtc").Str("state", s.String()).Msg("peer connection state")
		t.mu.Lock()
		connected, closedFn := t.onConnected, t.onClosed
		t.mu.Unlock()
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if connected != nil {
				connected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if closedFn != nil {
				closedFn()
			}
		}
	})

	return t, nil
}

func (t *PionTransport) CreateOffer() (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (t *PionTransport) ApplyOffer(sdp string) (string, error) {
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return "", err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (t *PionTransport) ApplyAnswer(sdp string) error {
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (t *PionTransport) AddICECandidate(c Candidate) error {
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

func (t *PionTransport) OnICECandidate(fn func(Candidate)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *PionTransport) OnConnected(fn func()) {
	t.mu.Lock()
	t.onConnected = fn
	t.mu.Unlock()
}

func (t *PionTransport) OnClosed(fn func()) {
	t.mu.Lock()
	t.onClosed = fn
	t.mu.Unlock()
}

// ReplaceVideoTrack swaps the outgoing video track on this transport's
// sender. The mesh calls it for every peer; missing one is how screen
// shares end up half-broadcast.
func (t *PionTransport) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	for _, sender := range t.pc.GetSenders() {
		st := sender.Track()
		if st != nil && st.Kind() == webrtc.RTPCodecTypeVideo {
			return sender.ReplaceTrack(track)
		}
	}
	return nil
}

func (t *PionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.pc.Close()
}
