// Package mesh maintains one media transport per remote participant and
// keeps that set in sync with the relay's membership notifications.
package mesh

import "github.com/pion/webrtc/v4"

// Candidate is one connectivity candidate on the wire. The pointer
// fields mirror the browser shape, where mid and line index may be
// absent.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// MediaTransport is the slice of a peer connection the mesh needs.
// Owning it behind an interface keeps negotiation logic testable
// without opening sockets.
type MediaTransport interface {
	// CreateOffer produces and installs the local offer description.
	CreateOffer() (string, error)
	// ApplyOffer installs the remote offer and returns a local answer.
	ApplyOffer(sdp string) (string, error)
	// ApplyAnswer installs the remote answer on an offering transport.
	ApplyAnswer(sdp string) error
	AddICECandidate(Candidate) error
	// OnICECandidate fires for each locally gathered candidate.
	OnICECandidate(func(Candidate))
	OnConnected(func())
	OnClosed(func())
	// ReplaceVideoTrack swaps the outgoing video sender's track.
	ReplaceVideoTrack(track webrtc.TrackLocal) error
	Close() error
}

// TransportFactory builds a fresh transport for one remote peer.
type TransportFactory func() (MediaTransport, error)
