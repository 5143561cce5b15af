package mesh

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/seojin-dev/classroom/internal/domain"
)

type fakeTransport struct {
	mu            sync.Mutex
	offerCount    int
	appliedOffer  string
	appliedAnswer string
	candidates    []Candidate
	replaced      int
	closeCount    int
	failOffer     bool

	onICE    func(Candidate)
	onClosed func()
}

func (t *fakeTransport) CreateOffer() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failOffer {
		return "", errors.New("offer failed")
	}
	t.offerCount++
	return "offer-sdp", nil
}

func (t *fakeTransport) ApplyOffer(sdp string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appliedOffer = sdp
	return "answer-sdp", nil
}

func (t *fakeTransport) ApplyAnswer(sdp string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appliedAnswer = sdp
	return nil
}

func (t *fakeTransport) AddICECandidate(c Candidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *fakeTransport) OnICECandidate(fn func(Candidate)) { t.onICE = fn }
func (t *fakeTransport) OnConnected(func())                {}
func (t *fakeTransport) OnClosed(fn func())                { t.onClosed = fn }

func (t *fakeTransport) ReplaceVideoTrack(webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replaced++
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCount++
	return nil
}

func (t *fakeTransport) applied() []Candidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Candidate, len(t.candidates))
	copy(out, t.candidates)
	return out
}

type sentFrame struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	SDP    string `json:"sdp"`
}

type recorder struct {
	mu     sync.Mutex
	frames []sentFrame
}

func (r *recorder) send(v any) {
	b, _ := json.Marshal(v)
	var f sentFrame
	_ = json.Unmarshal(b, &f)
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recorder) byType(kind string) []sentFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentFrame
	for _, f := range r.frames {
		if f.Type == kind {
			out = append(out, f)
		}
	}
	return out
}

func newTestManager(t *testing.T) (*Manager, *recorder) {
	t.Helper()
	rec := &recorder{}
	m := NewManager(func() (MediaTransport, error) {
		return &fakeTransport{}, nil
	}, rec.send)
	t.Cleanup(func() { m.Close() })
	return m, rec
}

func transportOf(m *Manager, id domain.ConnID) *fakeTransport {
	for _, p := range m.Peers() {
		if p.ID() == id {
			return p.tr.(*fakeTransport)
		}
	}
	return nil
}

func TestNewcomerInitiatesToExistingOnly(t *testing.T) {
	m, rec := newTestManager(t)

	m.SeedExisting([]domain.Participant{
		{ID: "p", Name: "teacher"},
		{ID: "s1", Name: "student"},
	})

	offers := rec.byType("offer")
	require.Len(t, offers, 2)
	targets := []string{offers[0].Target, offers[1].Target}
	require.ElementsMatch(t, []string{"p", "s1"}, targets)

	// Someone who joins after us gets no offer from us: they initiate.
	m.HandleJoined("s2", "late student")
	require.Len(t, rec.byType("offer"), 2)
	require.Nil(t, transportOf(m, "s2"))
}

func TestIncomingOfferProducesAnswer(t *testing.T) {
	m, rec := newTestManager(t)

	m.HandleOffer("s2", "late student", "their-offer")

	tr := transportOf(m, "s2")
	require.NotNil(t, tr)
	require.Equal(t, "their-offer", tr.appliedOffer)

	answers := rec.byType("answer")
	require.Len(t, answers, 1)
	require.Equal(t, "s2", answers[0].Target)
	require.Equal(t, "answer-sdp", answers[0].SDP)
	require.Equal(t, StateAnswered, m.Peers()[0].State())
}

func TestAnswerForUnknownOrSettledSessionIgnored(t *testing.T) {
	m, rec := newTestManager(t)

	// Unknown caller: nothing happens, nothing panics.
	m.HandleAnswer("ghost", "sdp")
	require.Empty(t, m.Peers())

	m.SeedExisting([]domain.Participant{{ID: "p", Name: "teacher"}})
	require.Len(t, rec.byType("offer"), 1)
	tr := transportOf(m, "p")

	m.HandleAnswer("p", "first-answer")
	require.Equal(t, "first-answer", tr.appliedAnswer)

	// Already answered: the duplicate is dropped.
	m.HandleAnswer("p", "second-answer")
	require.Equal(t, "first-answer", tr.appliedAnswer)
}

func TestEarlyCandidatesBufferedUntilAnswer(t *testing.T) {
	m, _ := newTestManager(t)

	m.SeedExisting([]domain.Participant{{ID: "p", Name: "teacher"}})
	tr := transportOf(m, "p")

	// Candidates outrun the answer: nothing may reach the transport yet.
	m.HandleCandidate("p", Candidate{Candidate: "cand-1"})
	m.HandleCandidate("p", Candidate{Candidate: "cand-2"})
	require.Empty(t, tr.applied())

	m.HandleAnswer("p", "answer")
	applied := tr.applied()
	require.Len(t, applied, 2)
	require.Equal(t, "cand-1", applied[0].Candidate)
	require.Equal(t, "cand-2", applied[1].Candidate)

	// Post-answer candidates apply immediately.
	m.HandleCandidate("p", Candidate{Candidate: "cand-3"})
	require.Len(t, tr.applied(), 3)

	// Candidates for an unknown session are dropped, not queued.
	m.HandleCandidate("ghost", Candidate{Candidate: "stray"})
	require.Len(t, m.Peers(), 1)
}

func TestLeftTearsDownIdempotently(t *testing.T) {
	m, _ := newTestManager(t)

	m.SeedExisting([]domain.Participant{{ID: "p", Name: "teacher"}})
	tr := transportOf(m, "p")
	require.NotNil(t, tr)

	m.HandleLeft("p")
	require.Empty(t, m.Peers())
	require.Equal(t, 1, tr.closeCount)

	// Double teardown must not fault or double-close.
	m.HandleLeft("p")
	require.Equal(t, 1, tr.closeCount)

	// A leave mid-negotiation (no answer yet) leaves nothing dangling.
	m.SeedExisting([]domain.Participant{{ID: "q", Name: "other"}})
	trq := transportOf(m, "q")
	m.HandleCandidate("q", Candidate{Candidate: "early"})
	m.HandleLeft("q")
	require.Empty(t, m.Peers())
	require.Equal(t, 1, trq.closeCount)
	require.Empty(t, trq.applied())
}

func TestReplaceVideoTrackReachesEveryPeer(t *testing.T) {
	m, _ := newTestManager(t)

	m.SeedExisting([]domain.Participant{
		{ID: "a", Name: "a"},
		{ID: "b", Name: "b"},
	})
	m.HandleOffer("c", "c", "offer")

	m.ReplaceVideoTrack(nil)
	for _, id := range []domain.ConnID{"a", "b", "c"} {
		tr := transportOf(m, id)
		require.NotNil(t, tr, string(id))
		require.Equal(t, 1, tr.replaced, string(id))
	}
}

func TestOneFailedPeerDoesNotStallOthers(t *testing.T) {
	rec := &recorder{}
	calls := 0
	m := NewManager(func() (MediaTransport, error) {
		calls++
		if calls == 1 {
			return &fakeTransport{failOffer: true}, nil
		}
		return &fakeTransport{}, nil
	}, rec.send)
	defer m.Close()

	m.SeedExisting([]domain.Participant{
		{ID: "bad", Name: "bad"},
		{ID: "good", Name: "good"},
	})

	offers := rec.byType("offer")
	require.Len(t, offers, 1)
	require.Equal(t, "good", offers[0].Target)
	require.Nil(t, transportOf(m, "bad"), "failed peer must be torn down")
}

func TestManagerCloseClosesAllPeers(t *testing.T) {
	m, _ := newTestManager(t)
	m.SeedExisting([]domain.Participant{
		{ID: "a", Name: "a"},
		{ID: "b", Name: "b"},
	})
	ta, tb := transportOf(m, "a"), transportOf(m, "b")

	m.Close()
	require.Equal(t, 1, ta.closeCount)
	require.Equal(t, 1, tb.closeCount)
	require.Empty(t, m.Peers())

	// Closed manager refuses new peers.
	m.HandleOffer("late", "late", "sdp")
	require.Empty(t, m.Peers())
}
