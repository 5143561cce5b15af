package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/seojin-dev/classroom/internal/domain"
)

// Hooks lets the embedding application observe room events. Every
// field is optional.
type Hooks struct {
	OnChat           func(author, text string)
	OnEntryRequested func(id domain.ConnID, name string)
	OnJoined         func(id domain.ConnID, name string)
	OnLeft           func(id domain.ConnID)
	OnStroke         func(s json.RawMessage)
	OnClear          func()
}

// Session is one participant's view of a room: the signaling client,
// the peer mesh, and the entry handshake for restricted roles.
type Session struct {
	client    *Client
	mesh      *Manager
	hooks     Hooks
	room      domain.RoomKey
	name      string
	role      domain.Role
	selfID    domain.ConnID
	entered   chan struct{}
	enterOnce sync.Once
}

func NewSession(client *Client, factory TransportFactory, room, name string, role domain.Role, hooks Hooks) *Session {
	s := &Session{
		client:  client,
		hooks:   hooks,
		room:    domain.RoomKey(room),
		name:    name,
		role:    role,
		entered: make(chan struct{}),
	}
	s.mesh = NewManager(factory, client.Send)
	return s
}

func (s *Session) Mesh() *Manager    { return s.mesh }
func (s *Session) ID() domain.ConnID { return s.selfID }

// Entered closes once the relay has accepted this session into the
// room, after any approval wait.
func (s *Session) Entered() <-chan struct{} { return s.entered }

// Run drives the event loop until the context ends or the connection
// drops. A privileged session joins immediately; a restricted one
// requests entry and joins when approved.
func (s *Session) Run(ctx context.Context) error {
	if s.role == domain.RolePrivileged {
		s.join()
	} else {
		s.client.Send(struct {
			Type string `json:"type"`
			Room string `json:"room"`
			Name string `json:"name"`
		}{"request-entry", string(s.room), s.name})
	}

	defer s.mesh.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-s.client.Incoming():
			if !ok {
				return errors.New("signaling connection lost")
			}
			if err := s.dispatch(data); err != nil {
				return err
			}
		}
	}
}

func (s *Session) join() {
	s.client.Send(struct {
		Type string `json:"type"`
		Room string `json:"room"`
		Name string `json:"name"`
		Role string `json:"role"`
	}{"join", string(s.room), s.name, string(s.role)})
}

// SendChat broadcasts a chat line to the room.
func (s *Session) SendChat(text string) {
	s.client.Send(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{"chat", text})
}

// Approve lifts the entry gate for a pending requester. Only honored
// by the relay when this session is privileged.
func (s *Session) Approve(target domain.ConnID) {
	s.client.Send(struct {
		Type   string        `json:"type"`
		Target domain.ConnID `json:"target"`
	}{"approve-entry", target})
}

func (s *Session) dispatch(data []byte) error {
	var env struct {
		Type   string        `json:"type"`
		ID     domain.ConnID `json:"id"`
		Name   string        `json:"name"`
		Caller domain.ConnID `json:"caller"`
		SDP    string        `json:"sdp"`
		Author string        `json:"author"`
		Text   string        `json:"text"`
		Error  string        `json:"error"`
		Candidate
		Participants []domain.Participant `json:"participants"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "mesh.session").Msg("bad frame")
		return nil
	}

	switch env.Type {
	case "welcome":
		s.selfID = env.ID
	case "entry-approved":
		s.join()
	case "entry-expired":
		return errors.New("entry request expired")
	case "existing-participants":
		s.enterOnce.Do(func() { close(s.entered) })
		s.mesh.SeedExisting(env.Participants)
	case "participant-joined":
		s.mesh.HandleJoined(env.ID, env.Name)
		if s.hooks.OnJoined != nil {
			s.hooks.OnJoined(env.ID, env.Name)
		}
	case "participant-left":
		s.mesh.HandleLeft(env.ID)
		if s.hooks.OnLeft != nil {
			s.hooks.OnLeft(env.ID)
		}
	case "entry-requested":
		if s.hooks.OnEntryRequested != nil {
			s.hooks.OnEntryRequested(env.ID, env.Name)
		}
	case "offer":
		s.mesh.HandleOffer(env.Caller, env.Name, env.SDP)
	case "answer":
		s.mesh.HandleAnswer(env.Caller, env.SDP)
	case "candidate":
		s.mesh.HandleCandidate(env.Caller, env.Candidate)
	case "chat":
		if s.hooks.OnChat != nil {
			s.hooks.OnChat(env.Author, env.Text)
		}
	case "draw":
		if s.hooks.OnStroke != nil {
			s.hooks.OnStroke(json.RawMessage(data))
		}
	case "clear":
		if s.hooks.OnClear != nil {
			s.hooks.OnClear()
		}
	case "pong":
	case "error":
		// Entry refusals are fatal to the session; everything else is
		// a per-operation complaint the user can retry.
		if env.Error == "room_full" || env.Error == "not_approved" {
			return fmt.Errorf("join refused: %s", env.Error)
		}
		log.Warn().Str("module", "mesh.session").Str("error", env.Error).Msg("relay error")
	default:
		log.Debug().Str("module", "mesh.session").Str("type", env.Type).Msg("unhandled frame")
	}
	return nil
}
