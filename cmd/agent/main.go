// Command agent joins a room as a headless participant: it negotiates
// media transports like a browser client would, prints chat and
// membership events, and (when privileged) can auto-approve entry
// requests. Useful for soaking the relay and for watching a room from
// a terminal.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/seojin-dev/classroom/internal/domain"
	"github.com/seojin-dev/classroom/internal/mesh"
)

var (
	serverURL   string
	roomKey     string
	displayName string
	roleName    string
	autoApprove bool
)

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "Headless classroom participant",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "server", "ws://localhost:8080/api/ws/signal", "relay signal endpoint")
	rootCmd.Flags().StringVar(&roomKey, "room", "", "room to join (required)")
	rootCmd.Flags().StringVar(&displayName, "name", "agent", "display name")
	rootCmd.Flags().StringVar(&roleName, "role", "restricted", "privileged or restricted")
	rootCmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "approve every entry request (privileged only)")
	_ = rootCmd.MarkFlagRequired("room")
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	role, err := domain.ParseRole(roleName)
	if err != nil {
		return err
	}

	client := mesh.NewClient()
	if err := client.Connect(serverURL); err != nil {
		return err
	}
	defer client.Close()

	factory := func() (mesh.MediaTransport, error) {
		return mesh.NewPionTransport(mesh.DefaultRTCConfig(), nil)
	}

	var session *mesh.Session
	hooks := mesh.Hooks{
		OnChat: func(author, text string) {
			log.Info().Str("author", author).Str("text", text).Msg("chat")
		},
		OnJoined: func(id domain.ConnID, name string) {
			log.Info().Str("conn", string(id)).Str("name", name).Msg("participant joined")
		},
		OnLeft: func(id domain.ConnID) {
			log.Info().Str("conn", string(id)).Msg("participant left")
		},
		OnEntryRequested: func(id domain.ConnID, name string) {
			log.Info().Str("conn", string(id)).Str("name", name).Msg("entry requested")
			if autoApprove {
				session.Approve(id)
			}
		},
		OnStroke: func(s json.RawMessage) {},
		OnClear:  func() {},
	}
	session = mesh.NewSession(client, factory, roomKey, displayName, role, hooks)

	log.Info().Str("room", roomKey).Str("role", string(role)).Msg("agent starting")
	if err := session.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("agent exited")
		os.Exit(1)
	}
}
