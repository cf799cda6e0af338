package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lingolive/calls/internal/adapters/rtc"
	"github.com/lingolive/calls/internal/call"
	"github.com/lingolive/calls/internal/domain"
	"github.com/lingolive/calls/internal/transport/ws"
)

var (
	flagServer      string
	flagUserID      string
	flagName        string
	flagAvatar      string
	flagAudio       string
	flagICE         []string
	flagRingTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "callctl",
	Short: "Command-line softphone for the call signaling relay",
	Long:  `Announces an identity to the relay and drives a call session: dial a peer or listen for incoming calls.`,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagServer, "server", "ws://localhost:8080/api/ws/signal", "relay signal endpoint")
	pf.StringVar(&flagUserID, "user-id", "", "identity to announce (random when empty)")
	pf.StringVar(&flagName, "name", "callctl", "display name presented to callees")
	pf.StringVar(&flagAvatar, "avatar", "", "avatar URL presented to callees")
	pf.StringVar(&flagAudio, "audio", "", "ogg/opus file played as the microphone")
	pf.StringSliceVar(&flagICE, "ice", nil, "ICE server URLs")
	pf.DurationVar(&flagRingTimeout, "ring-timeout", call.DefaultRingTimeout, "how long calling/incoming may ring (0 = forever)")

	rootCmd.AddCommand(dialCmd)
	rootCmd.AddCommand(listenCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

// phone bundles the wired-up client pieces a subcommand works with.
type phone struct {
	self    domain.User
	client  *ws.Client
	session *call.Session
}

func dialUp(ctx context.Context) (*phone, error) {
	id := flagUserID
	if id == "" {
		id = uuid.NewString()
	}
	self := domain.User{
		ID:        domain.UserID(id),
		Username:  flagName,
		AvatarURL: flagAvatar,
	}

	client := ws.NewClient(ws.ClientConfig{
		URL:    flagServer,
		UserID: self.ID,
		OnOnline: func(users []domain.UserID) {
			log.Info().Int("count", len(users)).Msg("online users")
		},
	})

	session := call.NewSession(call.Config{
		Self:        self,
		Signaler:    client,
		Engine:      rtc.NewEngine(flagICE),
		Microphone:  &rtc.FileCapture{Path: flagAudio, Loop: true},
		RingTimeout: flagRingTimeout,
		OnChange:    printState,
	})
	client.Bind(session)

	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", flagServer, err)
	}
	log.Info().Str("user_id", id).Str("server", flagServer).Msg("announced")

	return &phone{self: self, client: client, session: session}, nil
}

func (p *phone) hangUpAndClose() {
	p.session.EndCall()
	p.client.Close()
}

func printState(s call.Snapshot) {
	ev := log.Info().Str("state", string(s.State)).Bool("muted", s.Muted)
	if s.Peer != nil {
		ev = ev.Str("peer", string(s.Peer.ID)).Str("peer_name", s.Peer.Username)
	}
	if s.Notice != "" {
		ev = ev.Str("notice", s.Notice)
	}
	ev.Msg("call")
}
