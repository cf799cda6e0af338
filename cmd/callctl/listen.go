package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lingolive/calls/internal/domain"
)

var flagDecline bool

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stay announced and pick up incoming calls",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		p, err := dialUp(ctx)
		if err != nil {
			return err
		}
		defer p.hangUpAndClose()

		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("hanging up")
				return nil
			case <-p.client.Done():
				log.Warn().Msg("server connection lost")
				return nil
			case <-ticker.C:
			}

			if p.session.State() != domain.CallIncoming {
				continue
			}
			if flagDecline {
				p.session.DeclineCall()
				continue
			}
			if err := p.session.AcceptCall(ctx); err != nil {
				log.Error().Err(err).Msg("accept failed")
			}
		}
	},
}

func init() {
	listenCmd.Flags().BoolVar(&flagDecline, "decline", false, "decline incoming calls instead of accepting")
}
