package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lingolive/calls/internal/domain"
)

var dialCmd = &cobra.Command{
	Use:   "dial <target-user-id>",
	Short: "Ring a peer and stay on the call until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		p, err := dialUp(ctx)
		if err != nil {
			return err
		}
		defer p.hangUpAndClose()

		target := domain.User{
			ID:       domain.UserID(args[0]),
			Username: args[0],
		}
		if err := p.session.StartCall(ctx, target); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("hanging up")
		case <-p.client.Done():
			log.Warn().Msg("server connection lost")
		}
		return nil
	},
}
