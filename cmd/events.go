/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/inkpost/apiserver/internal/mq"
	"github.com/spf13/cobra"
)

// eventsCmd groups domain event tooling.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect published domain events",
}

// eventsTailCmd logs every event arriving on the events channel until
// interrupted. On RabbitMQ it competes with other consumers of the queue.
var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Log domain events as they arrive",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := loadConfig()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		bus, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			if errors.Is(err, mq.ErrNoBackend) {
				return errors.New("MQ_BACKEND must be set to rabbitmq or pubsub")
			}
			return fmt.Errorf("open mq: %w", err)
		}
		defer bus.Close()

		logger.Info("tailing events", "backend", cfg.MQ.Backend, "channel", cfg.MQ.EventsChannel)
		err = bus.Subscribe(ctx, cfg.MQ.EventsChannel, func(ctx context.Context, msg mq.Message) error {
			event, err := mq.DecodeEvent(msg)
			if err != nil {
				// Undecodable payloads are dropped rather than redelivered forever.
				logger.WarnContext(ctx, "skipping malformed event", "message_id", msg.ID, "error", err)
				return nil
			}
			logger.InfoContext(ctx, "event",
				"type", event.Type,
				"entity_id", event.EntityID,
				"actor_id", event.ActorID,
				"occurred_at", event.OccurredAt,
			)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
