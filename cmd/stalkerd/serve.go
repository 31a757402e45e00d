package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daisyzhou/dota-stalker/internal/mailbox"
	"github.com/daisyzhou/dota-stalker/internal/processor"
	"github.com/daisyzhou/dota-stalker/internal/queue"
	"github.com/daisyzhou/dota-stalker/internal/roster"
	"github.com/daisyzhou/dota-stalker/internal/server"
	"github.com/daisyzhou/dota-stalker/internal/ws"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run only the consumption side: queue workers and the notification server",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = logger.Sync() }()

			if cfg.Queue.Driver != "nats" {
				return fmt.Errorf("the serve command requires the nats queue driver; the memory driver only works in-process (use run)")
			}

			ctx := cmd.Context()
			natsCfg := natsConfig(cfg)

			if err := queue.EnsureStream(ctx, natsCfg); err != nil {
				return err
			}

			consumer, err := queue.NewNATSConsumer(natsCfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = consumer.Close() }()

			return runConsumerSide(ctx, consumer)
		},
	}
}

// runConsumerSide wires the roster, resolver, mailbox, push hub, queue
// workers, and the notification HTTP server, then blocks until ctx is
// cancelled or a component fails to come up.
func runConsumerSide(ctx context.Context, consumer queue.Consumer) error {
	mb := mailbox.New()
	ros := roster.New(cfg.Roster.Players)
	resolver := newResolver()

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	proc := processor.New(consumer, ros, resolver, mb, hub, processor.Config{
		Workers:       cfg.Queue.Workers,
		MatchLinkBase: cfg.Server.MatchLinkBase,
	}, logger)

	procDone := make(chan error, 1)
	go func() { procDone <- proc.Run(ctx) }()

	srv := server.NewServer(mb, ros, resolver, hub, logger)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.NewRouter(srv, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		logger.Info("notification server listening", zap.String("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	var procErr error
	procDrained := false

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpErr:
		return err
	case err := <-procDone:
		// The delivery stream closed on its own; take the server down too.
		procDrained = true
		procErr = err
		logger.Warn("queue consumer stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}

	if !procDrained {
		procErr = <-procDone
	}
	return procErr
}
