package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daisyzhou/dota-stalker/internal/queue"
)

func streamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stream",
		Short: "Run only the ingestion side: poll the match feed and publish to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = logger.Sync() }()

			if cfg.Queue.Driver != "nats" {
				return fmt.Errorf("the stream command requires the nats queue driver; the memory driver only works in-process (use run)")
			}

			ctx := cmd.Context()
			natsCfg := natsConfig(cfg)

			if err := queue.EnsureStream(ctx, natsCfg); err != nil {
				return err
			}

			pub, err := queue.NewNATSPublisher(natsCfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = pub.Close() }()

			streamer := newStreamer(pub)
			if err := streamer.Start(); err != nil {
				return err
			}

			<-ctx.Done()
			logger.Info("shutdown signal received")
			streamer.Stop()

			if err := streamer.Err(); err != nil {
				logger.Error("streamer terminated with error", zap.Error(err))
				return err
			}
			return nil
		},
	}
}
