package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daisyzhou/dota-stalker/internal/queue"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline in one process: poller, queue workers, and server",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()

			var (
				pub      queue.Publisher
				consumer queue.Consumer
			)

			switch cfg.Queue.Driver {
			case "memory":
				mq := queue.NewMemoryQueue(cfg.Queue.BufferSize)
				defer func() { _ = mq.Close() }()
				pub, consumer = mq, mq

			case "nats":
				natsCfg := natsConfig(cfg)

				if cfg.Queue.Embedded {
					es, err := queue.NewEmbeddedServer(queue.EmbeddedConfig{
						Host:     "127.0.0.1",
						StoreDir: cfg.Queue.StoreDir,
					})
					if err != nil {
						return err
					}
					defer es.Shutdown()
					natsCfg.URL = es.ClientURL()
					logger.Info("embedded NATS server started", zap.String("url", natsCfg.URL))
				}

				if err := queue.EnsureStream(ctx, natsCfg); err != nil {
					return err
				}

				p, err := queue.NewNATSPublisher(natsCfg, logger)
				if err != nil {
					return err
				}
				defer func() { _ = p.Close() }()

				c, err := queue.NewNATSConsumer(natsCfg, logger)
				if err != nil {
					return err
				}
				defer func() { _ = c.Close() }()

				pub, consumer = p, c

			default:
				return fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
			}

			streamer := newStreamer(pub)
			if err := streamer.Start(); err != nil {
				return err
			}
			defer streamer.Stop()

			if err := runConsumerSide(ctx, consumer); err != nil {
				return err
			}

			if err := streamer.Err(); err != nil {
				logger.Error("streamer terminated with error", zap.Error(err))
				return err
			}
			return nil
		},
	}
}
