package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// EnsureStream creates the JetStream stream backing the match queue, or
// updates its configuration if it already exists. It must run before
// publishers and subscribers start so delivery is durable from the first
// message. Idempotent.
func EnsureStream(ctx context.Context, cfg NATSConfig) error {
	nc, err := natsgo.Connect(cfg.URL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.URL, err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("creating JetStream context: %w", err)
	}

	streamCfg := jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.Subject},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     cfg.MaxAge,
		Duplicates: 2 * time.Minute,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}

	if _, err := js.Stream(ctx, cfg.Stream); err == nil {
		if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("updating stream %s: %w", cfg.Stream, err)
		}
		return nil
	} else if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("checking stream %s: %w", cfg.Stream, err)
	}

	if _, err := js.CreateStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("creating stream %s: %w", cfg.Stream, err)
	}
	return nil
}
