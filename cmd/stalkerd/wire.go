package main

import (
	"time"

	"github.com/daisyzhou/dota-stalker/internal/config"
	"github.com/daisyzhou/dota-stalker/internal/cursor"
	"github.com/daisyzhou/dota-stalker/internal/queue"
	"github.com/daisyzhou/dota-stalker/internal/steam"
	"github.com/daisyzhou/dota-stalker/internal/stream"
)

func natsConfig(cfg *config.Config) queue.NATSConfig {
	return queue.NATSConfig{
		URL:           cfg.Queue.URL,
		Stream:        cfg.Queue.Stream,
		Subject:       cfg.Queue.Subject,
		Durable:       cfg.Queue.Durable,
		QueueGroup:    cfg.Queue.QueueGroup,
		MaxReconnects: cfg.Queue.MaxReconnects,
		ReconnectWait: 2 * time.Second,
		AckWait:       time.Duration(cfg.Queue.AckWaitSec) * time.Second,
		CloseTimeout:  30 * time.Second,
		MaxAge:        time.Duration(cfg.Queue.MaxAgeHours) * time.Hour,
		Compression:   cfg.Queue.Compression,
	}
}

func newStreamer(pub queue.Publisher) *stream.Streamer {
	client := steam.NewClient(
		cfg.API.BaseURL,
		cfg.API.APIKey,
		time.Duration(cfg.API.TimeoutSec)*time.Second,
		logger,
	)
	return stream.New(client, cursor.New(), pub, stream.Config{
		PollInterval: time.Duration(cfg.Stream.PollIntervalMS) * time.Millisecond,
		RetryBudget:  cfg.Stream.RetryBudget,
	}, logger)
}

func newResolver() *steam.Resolver {
	return steam.NewResolver(
		cfg.API.BaseURL,
		cfg.API.APIKey,
		time.Duration(cfg.API.TimeoutSec)*time.Second,
		time.Duration(cfg.Resolver.CacheTTLSec)*time.Second,
		logger,
	)
}
