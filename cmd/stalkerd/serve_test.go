package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/daisyzhou/dota-stalker/internal/config"
	"github.com/daisyzhou/dota-stalker/internal/queue"
)

func setupConsumerSideTest() {
	logger, _ = zap.NewDevelopment()
	cfg = &config.Config{
		API: config.APIConfig{BaseURL: "http://127.0.0.1:1", APIKey: "test-key", TimeoutSec: 1},
		Queue: config.QueueConfig{
			Driver:  "memory",
			Workers: 1,
		},
		Server: config.ServerConfig{
			Port:          "0",
			MatchLinkBase: "http://www.dotabuff.com/matches/",
		},
	}
}

func TestRunConsumerSideReturnsWhenQueueCloses(t *testing.T) {
	setupConsumerSideTest()

	q := queue.NewMemoryQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runConsumerSide(ctx, q) }()

	// Let the consumer come up before pulling the queue out from under it
	time.Sleep(100 * time.Millisecond)
	_ = q.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runConsumerSide never returned after queue close")
	}
}

func TestRunConsumerSideReturnsOnCancel(t *testing.T) {
	setupConsumerSideTest()

	q := queue.NewMemoryQueue(4)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- runConsumerSide(ctx, q) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runConsumerSide never returned after cancel")
	}
}
