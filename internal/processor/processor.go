// Package processor consumes match records from the durable queue, filters
// them against the tracked-player roster, and turns hits into pending
// notifications.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/daisyzhou/dota-stalker/internal/mailbox"
	"github.com/daisyzhou/dota-stalker/internal/queue"
	"github.com/daisyzhou/dota-stalker/internal/roster"
	"github.com/daisyzhou/dota-stalker/internal/steam"
)

// NameResolver resolves a 64-bit account ID to a display name. It must
// never fail outward; implementations degrade to a placeholder.
type NameResolver interface {
	Resolve(ctx context.Context, id64 uint64) string
}

// Broadcaster pushes a formatted notification to connected push clients.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// Config holds the consumer-side settings.
type Config struct {
	// Workers is the number of goroutines draining the queue. The filter
	// is order-independent per record, so workers need no coordination.
	Workers int

	// MatchLinkBase prefixes the match ID in notification text,
	// e.g. "http://www.dotabuff.com/matches/".
	MatchLinkBase string
}

// Processor runs the consume loop: dequeue, filter by roster, resolve
// names, and deposit formatted notifications into the mailbox.
type Processor struct {
	consumer queue.Consumer
	roster   *roster.Roster
	resolver NameResolver
	mailbox  *mailbox.Mailbox
	hub      Broadcaster
	cfg      Config
	logger   *zap.Logger
}

// New creates a processor. hub may be nil when no push feed is wired.
func New(consumer queue.Consumer, r *roster.Roster, resolver NameResolver, mb *mailbox.Mailbox, hub Broadcaster, cfg Config, logger *zap.Logger) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	return &Processor{
		consumer: consumer,
		roster:   r,
		resolver: resolver,
		mailbox:  mb,
		hub:      hub,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run starts the worker pool and blocks until the context is cancelled and
// all workers have drained.
func (p *Processor) Run(ctx context.Context) error {
	deliveries, err := p.consumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("starting consume: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.worker(ctx, worker, deliveries)
		}(i)
	}
	wg.Wait()
	return nil
}

func (p *Processor) worker(ctx context.Context, worker int, deliveries <-chan queue.Delivery) {
	p.logger.Debug("consumer worker started", zap.Int("worker", worker))
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			p.Handle(ctx, d)
		}
	}
}

// Handle processes one delivery and always acknowledges it: "no
// interesting players" and malformed payloads are consumed outcomes, not
// errors to retry.
func (p *Processor) Handle(ctx context.Context, d queue.Delivery) {
	defer d.Ack()

	var rec steam.MatchRecord
	if err := json.Unmarshal(d.Payload, &rec); err != nil {
		p.logger.Error("dropping malformed match payload",
			zap.String("envelopeID", d.ID),
			zap.ByteString("payload", d.Payload),
			zap.Error(err),
		)
		return
	}

	text, ok := p.processMatch(ctx, rec)
	if !ok {
		return
	}

	p.mailbox.Append(text)
	if p.hub != nil {
		p.hub.Broadcast([]byte(text))
	}
	p.logger.Info("interesting match found",
		zap.Uint64("matchID", rec.MatchID),
		zap.String("notification", text),
	)
}

// processMatch filters the record's players against the roster and, when
// any are tracked, formats the notification text.
func (p *Processor) processMatch(ctx context.Context, rec steam.MatchRecord) (string, bool) {
	var matched []uint64
	for _, player := range rec.Players {
		if player.AccountID == nil {
			// Bots have no account ID.
			continue
		}
		if id64, ok := p.roster.Lookup(*player.AccountID); ok {
			matched = append(matched, id64)
		}
	}
	if len(matched) == 0 {
		return "", false
	}

	names := make([]string, 0, len(matched))
	for _, id64 := range matched {
		names = append(names, p.resolver.Resolve(ctx, id64))
	}

	text := fmt.Sprintf("%s just finished match %s%d",
		strings.Join(names, ","),
		p.cfg.MatchLinkBase,
		rec.MatchID,
	)
	return text, true
}
