// Package stream drives the poll loop that turns the paginated,
// rate-limited match-history API into an ordered, gap-free stream of match
// records on the durable queue.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/daisyzhou/dota-stalker/internal/cursor"
	"github.com/daisyzhou/dota-stalker/internal/queue"
	"github.com/daisyzhou/dota-stalker/internal/steam"
)

// RetryForever makes the poll loop reconnect and retry transient failures
// indefinitely. It is the default for the long-running loop; a bounded
// budget is only useful in constrained contexts such as tests.
const RetryForever = -1

// ErrAlreadyRunning is returned by Start when the streamer is running.
var ErrAlreadyRunning = errors.New("streamer already running")

// MatchSource is the upstream API surface the streamer drives.
type MatchSource interface {
	FetchSince(ctx context.Context, seq uint64) ([]steam.MatchRecord, error)
	FetchRecent(ctx context.Context, count uint32) ([]steam.MatchRecord, error)
	Reconnect()
}

// Config holds the poll loop settings.
type Config struct {
	// PollInterval is the sleep between iterations. Not a hard real-time
	// guarantee; drift accumulates under slow processing.
	PollInterval time.Duration

	// RetryBudget bounds consecutive transient failures before the loop
	// gives up. Zero fails on the first transient error; any negative
	// value never gives up.
	RetryBudget int
}

type state int

const (
	stateStopped state = iota
	stateRunning
	stateStopping
)

// Streamer owns the poll loop: bootstrap the cursor, fetch matches past it,
// advance it, and publish the records to the queue in batches.
type Streamer struct {
	source MatchSource
	cursor *cursor.Cursor
	pub    queue.Publisher
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	state state
	stop  chan struct{}
	done  chan struct{}
	err   error
}

func New(source MatchSource, cur *cursor.Cursor, pub queue.Publisher, cfg Config, logger *zap.Logger) *Streamer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = RetryForever
	}
	return &Streamer{
		source: source,
		cursor: cur,
		pub:    pub,
		cfg:    cfg,
		logger: logger,
	}
}

// Start launches the poll loop. It returns ErrAlreadyRunning if the loop is
// already up.
func (s *Streamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateStopped {
		return ErrAlreadyRunning
	}
	s.state = stateRunning
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.err = nil
	go s.run()
	s.logger.Info("streamer started", zap.Duration("pollInterval", s.cfg.PollInterval))
	return nil
}

// Stop signals the loop to exit after its current iteration and waits for
// the worker to terminate. Safe to call from any goroutine, including while
// the loop sleeps between retries; it never aborts an in-flight fetch.
// Calling Stop on a stopped streamer is a no-op.
func (s *Streamer) Stop() {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	s.state = stateStopping
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("streamer stopped")
}

// Err returns the terminal error, if a bounded retry budget was exhausted
// and the loop gave up.
func (s *Streamer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Streamer) run() {
	defer func() {
		s.mu.Lock()
		s.state = stateStopped
		close(s.done)
		s.mu.Unlock()
	}()

	// The loop owns its own context: cancellation happens at iteration
	// boundaries via the stop channel, never mid-request.
	ctx := context.Background()
	failures := 0

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		seq, ok := s.cursor.Value()
		if !ok {
			bootstrapped, err := s.cursor.Bootstrap(ctx, s.source)
			if err != nil {
				if !s.handleFetchError("bootstrap", err, &failures) {
					return
				}
				if !s.sleep() {
					return
				}
				continue
			}
			s.logger.Info("cursor bootstrapped", zap.Uint64("matchSeqNum", bootstrapped))
			// The bootstrap call counts against the API rate budget.
			if !s.sleep() {
				return
			}
			continue
		}

		records, err := s.source.FetchSince(ctx, seq)
		if err != nil {
			if !s.handleFetchError("fetch_since", err, &failures) {
				return
			}
			if !s.sleep() {
				return
			}
			continue
		}
		failures = 0

		if len(records) == 0 {
			// Caught up; steady state.
			if !s.sleep() {
				return
			}
			continue
		}

		// Records arrive ordered ascending by sequence number (upstream API
		// contract, not verified here).
		last := records[len(records)-1].MatchSeqNum
		if err := s.cursor.Advance(last); err != nil {
			s.logger.Warn("cursor advance rejected",
				zap.Uint64("matchSeqNum", last),
				zap.Error(err),
			)
		}

		s.publish(ctx, records)

		if !s.sleep() {
			return
		}
	}
}

// handleFetchError classifies err and prepares the next iteration. It
// returns false when a bounded retry budget is exhausted and the loop must
// terminate.
func (s *Streamer) handleFetchError(op string, err error, failures *int) bool {
	if steam.IsMalformed(err) {
		// Skip this poll cycle; retrying the same payload will not help.
		s.logger.Warn("malformed response, skipping poll cycle",
			zap.String("op", op),
			zap.Error(err),
		)
		return true
	}

	*failures++
	if s.cfg.RetryBudget != RetryForever && *failures > s.cfg.RetryBudget {
		s.logger.Error("retry budget exhausted",
			zap.String("op", op),
			zap.Int("failures", *failures),
			zap.Error(err),
		)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		return false
	}

	s.logger.Warn("transient failure, reconnecting",
		zap.String("op", op),
		zap.Int("failures", *failures),
		zap.Error(err),
	)
	s.source.Reconnect()
	return true
}

// publish splits records into batches of at most queue.MaxBatch and
// publishes them in order, keyed by match ID.
func (s *Streamer) publish(ctx context.Context, records []steam.MatchRecord) {
	for start := 0; start < len(records); start += queue.MaxBatch {
		end := start + queue.MaxBatch
		if end > len(records) {
			end = len(records)
		}

		envs := make([]queue.Envelope, 0, end-start)
		for _, rec := range records[start:end] {
			payload, err := json.Marshal(rec)
			if err != nil {
				s.logger.Error("skipping unserializable record",
					zap.Uint64("matchID", rec.MatchID),
					zap.Error(err),
				)
				continue
			}
			envs = append(envs, queue.Envelope{
				ID:      strconv.FormatUint(rec.MatchID, 10),
				Payload: payload,
			})
		}
		if len(envs) == 0 {
			continue
		}

		if err := s.pub.PublishBatch(ctx, envs); err != nil {
			s.logger.Error("batch publish failed",
				zap.Int("count", len(envs)),
				zap.Error(err),
			)
			return
		}
	}
	s.logger.Debug("records published", zap.Int("count", len(records)))
}

// sleep waits one poll interval, returning false if stopped meanwhile.
func (s *Streamer) sleep() bool {
	t := time.NewTimer(s.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-s.stop:
		return false
	case <-t.C:
		return true
	}
}
