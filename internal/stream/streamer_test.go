package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/daisyzhou/dota-stalker/internal/cursor"
	"github.com/daisyzhou/dota-stalker/internal/queue"
	"github.com/daisyzhou/dota-stalker/internal/steam"
)

// fakeSource serves a scripted sequence of FetchSince results after a fixed
// bootstrap response.
type fakeSource struct {
	mu           sync.Mutex
	bootstrapSeq uint64
	batches      [][]steam.MatchRecord
	fetchErr     error
	fetchCalls   int
	reconnects   int
}

func (f *fakeSource) FetchRecent(ctx context.Context, count uint32) ([]steam.MatchRecord, error) {
	return []steam.MatchRecord{{MatchID: 1, MatchSeqNum: f.bootstrapSeq}}, nil
}

func (f *fakeSource) FetchSince(ctx context.Context, seq uint64) ([]steam.MatchRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeSource) Reconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
}

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]queue.Envelope
	err     error
}

func (p *fakePublisher) PublishBatch(ctx context.Context, envs []queue.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, envs)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) batchSizes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	sizes := make([]int, 0, len(p.batches))
	for _, b := range p.batches {
		sizes = append(sizes, len(b))
	}
	return sizes
}

func records(startSeq uint64, n int) []steam.MatchRecord {
	recs := make([]steam.MatchRecord, n)
	for i := range recs {
		recs[i] = steam.MatchRecord{
			MatchID:     startSeq + uint64(i),
			MatchSeqNum: startSeq + uint64(i),
		}
	}
	return recs
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func newTestStreamer(src MatchSource, pub queue.Publisher, budget int) (*Streamer, *cursor.Cursor) {
	logger, _ := zap.NewDevelopment()
	cur := cursor.New()
	s := New(src, cur, pub, Config{
		PollInterval: 5 * time.Millisecond,
		RetryBudget:  budget,
	}, logger)
	return s, cur
}

func TestStreamerPublishesInBatches(t *testing.T) {
	src := &fakeSource{
		bootstrapSeq: 100,
		batches:      [][]steam.MatchRecord{records(101, 23)},
	}
	pub := &fakePublisher{}
	s, cur := newTestStreamer(src, pub, RetryForever)

	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool {
		total := 0
		for _, n := range pub.batchSizes() {
			total += n
		}
		return total == 23
	})

	sizes := pub.batchSizes()
	if len(sizes) != 3 || sizes[0] != 10 || sizes[1] != 10 || sizes[2] != 3 {
		t.Errorf("expected batches 10/10/3, got %v", sizes)
	}

	// Cursor advanced to the last record of the fetch
	if v, ok := cur.Value(); !ok || v != 123 {
		t.Errorf("expected cursor at 123, got %d, %v", v, ok)
	}
}

func TestStreamerBootstrapsCursor(t *testing.T) {
	src := &fakeSource{bootstrapSeq: 500}
	pub := &fakePublisher{}
	s, cur := newTestStreamer(src, pub, RetryForever)

	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool {
		_, ok := cur.Value()
		return ok
	})

	if v, _ := cur.Value(); v != 500 {
		t.Errorf("expected cursor at 500, got %d", v)
	}
}

func TestStreamerEmptyFetchDoesNotAdvance(t *testing.T) {
	src := &fakeSource{bootstrapSeq: 100}
	pub := &fakePublisher{}
	s, cur := newTestStreamer(src, pub, RetryForever)

	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.fetchCalls >= 3
	})

	if v, _ := cur.Value(); v != 100 {
		t.Errorf("cursor moved without new matches: %d", v)
	}
	if len(pub.batchSizes()) != 0 {
		t.Errorf("published without new matches: %v", pub.batchSizes())
	}
}

func TestStreamerReconnectsOnTransientFailure(t *testing.T) {
	src := &fakeSource{
		bootstrapSeq: 100,
		fetchErr:     &steam.Error{Kind: steam.KindTransient, Op: "fetch_since", Err: errors.New("timeout")},
	}
	pub := &fakePublisher{}
	s, cur := newTestStreamer(src, pub, RetryForever)

	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.reconnects >= 2
	})

	if v, _ := cur.Value(); v != 100 {
		t.Errorf("cursor moved during failures: %d", v)
	}
}

func TestStreamerMalformedSkipsWithoutReconnect(t *testing.T) {
	src := &fakeSource{
		bootstrapSeq: 100,
		fetchErr:     &steam.Error{Kind: steam.KindMalformed, Op: "fetch_since", Err: errors.New("bad json")},
	}
	pub := &fakePublisher{}
	s, _ := newTestStreamer(src, pub, RetryForever)

	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.fetchCalls >= 3
	})

	src.mu.Lock()
	reconnects := src.reconnects
	src.mu.Unlock()
	if reconnects != 0 {
		t.Errorf("malformed responses must not reconnect, got %d reconnects", reconnects)
	}
}

func TestStreamerRetryBudgetExhausted(t *testing.T) {
	transient := &steam.Error{Kind: steam.KindTransient, Op: "fetch_since", Err: errors.New("down")}
	src := &fakeSource{bootstrapSeq: 100, fetchErr: transient}
	pub := &fakePublisher{}
	s, _ := newTestStreamer(src, pub, 2)

	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, func() bool { return s.Err() != nil })
	s.Stop()

	if !steam.IsTransient(s.Err()) {
		t.Errorf("expected the terminal transient error, got %v", s.Err())
	}
}

func TestStreamerZeroRetryBudgetFailsOnFirstError(t *testing.T) {
	transient := &steam.Error{Kind: steam.KindTransient, Op: "fetch_since", Err: errors.New("down")}
	src := &fakeSource{bootstrapSeq: 100, fetchErr: transient}
	pub := &fakePublisher{}
	s, _ := newTestStreamer(src, pub, 0)

	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, func() bool { return s.Err() != nil })
	s.Stop()

	// The loop gave up before ever recycling the connection
	src.mu.Lock()
	reconnects := src.reconnects
	src.mu.Unlock()
	if reconnects != 0 {
		t.Errorf("expected no reconnects with a zero budget, got %d", reconnects)
	}
	if !steam.IsTransient(s.Err()) {
		t.Errorf("expected the terminal transient error, got %v", s.Err())
	}
}

func TestStreamerDoubleStart(t *testing.T) {
	src := &fakeSource{bootstrapSeq: 100}
	pub := &fakePublisher{}
	s, _ := newTestStreamer(src, pub, RetryForever)

	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Stop()

	if err := s.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStreamerStopIdempotent(t *testing.T) {
	src := &fakeSource{bootstrapSeq: 100}
	pub := &fakePublisher{}
	s, _ := newTestStreamer(src, pub, RetryForever)

	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Stop()
	s.Stop()

	// Restartable after Stop
	if err := s.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	s.Stop()
}
