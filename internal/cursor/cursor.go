// Package cursor tracks the watermark of the last successfully streamed
// match sequence number.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/daisyzhou/dota-stalker/internal/steam"
)

// ErrRegression signals an Advance call that would move the cursor
// backwards. Callers log and ignore it; the cursor is left unchanged.
var ErrRegression = errors.New("sequence cursor regression")

// Source is the subset of the upstream API used to bootstrap the cursor.
type Source interface {
	FetchRecent(ctx context.Context, count uint32) ([]steam.MatchRecord, error)
}

// Cursor holds the sequence number of the last streamed match. The zero
// value is uninitialized and must be bootstrapped before polling.
type Cursor struct {
	mu       sync.Mutex
	lastSeen uint64
	set      bool
}

func New() *Cursor {
	return &Cursor{}
}

// Bootstrap initializes the cursor from the sequence number of a recent
// match. It is idempotent: if the cursor is already set, it returns the
// current value without touching the API.
func (c *Cursor) Bootstrap(ctx context.Context, src Source) (uint64, error) {
	c.mu.Lock()
	if c.set {
		v := c.lastSeen
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	matches, err := src.FetchRecent(ctx, 1)
	if err != nil {
		return 0, fmt.Errorf("bootstrap cursor: %w", err)
	}
	if len(matches) == 0 {
		return 0, errors.New("bootstrap cursor: empty match history")
	}
	seq := matches[len(matches)-1].MatchSeqNum

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		c.lastSeen = seq
		c.set = true
	}
	return c.lastSeen, nil
}

// Advance moves the cursor forward to seq. Moving backwards violates the
// monotonicity invariant and returns ErrRegression with the cursor
// unchanged.
func (c *Cursor) Advance(seq uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set && seq < c.lastSeen {
		return fmt.Errorf("%w: %d < %d", ErrRegression, seq, c.lastSeen)
	}
	c.lastSeen = seq
	c.set = true
	return nil
}

// Value returns the current watermark and whether the cursor has been
// initialized.
func (c *Cursor) Value() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen, c.set
}
