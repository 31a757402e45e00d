package queue

import (
	"context"
	"sync"
)

// MemoryQueue is a channel-backed queue driver implementing both Publisher
// and Consumer. It keeps the at-least-once contract of the NATS driver:
// nacked deliveries are requeued. Used for single-process deployments and
// tests.
type MemoryQueue struct {
	ch        chan Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue creates an in-memory queue buffering up to size envelopes.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{
		ch:     make(chan Envelope, size),
		closed: make(chan struct{}),
	}
}

// PublishBatch enqueues the envelopes in order, blocking while the buffer
// is full.
func (q *MemoryQueue) PublishBatch(ctx context.Context, envs []Envelope) error {
	if err := checkBatchSize(envs); err != nil {
		return err
	}
	for _, env := range envs {
		select {
		case q.ch <- env:
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closed:
			return ErrClosed
		}
	}
	return nil
}

// Consume returns a channel of deliveries backed by the internal buffer.
func (q *MemoryQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	select {
	case <-q.closed:
		return nil, ErrClosed
	default:
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.closed:
				return
			case env := <-q.ch:
				d := NewDelivery(env, nil, func() { q.requeue(env) })
				select {
				case out <- d:
				case <-ctx.Done():
					q.requeue(env)
					return
				case <-q.closed:
					return
				}
			}
		}
	}()
	return out, nil
}

// requeue puts a nacked envelope back without blocking; if the buffer is
// full the envelope is dropped, which only loses an already-failing unit.
func (q *MemoryQueue) requeue(env Envelope) {
	select {
	case q.ch <- env:
	default:
	}
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}
