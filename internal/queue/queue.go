// Package queue provides the durable queue between the match streamer and
// the notification processors, with a NATS JetStream driver for production
// and a channel-backed driver for single-process deployments and tests.
package queue

import (
	"context"
	"errors"
	"fmt"
)

// MaxBatch is the largest number of envelopes accepted by a single
// PublishBatch call. This mirrors the batch limit of the backing queue
// service; callers split larger record lists into multiple batches.
const MaxBatch = 10

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Envelope is one unit of payload placed on the durable queue, carrying a
// serialized match record keyed by its match ID.
type Envelope struct {
	ID         string
	Payload    []byte
	DedupToken byte
}

// Publisher writes envelope batches to the durable queue in order.
type Publisher interface {
	// PublishBatch publishes up to MaxBatch envelopes. Larger batches are
	// rejected outright.
	PublishBatch(ctx context.Context, envs []Envelope) error
	Close() error
}

// Consumer receives envelope deliveries from the durable queue. Delivery is
// at-least-once: consumers must tolerate duplicates of the same envelope.
type Consumer interface {
	// Consume returns a channel of deliveries. The channel is closed when
	// ctx is cancelled or the consumer is closed.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// Delivery is one received envelope plus its acknowledgement handle.
type Delivery struct {
	Envelope
	ack  func()
	nack func()
}

// NewDelivery builds a delivery around an envelope. ack and nack may be nil.
func NewDelivery(env Envelope, ack, nack func()) Delivery {
	return Delivery{Envelope: env, ack: ack, nack: nack}
}

// Ack confirms processing; the envelope is deleted from the queue.
func (d Delivery) Ack() {
	if d.ack != nil {
		d.ack()
	}
}

// Nack signals a processing failure; the envelope is redelivered.
func (d Delivery) Nack() {
	if d.nack != nil {
		d.nack()
	}
}

func checkBatchSize(envs []Envelope) error {
	if len(envs) > MaxBatch {
		return fmt.Errorf("batch of %d exceeds limit of %d", len(envs), MaxBatch)
	}
	return nil
}
