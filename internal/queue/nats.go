package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const dedupTokenHeader = "dedup-token"

// NATSConfig holds the JetStream driver settings.
type NATSConfig struct {
	URL           string
	Stream        string
	Subject       string
	Durable       string
	QueueGroup    string
	MaxReconnects int
	ReconnectWait time.Duration
	AckWait       time.Duration
	CloseTimeout  time.Duration
	MaxAge        time.Duration
	Compression   bool
}

func natsOptions(logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}
}

// NATSPublisher writes envelope batches to a JetStream subject. The match ID
// rides as the Nats-Msg-Id header so the stream's duplicate window drops
// republished matches.
type NATSPublisher struct {
	pub     message.Publisher
	subject string
	codec   *Codec
	logger  *zap.Logger
}

func NewNATSPublisher(cfg NATSConfig, logger *zap.Logger) (*NATSPublisher, error) {
	wmLogger := NewWatermillLogger(logger)

	opts := append(natsOptions(wmLogger),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
	)

	wmConfig := wmnats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: opts,
		Marshaler:   &wmnats.NATSMarshaler{},
		JetStream: wmnats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // the stream is provisioned by EnsureStream
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmnats.NewPublisher(wmConfig, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("creating queue publisher: %w", err)
	}

	p := &NATSPublisher{
		pub:     pub,
		subject: cfg.Subject,
		logger:  logger,
	}
	if cfg.Compression {
		codec, err := NewCodec()
		if err != nil {
			_ = pub.Close()
			return nil, err
		}
		p.codec = codec
	}
	return p, nil
}

// PublishBatch publishes the envelopes in order.
func (p *NATSPublisher) PublishBatch(ctx context.Context, envs []Envelope) error {
	if err := checkBatchSize(envs); err != nil {
		return err
	}

	msgs := make([]*message.Message, 0, len(envs))
	for _, env := range envs {
		payload := env.Payload
		msg := message.NewMessage(env.ID, payload)
		if p.codec != nil {
			msg.Payload = p.codec.Encode(payload)
			msg.Metadata.Set(encodingHeader, encodingZstd)
		}
		msg.Metadata.Set(natsgo.MsgIdHdr, env.ID)
		msg.Metadata.Set(dedupTokenHeader, strconv.Itoa(int(env.DedupToken)))
		msgs = append(msgs, msg)
	}

	if err := p.pub.Publish(p.subject, msgs...); err != nil {
		return fmt.Errorf("publishing batch of %d: %w", len(msgs), err)
	}
	p.logger.Debug("batch published", zap.Int("count", len(msgs)))
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.codec != nil {
		p.codec.Close()
	}
	return p.pub.Close()
}

// NATSConsumer receives deliveries from a durable JetStream queue group, so
// multiple worker processes share the backlog.
type NATSConsumer struct {
	sub     message.Subscriber
	subject string
	codec   *Codec
	logger  *zap.Logger
}

func NewNATSConsumer(cfg NATSConfig, logger *zap.Logger) (*NATSConsumer, error) {
	wmLogger := NewWatermillLogger(logger)

	opts := append(natsOptions(wmLogger),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
	)

	subOpts := []natsgo.SubOpt{
		natsgo.AckWait(cfg.AckWait),
		natsgo.BindStream(cfg.Stream),
		natsgo.DeliverNew(),
	}

	wmConfig := wmnats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1,
		AckWaitTimeout:   cfg.AckWait,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      opts,
		Unmarshaler:      &wmnats.NATSMarshaler{},
		JetStream: wmnats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    false,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.Durable,
		},
	}

	sub, err := wmnats.NewSubscriber(wmConfig, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("creating queue consumer: %w", err)
	}

	c := &NATSConsumer{
		sub:     sub,
		subject: cfg.Subject,
		logger:  logger,
	}
	// Decoding must always be possible regardless of the local compression
	// setting; the backlog may hold compressed envelopes.
	codec, err := NewCodec()
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	c.codec = codec
	return c, nil
}

// Consume translates the transport's message stream into deliveries.
func (c *NATSConsumer) Consume(ctx context.Context) (<-chan Delivery, error) {
	msgs, err := c.sub.Subscribe(ctx, c.subject)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", c.subject, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for msg := range msgs {
			d, ok := c.toDelivery(msg)
			if !ok {
				continue
			}
			select {
			case out <- d:
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

func (c *NATSConsumer) toDelivery(msg *message.Message) (Delivery, bool) {
	payload := msg.Payload
	if msg.Metadata.Get(encodingHeader) == encodingZstd {
		decoded, err := c.codec.Decode(payload)
		if err != nil {
			// Undecodable payloads are dropped, not retried.
			c.logger.Error("dropping undecodable envelope",
				zap.String("messageID", msg.UUID),
				zap.Error(err),
			)
			msg.Ack()
			return Delivery{}, false
		}
		payload = decoded
	}

	token := byte(0)
	if raw := msg.Metadata.Get(dedupTokenHeader); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			token = byte(v)
		}
	}

	env := Envelope{ID: msg.UUID, Payload: payload, DedupToken: token}
	return NewDelivery(env,
		func() { msg.Ack() },
		func() { msg.Nack() },
	), true
}

func (c *NATSConsumer) Close() error {
	if c.codec != nil {
		c.codec.Close()
	}
	return c.sub.Close()
}
