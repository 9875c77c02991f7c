package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JetStreamConfig locates the stream and durable consumer the feed reads.
type JetStreamConfig struct {
	URL             string
	Stream          string
	Subject         string
	Durable         string
	ConnectAttempts uint
	ConnectDelay    time.Duration
	MaxReconnects   int
}

// JetStreamSource consumes feed envelopes from a durable JetStream consumer
// filtered to one subject.
type JetStreamSource struct {
	cfg JetStreamConfig
}

// NewJetStreamSource returns a source that connects on Subscribe.
func NewJetStreamSource(cfg JetStreamConfig) *JetStreamSource {
	if cfg.ConnectAttempts == 0 {
		cfg.ConnectAttempts = 5
	}
	if cfg.ConnectDelay == 0 {
		cfg.ConnectDelay = time.Second
	}
	return &JetStreamSource{cfg: cfg}
}

func (s *JetStreamSource) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	logger := log.Ctx(ctx).With().Str("stream", s.cfg.Stream).Str("subject", s.cfg.Subject).Logger()
	sub := &jsSubscription{done: make(chan error, 1)}

	var nc *nats.Conn
	err := retry.Do(func() error {
		var err error
		nc, err = nats.Connect(s.cfg.URL,
			nats.Name("atonsvc-feed"),
			nats.MaxReconnects(s.cfg.MaxReconnects),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn().Err(err).Msg("feed connection interrupted")
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				logger.Info().Str("url", c.ConnectedUrl()).Msg("feed connection restored")
			}),
			nats.ClosedHandler(sub.closed),
		)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(s.cfg.ConnectAttempts),
		retry.Delay(s.cfg.ConnectDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Uint("attempt", n+1).Msg("retrying feed connection")
		}),
	)
	if err != nil {
		return nil, ErrConnection.MsgErr("unable to connect to "+s.cfg.URL, err)
	}
	sub.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, ErrConnection.MsgErr("jetstream unavailable", err)
	}
	consumer, err := js.CreateOrUpdateConsumer(ctx, s.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       s.cfg.Durable,
		FilterSubject: s.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, ErrConnection.MsgErr("unable to create consumer on "+s.cfg.Stream, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		m, err := DecodeEnvelope(msg.Data())
		if err != nil {
			logger.Error().Err(err).Str("msg_subject", msg.Subject()).Msg("discarding feed message")
			if err := msg.Term(); err != nil {
				logger.Warn().Err(err).Msg("unable to terminate message")
			}
			return
		}
		h(m)
		if err := msg.Ack(); err != nil {
			logger.Warn().Err(err).Msg("unable to ack message")
		}
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		logger.Warn().Err(err).Msg("feed consumer error")
	}))
	if err != nil {
		nc.Close()
		return nil, ErrConnection.MsgErr("unable to start consumer", err)
	}
	sub.cc = cc
	logger.Info().Str("durable", s.cfg.Durable).Msg("attached to feed")
	return sub, nil
}

type jsSubscription struct {
	nc      *nats.Conn
	cc      jetstream.ConsumeContext
	closing atomic.Bool
	once    sync.Once
	done    chan error
}

// closed runs when the connection is gone for good. Only an unrequested
// close is reported as a failure.
func (s *jsSubscription) closed(c *nats.Conn) {
	s.once.Do(func() {
		if !s.closing.Load() {
			err := c.LastError()
			if err == nil {
				err = errors.New("connection closed")
			}
			s.done <- ErrConnection.MsgErr("feed connection lost", err)
		}
		close(s.done)
	})
}

func (s *jsSubscription) Close() error {
	s.closing.Store(true)
	if s.cc != nil {
		s.cc.Stop()
	}
	return s.nc.Drain()
}

func (s *jsSubscription) Done() <-chan error {
	return s.done
}
