package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubject is the subject invalidations travel on when none is configured.
const DefaultSubject = "storefront.cache.invalidate"

// NATSOptions configures NewNATSBus.
type NATSOptions struct {
	URL     string
	Subject string
	Name    string
	Origin  string
	Logger  *zap.Logger
}

// NATSBus publishes invalidations on a core NATS subject. Events carrying this replica's origin
// are dropped on receipt so a replica never reprocesses its own writes.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	origin  string
	logger  *zap.Logger
}

// NewNATSBus connects to NATS with unlimited reconnects.
func NewNATSBus(opts NATSOptions) (*NATSBus, error) {
	if opts.URL == "" {
		return nil, errors.New("events: nats url is required")
	}
	if opts.Origin == "" {
		return nil, errors.New("events: origin is required")
	}
	subject := opts.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	name := opts.Name
	if name == "" {
		name = "storefront"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("events")

	conn, err := nats.Connect(opts.URL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("nats async error", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect nats: %w", err)
	}

	return &NATSBus{conn: conn, subject: subject, origin: opts.Origin, logger: logger}, nil
}

// Publish implements Bus.
func (b *NATSBus) Publish(_ context.Context, inv Invalidation) error {
	if b.conn.IsClosed() {
		return ErrClosed
	}
	inv.Origin = b.origin
	if inv.At.IsZero() {
		inv.At = time.Now().UTC()
	}
	payload, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("events: encode invalidation: %w", err)
	}
	if err := b.conn.Publish(b.subject, payload); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}

// Subscribe implements Bus.
func (b *NATSBus) Subscribe(handler Handler) (func(), error) {
	if handler == nil {
		return nil, errors.New("events: handler is required")
	}
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var inv Invalidation
		if err := json.Unmarshal(msg.Data, &inv); err != nil {
			b.logger.Warn("drop malformed invalidation", zap.Error(err))
			return
		}
		if inv.Origin == b.origin {
			return
		}
		handler(context.Background(), inv)
	})
	if err != nil {
		return nil, fmt.Errorf("events: subscribe %s: %w", b.subject, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.logger.Warn("nats unsubscribe failed", zap.Error(err))
		}
	}, nil
}

// Close drains subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("events: drain: %w", err)
	}
	return nil
}
