// Package events publishes scan outcomes to NATS with trace context in the
// message headers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/example/cocoa-roast-scan/internal/domain"
)

// ScanCompleted is emitted once per scan, successful or not.
type ScanCompleted struct {
	ScanID      string             `json:"scan_id"`
	UserID      string             `json:"user_id"`
	Success     bool               `json:"success"`
	FailureKind string             `json:"failure_kind,omitempty"`
	Result      *domain.ScanResult `json:"result,omitempty"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Publisher announces finished scans.
type Publisher interface {
	PublishScanCompleted(ctx context.Context, event ScanCompleted) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishScanCompleted(context.Context, ScanCompleted) error { return nil }
func (Nop) Close() error                                             { return nil }

// headerCarrier adapts nats.Msg headers for the OTel propagator.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// newMsg serializes v as JSON and injects the trace context of ctx.
func newMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

// NATSPublisher publishes events on a single subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// Connect dials the NATS server at url.
func Connect(url, subject string, logger *zap.Logger) (*NATSPublisher, error) {
	logger = logger.Named("events")
	nc, err := nats.Connect(url,
		nats.Name("cocoa-roast-scan"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, subject: subject, logger: logger}, nil
}

// PublishScanCompleted implements Publisher.
func (p *NATSPublisher) PublishScanCompleted(ctx context.Context, event ScanCompleted) error {
	msg, err := newMsg(ctx, p.subject, event)
	if err != nil {
		return err
	}
	return p.nc.PublishMsg(msg)
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
