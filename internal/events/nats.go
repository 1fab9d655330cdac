package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "riskassistant.turns"

type natsConn interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSPublisher publishes JSON turn events on a single subject.
type NATSPublisher struct {
	conn    natsConn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to url. The connection retries in the background,
// so a broker that is down at startup does not block the server.
func NewNATSPublisher(url, token, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("risk-assistant"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return newNATSPublisher(nc, subject, logger), nil
}

func newNATSPublisher(conn natsConn, subject string, logger *slog.Logger) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}
}

// PublishTurn marshals event and publishes it.
func (p *NATSPublisher) PublishTurn(ctx context.Context, event TurnEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal turn event: %w", err)
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	p.logger.Debug("Turn event published", "subject", p.subject, "session_id", event.SessionID, "outcome", event.Outcome)
	return nil
}

// Close closes the connection.
func (p *NATSPublisher) Close() {
	p.conn.Close()
}

var _ Publisher = (*NATSPublisher)(nil)
