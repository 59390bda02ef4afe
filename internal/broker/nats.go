// Package broker fans finished matches out to other services over NATS.
// Publishing is best effort: the match result is already persisted locally
// before anything is published.
package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"

	"github.com/vovakirdan/blockduel/internal/storage"
)

// DefaultSubject is the subject finished matches are published on.
const DefaultSubject = "blockduel.match.finished"

// MatchFinished is the payload published for every resolved match.
type MatchFinished struct {
	Match       storage.MatchRecord `json:"match"`
	PublishedAt time.Time           `json:"publishedAt"`
}

// Publisher sends match events to other services.
type Publisher interface {
	PublishMatch(m storage.MatchRecord) error
	Close()
}

// Config controls the NATS connection.
type Config struct {
	URL     string
	Subject string
	Name    string // Client name shown in NATS monitoring
}

// NATSPublisher publishes on core NATS subjects.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *log.Logger
}

// Connect dials NATS and returns a publisher.
func Connect(cfg Config, logger *log.Logger) (*NATSPublisher, error) {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Name == "" {
		cfg.Name = "blockduel"
	}
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("broker")

	conn, err := nats.Connect(
		cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("broker: connect %s: %w", cfg.URL, err)
	}

	logger.Info("connected to NATS", "url", conn.ConnectedUrl(), "subject", cfg.Subject)
	return &NATSPublisher{conn: conn, subject: cfg.Subject, logger: logger}, nil
}

// PublishMatch publishes one finished match.
func (p *NATSPublisher) PublishMatch(m storage.MatchRecord) error {
	data, err := Encode(m, time.Now())
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("broker: publish %s: %w", m.MatchID, err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("drain failed", "err", err)
		p.conn.Close()
	}
}

// Encode renders the wire payload for a match.
func Encode(m storage.MatchRecord, at time.Time) ([]byte, error) {
	data, err := json.Marshal(MatchFinished{Match: m, PublishedAt: at.UTC()})
	if err != nil {
		return nil, fmt.Errorf("broker: encode %s: %w", m.MatchID, err)
	}
	return data, nil
}

// Nop discards every event. Used when no NATS URL is configured.
type Nop struct{}

// PublishMatch does nothing.
func (Nop) PublishMatch(storage.MatchRecord) error { return nil }

// Close does nothing.
func (Nop) Close() {}

var (
	_ Publisher = (*NATSPublisher)(nil)
	_ Publisher = Nop{}
)
