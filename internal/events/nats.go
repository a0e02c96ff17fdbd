package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/nats-io/nats.go"
)

type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher fans room activity out to "<prefix>.rooms.<room_id>.<kind>".
type NATSPublisher struct {
	nc     natsConn
	prefix string
	logger *slog.Logger
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func Connect(cfg *NATSConfig, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("playsync"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return nc, nil
}

func NewNATSPublisher(nc natsConn, prefix string, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{
		nc:     nc,
		prefix: prefix,
		logger: logger,
	}
}

func (p *NATSPublisher) subject(event *Event) string {
	return p.prefix + ".rooms." + subjectToken(event.RoomId) + "." + string(event.Kind)
}

// subjectToken keeps a room id inside a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}

	return strings.Map(func(r rune) rune {
		if r == '.' || r == '*' || r == '>' || unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return '_'
		}
		return r
	}, s)
}

func (p *NATSPublisher) Publish(ctx context.Context, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to marshal event", "error", err)
		return
	}

	if err := p.nc.Publish(p.subject(event), data); err != nil {
		p.logger.WarnContext(ctx, "failed to publish event", "kind", event.Kind, "error", err)
	}
}
