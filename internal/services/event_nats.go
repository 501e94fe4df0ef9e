package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/huangang/buildlog/pkg/logger"
)

// NATSPublisher publishes events on "<prefix>.<type>.<project_id>".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// ConnectNATS dials the server with reconnects enabled.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("buildlog"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "buildlog.events"
	}
	return &NATSPublisher{conn: nc, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(event Event) string {
	kind := strings.ReplaceAll(string(event.Type), ".", "_")
	project := event.ProjectID
	if project == "" {
		project = "none"
	}
	return p.prefix + "." + kind + "." + project
}

func (p *NATSPublisher) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.Subject(event), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// RelayNATS subscribes to every event under prefix and republishes it to
// target, so that each process's hub sees changes made by its peers.
func RelayNATS(nc *nats.Conn, prefix string, target Publisher) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = "buildlog.events"
	}
	return nc.Subscribe(strings.TrimSuffix(prefix, ".")+".>", func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed event")
			return
		}
		if err := target.Publish(context.Background(), event); err != nil {
			logger.Warn().Err(err).Str("subject", msg.Subject).Msg("event relay failed")
		}
	})
}
