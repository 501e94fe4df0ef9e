package services

import (
	"github.com/huangang/buildlog/internal/config"
	"github.com/huangang/buildlog/pkg/logger"
)

// EventBus is the configured notification channel. Publisher goes to the
// core; Stop releases workers and connections.
type EventBus struct {
	Publisher Publisher
	Mode      string
	stop      []func()
}

func (b *EventBus) Stop() {
	for i := len(b.stop) - 1; i >= 0; i-- {
		b.stop[i]()
	}
}

// InitEventBus builds the publisher for cfg.Events.Driver. Every mode ends
// at hub; remote drivers fall back to the hub alone when unreachable.
func InitEventBus(cfg *config.Config, hub *Hub) *EventBus {
	switch cfg.Events.Driver {
	case "redis":
		queue, err := NewQueuePublisher(&cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, events stay in-process")
			break
		}
		worker := NewEventWorker(&cfg.Redis, hub)
		if err := worker.Start(); err != nil {
			logger.Warn().Err(err).Msg("event worker failed to start")
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("events queued through Redis")
		return &EventBus{
			Publisher: queue,
			Mode:      "redis",
			stop:      []func(){worker.Stop, func() { queue.Close() }},
		}

	case "nats":
		nc, err := ConnectNATS(cfg.NATS.URL)
		if err != nil {
			logger.Warn().Err(err).Msg("NATS unavailable, events stay in-process")
			break
		}
		sub, err := RelayNATS(nc, cfg.Events.SubjectPrefix, hub)
		if err != nil {
			logger.Warn().Err(err).Msg("NATS relay failed, events stay in-process")
			nc.Close()
			break
		}
		pub := NewNATSPublisher(nc, cfg.Events.SubjectPrefix)
		logger.Info().Str("url", cfg.NATS.URL).Msg("events published to NATS")
		return &EventBus{
			Publisher: pub,
			Mode:      "nats",
			stop:      []func(){func() { sub.Unsubscribe() }, func() { pub.Close() }},
		}
	}

	return &EventBus{Publisher: hub, Mode: "memory"}
}
