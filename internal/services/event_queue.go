package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/huangang/buildlog/internal/config"
	"github.com/huangang/buildlog/pkg/logger"
)

const (
	TaskTypeEvent = "event:publish"
	eventQueue    = "events"
)

// QueuePublisher enqueues change notifications on a Redis-backed asynq
// queue. An EventWorker relays them to the local hub.
type QueuePublisher struct {
	client *asynq.Client
}

func redisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewQueuePublisher connects to Redis and verifies it is reachable.
func NewQueuePublisher(cfg *config.RedisConfig) (*QueuePublisher, error) {
	opt := redisOpt(cfg)
	client := asynq.NewClient(opt)

	inspector := asynq.NewInspector(opt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &QueuePublisher{client: client}, nil
}

func newEventTask(event Event) (*asynq.Task, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeEvent, payload), nil
}

func (q *QueuePublisher) Publish(ctx context.Context, event Event) error {
	task, err := newEventTask(event)
	if err != nil {
		return err
	}

	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(eventQueue),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", event.Type, err)
	}

	logger.Debug().Str("task_id", info.ID).Str("type", string(event.Type)).Msg("event enqueued")
	return nil
}

func (q *QueuePublisher) Close() error {
	return q.client.Close()
}

// EventWorker consumes queued events and hands them to a local publisher.
type EventWorker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	target  Publisher
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func NewEventWorker(cfg *config.RedisConfig, target Publisher) *EventWorker {
	server := asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				eventQueue: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warn().Err(err).Str("task", task.Type()).Msg("event task failed")
			}),
		},
	)

	return &EventWorker{
		server: server,
		mux:    asynq.NewServeMux(),
		target: target,
	}
}

func (w *EventWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.mux.HandleFunc(TaskTypeEvent, w.handleEvent)

	w.running = true
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		logger.Info().Msg("event worker starting")
		if err := w.server.Run(w.mux); err != nil {
			logger.Error().Err(err).Msg("event worker stopped")
		}
	}()

	return nil
}

func (w *EventWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	w.server.Shutdown()
	w.running = false
	w.wg.Wait()
	logger.Info().Msg("event worker shut down")
}

func (w *EventWorker) handleEvent(ctx context.Context, t *asynq.Task) error {
	var event Event
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		// malformed payloads will never succeed
		return fmt.Errorf("decode event: %v: %w", err, asynq.SkipRetry)
	}
	return w.target.Publish(ctx, event)
}
