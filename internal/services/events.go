package services

import (
	"context"
	"errors"
	"sync"
	"time"
)

type EventType string

const (
	EventProjectChanged      EventType = "project.changed"
	EventCollaboratorChanged EventType = "collaborator.changed"
	EventLogChanged          EventType = "log.changed"
)

// Event is a change notification. Consumers refetch; the event carries
// identifiers only.
type Event struct {
	Type      EventType `json:"type"`
	Action    string    `json:"action"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id,omitempty"`
	EntityID  string    `json:"entity_id,omitempty"`
	At        time.Time `json:"at"`
}

// Scopes lists the subscription scopes an event is delivered to.
func (e Event) Scopes() []string {
	scopes := make([]string, 0, 2)
	if e.ProjectID != "" {
		scopes = append(scopes, ProjectScope(e.ProjectID))
	}
	if e.UserID != "" {
		scopes = append(scopes, UserScope(e.UserID))
	}
	return scopes
}

func ProjectScope(projectID string) string { return "project:" + projectID }
func UserScope(userID string) string       { return "user:" + userID }

// Publisher delivers change notifications to an external channel.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// Fanout publishes to every publisher and joins the failures.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type hubClient struct {
	ch     chan Event
	scopes map[string]struct{}
}

func (c *hubClient) wants(e Event) bool {
	if len(c.scopes) == 0 {
		return true
	}
	for _, s := range e.Scopes() {
		if _, ok := c.scopes[s]; ok {
			return true
		}
	}
	return false
}

// Hub fans events out to in-process subscribers, such as SSE streams.
type Hub struct {
	clients map[string]*hubClient
	mu      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*hubClient),
	}
}

// Subscribe registers a client for the given scopes (all events when none
// are given) and returns its channel.
func (h *Hub) Subscribe(clientID string, scopes ...string) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.clients[clientID]; ok {
		close(old.ch)
	}

	c := &hubClient{
		// buffered so a slow reader does not block publishers
		ch:     make(chan Event, 100),
		scopes: make(map[string]struct{}, len(scopes)),
	}
	for _, s := range scopes {
		c.scopes[s] = struct{}{}
	}
	h.clients[clientID] = c
	return c.ch
}

func (h *Hub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[clientID]; ok {
		close(c.ch)
		delete(h.clients, clientID)
	}
}

// Publish never blocks; a client with a full buffer misses the event.
func (h *Hub) Publish(_ context.Context, event Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if !c.wants(event) {
			continue
		}
		select {
		case c.ch <- event:
		default:
		}
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.clients {
		close(c.ch)
		delete(h.clients, id)
	}
	return nil
}

var (
	globalHub *Hub
	hubOnce   sync.Once
)

// GetEventHub returns the process-wide hub.
func GetEventHub() *Hub {
	hubOnce.Do(func() {
		globalHub = NewHub()
	})
	return globalHub
}
