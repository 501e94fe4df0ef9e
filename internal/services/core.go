package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/huangang/buildlog/internal/config"
	"github.com/huangang/buildlog/pkg/logger"
)

// Options tunes the core. Zero fields take the defaults.
type Options struct {
	OpTimeout       time.Duration
	SlugMaxAttempts int
	SlugMaxLength   int
	PreviewLimit    int
	DefaultPageSize int
	MaxPageSize     int
	InviteTTL       time.Duration
	// Now is the clock; tests pin it.
	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{
		OpTimeout:       10 * time.Second,
		SlugMaxAttempts: 10,
		SlugMaxLength:   50,
		PreviewLimit:    5,
		DefaultPageSize: 20,
		MaxPageSize:     100,
		InviteTTL:       7 * 24 * time.Hour,
		Now:             func() time.Time { return time.Now().UTC() },
	}
}

// OptionsFromConfig builds Options from the core config section.
func OptionsFromConfig(cfg *config.CoreConfig) Options {
	return Options{
		OpTimeout:       cfg.OpTimeout,
		SlugMaxAttempts: cfg.SlugMaxAttempts,
		SlugMaxLength:   cfg.SlugMaxLength,
		PreviewLimit:    cfg.PreviewLimit,
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
		InviteTTL:       cfg.InviteTTL(),
	}.withDefaults()
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.OpTimeout <= 0 {
		o.OpTimeout = d.OpTimeout
	}
	if o.SlugMaxAttempts <= 0 {
		o.SlugMaxAttempts = d.SlugMaxAttempts
	}
	if o.SlugMaxLength <= 0 {
		o.SlugMaxLength = d.SlugMaxLength
	}
	if o.PreviewLimit <= 0 {
		o.PreviewLimit = d.PreviewLimit
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = d.DefaultPageSize
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = d.MaxPageSize
	}
	if o.InviteTTL <= 0 {
		o.InviteTTL = d.InviteTTL
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Core bundles the project access and aggregation services over one store.
type Core struct {
	Identity      *IdentityService
	Access        *AccessService
	Projects      *ProjectService
	Aggregator    *AggregatorService
	Collaborators *CollaboratorService
	Logs          *LogService
	Activities    *ActivityService
	Dashboard     *DashboardService
}

// NewCore wires every service. A nil publisher drops change notifications.
func NewCore(db *gorm.DB, publisher Publisher, opts Options) *Core {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	b := &base{db: db, events: publisher, opts: opts.withDefaults()}

	identity := &IdentityService{base: b}
	access := &AccessService{base: b}
	return &Core{
		Identity:      identity,
		Access:        access,
		Projects:      &ProjectService{base: b, identity: identity},
		Aggregator:    &AggregatorService{base: b},
		Collaborators: &CollaboratorService{base: b},
		Logs:          &LogService{base: b},
		Activities:    &ActivityService{base: b},
		Dashboard:     &DashboardService{base: b},
	}
}

// base is the state shared by every service.
type base struct {
	db     *gorm.DB
	events Publisher
	opts   Options
}

// begin bounds ctx by the operation timeout unless the caller already set
// a tighter deadline.
func (b *base) begin(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= b.opts.OpTimeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.opts.OpTimeout)
}

func (b *base) now() time.Time {
	return b.opts.Now().UTC()
}

// publish hands events to the notification channel after a commit.
// Failures are logged and counted, never returned.
func (b *base) publish(ctx context.Context, events ...Event) {
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		if ev.At.IsZero() {
			ev.At = b.now()
		}
		if err := b.events.Publish(ctx, ev); err != nil {
			eventsPublishedTotal.WithLabelValues(string(ev.Type), "error").Inc()
			logger.Warn().Err(err).
				Str("type", string(ev.Type)).
				Str("action", ev.Action).
				Str("project_id", ev.ProjectID).
				Msg("failed to publish change notification")
			continue
		}
		eventsPublishedTotal.WithLabelValues(string(ev.Type), "ok").Inc()
	}
}
