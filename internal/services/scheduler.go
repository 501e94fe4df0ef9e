package services

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/huangang/buildlog/internal/models"
	"github.com/huangang/buildlog/pkg/logger"
)

const (
	inviteExpiryLock = "invite_expiry"
	globalLockKey    = "global"
	defaultLockTTL   = 5 * time.Minute
)

// Scheduler runs the periodic maintenance jobs. Each run first takes a
// lease in scheduler_locks so that only one replica does the work.
type Scheduler struct {
	db            *gorm.DB
	collaborators *CollaboratorService
	spec          string
	holder        string
	lockTTL       time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewScheduler schedules invite expiry on spec, a robfig/cron expression
// such as "@every 1h" or "0 * * * *".
func NewScheduler(core *Core, spec string) *Scheduler {
	host, _ := os.Hostname()
	return &Scheduler{
		db:            core.Collaborators.db,
		collaborators: core.Collaborators,
		spec:          spec,
		holder:        host + "-" + uuid.NewString()[:8],
		lockTTL:       defaultLockTTL,
	}
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cron = cron.New(cron.WithLocation(time.UTC))
	id, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.RunInviteExpiry(context.Background()); err != nil {
			logger.Error().Err(err).Msg("[Scheduler] invite expiry failed")
		}
	})
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	logger.Info().Str("spec", s.spec).Msg("[Scheduler] started")
	return nil
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	logger.Info().Msg("[Scheduler] stopped")
}

// RunInviteExpiry expires stale invites if this replica holds the lease.
// It reports -1 when another replica holds it.
func (s *Scheduler) RunInviteExpiry(ctx context.Context) (int, error) {
	now := s.collaborators.now()
	ok, err := s.acquire(ctx, inviteExpiryLock, now)
	if err != nil {
		return 0, classifyStoreError("scheduler.lock", err)
	}
	if !ok {
		logger.Debug().Str("lock", inviteExpiryLock).Msg("[Scheduler] lease held elsewhere, skipping")
		return -1, nil
	}
	defer s.release(inviteExpiryLock)

	return s.collaborators.ExpirePendingInvites(ctx, now)
}

// acquire takes the named lease when it is free, expired or already ours.
func (s *Scheduler) acquire(ctx context.Context, name string, now time.Time) (bool, error) {
	lock := models.SchedulerLock{
		LockName:  name,
		LockKey:   globalLockKey,
		LockedBy:  s.holder,
		LockedAt:  now,
		ExpiresAt: now.Add(s.lockTTL),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	res = s.db.WithContext(ctx).Model(&models.SchedulerLock{}).
		Where("lock_name = ? AND lock_key = ?", name, globalLockKey).
		Where("expires_at < ? OR locked_by = ?", now, s.holder).
		Updates(map[string]interface{}{
			"locked_by":  s.holder,
			"locked_at":  now,
			"expires_at": now.Add(s.lockTTL),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Scheduler) release(name string) {
	err := s.db.Model(&models.SchedulerLock{}).
		Where("lock_name = ? AND lock_key = ? AND locked_by = ?", name, globalLockKey, s.holder).
		Update("expires_at", time.Unix(0, 0).UTC()).Error
	if err != nil {
		logger.Warn().Err(err).Str("lock", name).Msg("[Scheduler] failed to release lease")
	}
}
