package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huangang/buildlog/internal/models"
)

func TestScheduler_RunInviteExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.project(t, "alice", "Cron", models.VisibilityPrivate)
	env.user(t, "bob")
	_, err := env.core.Collaborators.Invite(ctx, p.ID, "bob", models.RoleViewer, "alice")
	require.NoError(t, err)
	env.clock.Advance(8 * 24 * time.Hour)

	s := NewScheduler(env.core, "@every 1h")
	n, err := s.RunInviteExpiry(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var lock models.SchedulerLock
	require.NoError(t, env.db.Where("lock_name = ?", inviteExpiryLock).Take(&lock).Error)
	assert.Equal(t, s.holder, lock.LockedBy)
	assert.True(t, lock.ExpiresAt.Before(env.clock.Now()), "lease is released after the run")
}

func TestScheduler_LeaseExcludesPeers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := NewScheduler(env.core, "@every 1h")
	b := NewScheduler(env.core, "@every 1h")
	now := env.clock.Now()

	ok, err := a.acquire(ctx, "job", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.acquire(ctx, "job", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "held by a")

	ok, err = a.acquire(ctx, "job", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "holder may renew")

	ok, err = b.acquire(ctx, "job", now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok, "expired leases can be taken over")
}

func TestScheduler_StartStop(t *testing.T) {
	env := newTestEnv(t)

	bad := NewScheduler(env.core, "not a schedule")
	assert.Error(t, bad.Start())

	s := NewScheduler(env.core, "@every 1h")
	require.NoError(t, s.Start())
	s.Stop()
}
