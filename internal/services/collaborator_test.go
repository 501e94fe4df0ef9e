package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huangang/buildlog/internal/models"
)

func TestCollaboratorService_InviteAccept(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.project(t, "alice", "Team", models.VisibilityPrivate)
	env.user(t, "bob")

	invite, err := env.core.Collaborators.Invite(ctx, p.Slug, "bob", models.RoleEditor, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, invite.Status)
	require.NotNil(t, invite.InvitedBy)
	assert.Equal(t, "alice", *invite.InvitedBy)
	assert.Nil(t, invite.JoinedAt)
	assert.Equal(t, "bob", env.events.Last().UserID)

	// a pending invite grants nothing yet
	role, err := env.core.Access.EffectiveRole(ctx, "bob", p)
	require.NoError(t, err)
	assert.Equal(t, models.RoleNone, role)

	_, err = env.core.Collaborators.Invite(ctx, p.ID, "bob", models.RoleViewer, "alice")
	assertKind(t, err, KindConflict)

	_, err = env.core.Collaborators.Accept(ctx, invite.ID, "alice")
	assertKind(t, err, KindForbidden)

	accepted, err := env.core.Collaborators.Accept(ctx, invite.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, accepted.Status)
	require.NotNil(t, accepted.JoinedAt)
	assert.True(t, accepted.Permissions.Data().Write)

	role, err = env.core.Access.EffectiveRole(ctx, "bob", p)
	require.NoError(t, err)
	assert.Equal(t, models.RoleEditor, role)

	_, err = env.core.Collaborators.Accept(ctx, invite.ID, "bob")
	assertKind(t, err, KindConflict)

	var stored models.Project
	require.NoError(t, env.db.Where("id = ?", p.ID).Take(&stored).Error)
	require.NotNil(t, stored.LastActivityAt)
	assert.False(t, stored.LastActivityAt.Before(*accepted.JoinedAt))
}

func TestCollaboratorService_InviteRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.project(t, "alice", "Rules", models.VisibilityPrivate)
	env.member(t, p, "adam", models.RoleAdmin)
	env.member(t, p, "eve", models.RoleEditor)
	env.user(t, "bob")

	tests := []struct {
		name    string
		invitee string
		role    models.Role
		actor   string
		kind    Kind
	}{
		{"unknown role", "bob", "superuser", "alice", KindInvalid},
		{"none role", "bob", models.RoleNone, "alice", KindInvalid},
		{"owner role", "bob", models.RoleOwner, "alice", KindForbidden},
		{"admin cannot grant admin", "bob", models.RoleAdmin, "adam", KindForbidden},
		{"editor cannot invite", "bob", models.RoleViewer, "eve", KindForbidden},
		{"stranger sees nothing", "bob", models.RoleViewer, "mallory", KindNotFound},
		{"owner is already in", "alice", models.RoleViewer, "adam", KindConflict},
		{"missing user", "ghost", models.RoleViewer, "alice", KindNotFound},
		{"empty invitee", "", models.RoleViewer, "alice", KindInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.core.Collaborators.Invite(ctx, p.ID, tt.invitee, tt.role, tt.actor)
			assertKind(t, err, tt.kind)
		})
	}

	invite, err := env.core.Collaborators.Invite(ctx, p.ID, "bob", models.RoleEditor, "adam")
	require.NoError(t, err, "admins may grant roles below their own")
	assert.Equal(t, models.RoleEditor, invite.Role)

	owner, err := env.core.Collaborators.Invite(ctx, p.ID, "eve", models.RoleAdmin, "alice")
	assertKind(t, err, KindConflict)
	assert.Nil(t, owner)
}

func TestCollaboratorService_LegacyContributorRole(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "alice", "Legacy", models.VisibilityPrivate)
	env.user(t, "bob")

	invite, err := env.core.Collaborators.Invite(context.Background(), p.ID, "bob", "contributor", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.RoleEditor, invite.Role)
}

func TestCollaboratorService_DeclineFreesSlot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.project(t, "alice", "Decline", models.VisibilityPrivate)
	env.user(t, "bob")

	invite, err := env.core.Collaborators.Invite(ctx, p.ID, "bob", models.RoleViewer, "alice")
	require.NoError(t, err)

	_, err = env.core.Collaborators.Decline(ctx, invite.ID, "mallory")
	assertKind(t, err, KindNotFound)
	assert.True(t, IsConcealed(err))

	declined, err := env.core.Collaborators.Decline(ctx, invite.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, declined.Status)
	assert.Nil(t, declined.ActiveKey)

	_, err = env.core.Collaborators.Accept(ctx, invite.ID, "bob")
	assertKind(t, err, KindConflict)

	again, err := env.core.Collaborators.Invite(ctx, p.ID, "bob", models.RoleEditor, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, invite.ID, again.ID)
}

func TestCollaboratorService_InviteExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.project(t, "alice", "Expiry", models.VisibilityPrivate)
	env.user(t, "bob")
	env.user(t, "carol")

	stale, err := env.core.Collaborators.Invite(ctx, p.ID, "bob", models.RoleViewer, "alice")
	require.NoError(t, err)
	lazy, err := env.core.Collaborators.Invite(ctx, p.ID, "carol", models.RoleViewer, "alice")
	require.NoError(t, err)

	env.clock.Advance(8 * 24 * time.Hour)

	_, err = env.core.Collaborators.Accept(ctx, lazy.ID, "carol")
	assertKind(t, err, KindConflict)

	n, err := env.core.Collaborators.ExpirePendingInvites(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var row models.ProjectCollaborator
	require.NoError(t, env.db.Where("id = ?", stale.ID).Take(&row).Error)
	assert.Equal(t, models.StatusRemoved, row.Status)
	assert.Nil(t, row.ActiveKey)

	var expired int64
	env.db.Model(&models.ProjectActivity{}).
		Where("project_id = ? AND type = ?", p.ID, models.ActivityInviteExpired).
		Count(&expired)
	assert.EqualValues(t, 2, expired)

	n, err = env.core.Collaborators.ExpirePendingInvites(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCollaboratorService_ChangeRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.project(t, "alice", "Roles", models.VisibilityPrivate)
	adam := env.member(t, p, "adam", models.RoleAdmin)
	bob := env.member(t, p, "bob", models.RoleViewer)

	var ownerRow models.ProjectCollaborator
	require.NoError(t, env.db.Where("project_id = ? AND user_id = ?", p.ID, "alice").Take(&ownerRow).Error)

	changed, err := env.core.Collaborators.ChangeRole(ctx, bob.ID, models.RoleEditor, "adam")
	require.NoError(t, err)
	assert.Equal(t, models.RoleEditor, changed.Role)
	assert.True(t, changed.Permissions.Data().Write)
	assert.False(t, changed.Permissions.Data().Admin)

	_, err = env.core.Collaborators.ChangeRole(ctx, bob.ID, models.RoleAdmin, "adam")
	assertKind(t, err, KindForbidden)

	_, err = env.core.Collaborators.ChangeRole(ctx, adam.ID, models.RoleViewer, "adam")
	assertKind(t, err, KindForbidden)

	_, err = env.core.Collaborators.ChangeRole(ctx, ownerRow.ID, models.RoleAdmin, "alice")
	assertKind(t, err, KindForbidden)

	_, err = env.core.Collaborators.ChangeRole(ctx, bob.ID, models.RoleOwner, "alice")
	assertKind(t, err, KindForbidden)

	_, err = env.core.Collaborators.ChangeRole(ctx, bob.ID, models.RoleViewer, "bob")
	assertKind(t, err, KindForbidden)

	_, err = env.core.Collaborators.ChangeRole(ctx, bob.ID, models.RoleViewer, "mallory")
	assertKind(t, err, KindNotFound)

	promoted, err := env.core.Collaborators.ChangeRole(ctx, bob.ID, models.RoleAdmin, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, promoted.Role)

	role, err := env.core.Access.EffectiveRole(ctx, "bob", p)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, role)

	var entry models.ProjectActivity
	require.NoError(t, env.db.Where("project_id = ? AND type = ?", p.ID, models.ActivityRoleChanged).
		Order("created_at DESC").Order("id DESC").Take(&entry).Error)
	assert.Equal(t, "bob", entry.Metadata["user_id"])
}

func TestCollaboratorService_Remove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.project(t, "alice", "Remove", models.VisibilityPrivate)
	adam := env.member(t, p, "adam", models.RoleAdmin)
	bob := env.member(t, p, "bob", models.RoleEditor)
	carol := env.member(t, p, "carol", models.RoleViewer)

	var ownerRow models.ProjectCollaborator
	require.NoError(t, env.db.Where("project_id = ? AND user_id = ?", p.ID, "alice").Take(&ownerRow).Error)

	_, err := env.core.Collaborators.Remove(ctx, ownerRow.ID, "alice")
	assertKind(t, err, KindForbidden)
	_, err = env.core.Collaborators.Remove(ctx, ownerRow.ID, "adam")
	assertKind(t, err, KindForbidden)

	_, err = env.core.Collaborators.Remove(ctx, carol.ID, "bob")
	assertKind(t, err, KindForbidden)

	removed, err := env.core.Collaborators.Remove(ctx, bob.ID, "adam")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRemoved, removed.Status)

	again, err := env.core.Collaborators.Remove(ctx, bob.ID, "adam")
	require.NoError(t, err, "removal is idempotent")
	assert.Equal(t, models.StatusRemoved, again.Status)

	self, err := env.core.Collaborators.Remove(ctx, carol.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRemoved, self.Status)

	_, err = env.core.Collaborators.Remove(ctx, adam.ID, "adam")
	require.NoError(t, err)

	role, err := env.core.Access.EffectiveRole(ctx, "bob", p)
	require.NoError(t, err)
	assert.Equal(t, models.RoleNone, role)

	var total int64
	env.db.Model(&models.ProjectCollaborator{}).Where("project_id = ?", p.ID).Count(&total)
	assert.EqualValues(t, 4, total, "rows are marked, not deleted")

	reinvite, err := env.core.Collaborators.Invite(ctx, p.ID, "bob", models.RoleViewer, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reinvite.Status)
}

func TestCollaboratorService_List(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.project(t, "alice", "Listing", models.VisibilityPublic)
	env.member(t, p, "vera", models.RoleViewer)
	env.clock.Advance(time.Minute)
	env.member(t, p, "adam", models.RoleAdmin)
	env.clock.Advance(time.Minute)
	env.member(t, p, "eve", models.RoleEditor)
	env.user(t, "bob")
	_, err := env.core.Collaborators.Invite(ctx, p.ID, "bob", models.RoleViewer, "alice")
	require.NoError(t, err)

	rows, err := env.core.Collaborators.List(ctx, p.ID, "", false)
	require.NoError(t, err)
	var users []string
	for _, r := range rows {
		users = append(users, r.UserID)
	}
	assert.Equal(t, []string{"alice", "adam", "eve", "vera"}, users)
	require.NotNil(t, rows[0].User)

	_, err = env.core.Collaborators.List(ctx, p.ID, "eve", true)
	assertKind(t, err, KindForbidden)

	all, err := env.core.Collaborators.List(ctx, p.ID, "adam", true)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	pending, err := env.core.Collaborators.PendingInvites(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, p.ID, pending[0].ProjectID)
}

func TestCollaboratorService_ClampsForeignOwnerRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.project(t, "alice", "Clamp", models.VisibilityPrivate)
	env.user(t, "bob")

	row := models.NewCollaborator(p.ID, "bob", models.RoleOwner, models.StatusActive)
	require.NoError(t, env.db.Create(row).Error)

	role, err := env.core.Access.EffectiveRole(ctx, "bob", p)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, role)

	_, err = env.core.Projects.Delete(ctx, p.ID, "bob")
	assertKind(t, err, KindForbidden)
}
