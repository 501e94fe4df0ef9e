package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huangang/buildlog/internal/models"
)

func TestProjectService_Create(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, err := env.core.Projects.Create(ctx, &CreateProjectRequest{
		Title:       "  Hello, World!  ",
		Description: " first ",
		Tags:        []string{"Go", "go", " web "},
		Settings:    map[string]interface{}{"theme": "dark"},
	}, Principal{ID: "alice", Email: "alice@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "Hello, World!", p.Title)
	assert.Equal(t, "hello-world", p.Slug)
	assert.Equal(t, "first", p.Description)
	assert.Equal(t, models.VisibilityPrivate, p.Visibility)
	assert.Equal(t, models.ProjectActive, p.Status)
	assert.Equal(t, "alice", p.CreatedBy)
	assert.Equal(t, []string{"go", "web"}, []string(p.Tags))
	require.NotNil(t, p.Owner)
	assert.Equal(t, "alice", p.Owner.Name)

	var ownerRow models.ProjectCollaborator
	require.NoError(t, env.db.Where("project_id = ? AND user_id = ?", p.ID, "alice").Take(&ownerRow).Error)
	assert.Equal(t, models.RoleOwner, ownerRow.Role)
	assert.Equal(t, models.StatusActive, ownerRow.Status)
	assert.NotNil(t, ownerRow.JoinedAt)

	var tagCount int64
	env.db.Model(&models.ProjectTag{}).Where("project_id = ?", p.ID).Count(&tagCount)
	assert.EqualValues(t, 2, tagCount)

	var activities []models.ProjectActivity
	env.db.Where("project_id = ?", p.ID).Find(&activities)
	require.Len(t, activities, 1)
	assert.Equal(t, models.ActivityProjectCreated, activities[0].Type)

	ev := env.events.Last()
	assert.Equal(t, EventProjectChanged, ev.Type)
	assert.Equal(t, "created", ev.Action)
	assert.Equal(t, p.ID, ev.ProjectID)
}

func TestProjectService_CreateSlugCollision(t *testing.T) {
	env := newTestEnv(t)

	first := env.project(t, "alice", "Hello World", models.VisibilityPublic)
	second := env.project(t, "bob", "Hello World", models.VisibilityPublic)
	third := env.project(t, "carol", "hello   world", models.VisibilityPublic)

	assert.Equal(t, "hello-world", first.Slug)
	assert.Equal(t, "hello-world-2", second.Slug)
	assert.Equal(t, "hello-world-3", third.Slug)
}

func TestProjectService_CreateSlugExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.core.Projects.opts.SlugMaxAttempts = 2

	env.project(t, "alice", "Same", models.VisibilityPublic)
	env.project(t, "alice", "Same", models.VisibilityPublic)

	_, err := env.core.Projects.Create(context.Background(), &CreateProjectRequest{Title: "Same"}, Principal{ID: "alice"})
	assertKind(t, err, KindConflict)
}

func TestProjectService_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *CreateProjectRequest
		who  Principal
	}{
		{"empty title", &CreateProjectRequest{Title: "   "}, Principal{ID: "alice"}},
		{"long title", &CreateProjectRequest{Title: strings.Repeat("x", maxTitleLength+1)}, Principal{ID: "alice"}},
		{"bad visibility", &CreateProjectRequest{Title: "ok", Visibility: "secret"}, Principal{ID: "alice"}},
		{"no principal", &CreateProjectRequest{Title: "ok"}, Principal{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.core.Projects.Create(ctx, tt.req, tt.who)
			assertKind(t, err, KindInvalid)
		})
	}
}

func TestProjectService_CreateSymbolOnlyTitle(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "alice", "!!!", models.VisibilityPrivate)
	assert.Equal(t, "project", p.Slug)
}

func TestProjectService_Update(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.project(t, "alice", "Original", models.VisibilityPrivate, "a")
	env.member(t, p, "adam", models.RoleAdmin)

	title := "Renamed"
	tags := []string{"B", "c"}
	updated, err := env.core.Projects.Update(ctx, p.ID, &UpdateProjectRequest{
		Title:    &title,
		Tags:     &tags,
		Settings: map[string]interface{}{"k": "v"},
	}, "adam")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, "original", updated.Slug, "slug stays stable")
	assert.Equal(t, []string{"b", "c"}, []string(updated.Tags))
	assert.Equal(t, "v", updated.ProjectSettings["k"])

	var tagRows []models.ProjectTag
	env.db.Where("project_id = ?", p.ID).Order("tag").Find(&tagRows)
	require.Len(t, tagRows, 2)
	assert.Equal(t, "b", tagRows[0].Tag)

	var types []string
	env.db.Model(&models.ProjectActivity{}).Where("project_id = ?", p.ID).Pluck("type", &types)
	assert.Contains(t, types, string(models.ActivityProjectUpdated))
	assert.Contains(t, types, string(models.ActivitySettingsChanged))
}

func TestProjectService_UpdateVisibilityOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.project(t, "alice", "Vis", models.VisibilityPrivate)
	env.member(t, p, "adam", models.RoleAdmin)
	env.member(t, p, "eve", models.RoleEditor)

	public := "public"
	_, err := env.core.Projects.Update(ctx, p.ID, &UpdateProjectRequest{Visibility: &public}, "adam")
	assertKind(t, err, KindForbidden)

	title := "x"
	_, err = env.core.Projects.Update(ctx, p.ID, &UpdateProjectRequest{Title: &title}, "eve")
	assertKind(t, err, KindForbidden)

	_, err = env.core.Projects.Update(ctx, p.ID, &UpdateProjectRequest{Title: &title}, "stranger")
	assertKind(t, err, KindNotFound)
	assert.True(t, IsConcealed(err))

	updated, err := env.core.Projects.Update(ctx, p.ID, &UpdateProjectRequest{Visibility: &public}, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.VisibilityPublic, updated.Visibility)

	var entry models.ProjectActivity
	require.NoError(t, env.db.Where("project_id = ? AND type = ?", p.ID, models.ActivityVisibilityChanged).Take(&entry).Error)
	assert.Equal(t, "private", entry.Metadata["from"])
	assert.Equal(t, "public", entry.Metadata["to"])
}

func TestProjectService_UpdateNoop(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "alice", "Same", models.VisibilityPrivate)
	before := len(env.events.Events())

	same := "Same"
	got, err := env.core.Projects.Update(context.Background(), p.ID, &UpdateProjectRequest{Title: &same}, "alice")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Len(t, env.events.Events(), before)
}

func TestProjectService_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.project(t, "alice", "Life", models.VisibilityPublic)
	env.member(t, p, "adam", models.RoleAdmin)

	_, err := env.core.Projects.Archive(ctx, p.ID, "adam")
	assertKind(t, err, KindForbidden)

	archived, err := env.core.Projects.Archive(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectArchived, archived.Status)

	again, err := env.core.Projects.Archive(ctx, p.ID, "alice")
	require.NoError(t, err, "archive is idempotent")
	assert.Equal(t, models.ProjectArchived, again.Status)

	deleted, err := env.core.Projects.Delete(ctx, p.Slug, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectDeleted, deleted.Status)

	_, err = env.core.Aggregator.GetProject(ctx, p.ID, "alice")
	assertKind(t, err, KindNotFound)

	_, err = env.core.Projects.Restore(ctx, p.ID, "adam")
	assertKind(t, err, KindNotFound)

	_, err = env.core.Projects.Archive(ctx, p.ID, "alice")
	assertKind(t, err, KindConflict)

	restored, err := env.core.Projects.Restore(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectActive, restored.Status)

	var count int64
	env.db.Model(&models.Project{}).Where("id = ?", p.ID).Count(&count)
	assert.EqualValues(t, 1, count, "rows are never removed")
}

func TestValidateTitleCountsCharacters(t *testing.T) {
	got, err := validateTitle("test", strings.Repeat("é", maxTitleLength))
	require.NoError(t, err)
	assert.Equal(t, maxTitleLength, len([]rune(got)))

	_, err = validateTitle("test", strings.Repeat("é", maxTitleLength+1))
	assertKind(t, err, KindInvalid)
}
