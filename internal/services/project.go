package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/huangang/buildlog/internal/models"
	"github.com/huangang/buildlog/internal/utils"
	"github.com/huangang/buildlog/pkg/logger"
)

const maxTitleLength = 200

// ProjectService owns the project lifecycle: create, update, archive,
// delete and restore.
type ProjectService struct {
	*base
	identity *IdentityService
}

type CreateProjectRequest struct {
	Title       string                 `json:"title" binding:"required"`
	Description string                 `json:"description"`
	Visibility  string                 `json:"visibility"`
	Tags        []string               `json:"tags"`
	Settings    map[string]interface{} `json:"project_settings"`
}

// UpdateProjectRequest is a partial update; nil fields are left alone.
type UpdateProjectRequest struct {
	Title       *string                `json:"title"`
	Description *string                `json:"description"`
	Visibility  *string                `json:"visibility"`
	Tags        *[]string              `json:"tags"`
	Settings    map[string]interface{} `json:"project_settings"`
}

func validateTitle(op, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", invalidf(op, "title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", invalidf(op, "title must be at most %d characters", maxTitleLength)
	}
	return title, nil
}

// Create makes actor the owner of a new project. The slug is derived from
// the title; on collision base-2, base-3 and so on are tried up to the
// configured attempt limit.
func (s *ProjectService) Create(ctx context.Context, req *CreateProjectRequest, actor Principal) (*models.Project, error) {
	const op = "project.create"

	title, err := validateTitle(op, req.Title)
	if err != nil {
		return nil, err
	}
	visibility := models.VisibilityPrivate
	if req.Visibility != "" {
		v, ok := models.ParseVisibility(req.Visibility)
		if !ok {
			return nil, invalidf(op, "unknown visibility %q", req.Visibility)
		}
		visibility = v
	}

	ctx, cancel := s.begin(ctx)
	defer cancel()

	owner, err := s.identity.EnsureUser(ctx, actor)
	if err != nil {
		return nil, err
	}

	tags := normalizeTags(req.Tags)
	base := utils.Slugify(title, s.opts.SlugMaxLength)

	for attempt := 1; attempt <= s.opts.SlugMaxAttempts; attempt++ {
		slug := utils.SlugCandidate(base, attempt, s.opts.SlugMaxLength)

		taken, err := s.slugTaken(ctx, slug)
		if err != nil {
			return nil, classifyStoreError(op, err)
		}
		if taken {
			continue
		}

		now := s.now()
		project := &models.Project{
			Title:           title,
			Slug:            slug,
			Description:     strings.TrimSpace(req.Description),
			Visibility:      visibility,
			Status:          models.ProjectActive,
			CreatedBy:       owner.ID,
			ProjectSettings: datatypes.JSONMap(req.Settings),
			Tags:            datatypes.JSONSlice[string](tags),
			LastActivityAt:  &now,
		}
		if project.ProjectSettings == nil {
			project.ProjectSettings = datatypes.JSONMap{}
		}
		if project.Tags == nil {
			project.Tags = datatypes.JSONSlice[string]{}
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return insertProject(tx, project, tags, now)
		})
		if err == nil {
			project.Owner = owner
			s.publish(ctx, Event{
				Type:      EventProjectChanged,
				Action:    "created",
				ProjectID: project.ID,
				UserID:    owner.ID,
				EntityID:  project.ID,
			})
			return project, nil
		}

		err = classifyStoreError(op, err)
		if KindOf(err) != KindConflict {
			return nil, err
		}
		// lost a race for this slug
		logger.Debug().Str("slug", slug).Int("attempt", attempt).Msg("slug taken, retrying")
	}

	return nil, conflictf(op, "could not allocate a unique slug for %q after %d attempts", title, s.opts.SlugMaxAttempts)
}

func (s *ProjectService) slugTaken(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Project{}).Where("slug = ?", slug).Count(&count).Error
	return count > 0, err
}

// insertProject writes the project, its explicit owner collaboration, its
// tag index and the audit entry.
func insertProject(tx *gorm.DB, project *models.Project, tags []string, now time.Time) error {
	if err := tx.Create(project).Error; err != nil {
		return err
	}

	ownerRow := models.NewCollaborator(project.ID, project.CreatedBy, models.RoleOwner, models.StatusActive)
	ownerRow.JoinedAt = &now
	if err := tx.Create(ownerRow).Error; err != nil {
		return err
	}

	if err := replaceTags(tx, project.ID, tags); err != nil {
		return err
	}

	return recordActivity(tx, project.ID, project.CreatedBy, models.ActivityProjectCreated,
		fmt.Sprintf("created project %q", project.Title), nil)
}

func replaceTags(tx *gorm.DB, projectID string, tags []string) error {
	if err := tx.Where("project_id = ?", projectID).Delete(&models.ProjectTag{}).Error; err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}
	rows := make([]models.ProjectTag, 0, len(tags))
	for _, t := range tags {
		rows = append(rows, models.ProjectTag{ProjectID: projectID, Tag: t})
	}
	return tx.Create(&rows).Error
}

// Update applies a partial update. Admins may change title, description,
// tags and settings; only the owner may change visibility. The slug is
// kept when the title changes so that links stay valid.
func (s *ProjectService) Update(ctx context.Context, projectIdent string, req *UpdateProjectRequest, actingID string) (*models.Project, error) {
	const op = "project.update"

	ctx, cancel := s.begin(ctx)
	defer cancel()

	project, err := loadProject(ctx, s.db, op, projectIdent, false)
	if err != nil {
		return nil, err
	}
	role, err := authorize(ctx, s.db, op, project, actingID, models.RoleAdmin)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	var activities []models.ActivityType
	var tags []string
	tagsChanged := false

	if req.Title != nil {
		title, err := validateTitle(op, *req.Title)
		if err != nil {
			return nil, err
		}
		if title != project.Title {
			updates["title"] = title
		}
	}
	if req.Description != nil {
		if desc := strings.TrimSpace(*req.Description); desc != project.Description {
			updates["description"] = desc
		}
	}
	if req.Tags != nil {
		tags = normalizeTags(*req.Tags)
		if tags == nil {
			tags = []string{}
		}
		updates["tags"] = datatypes.JSONSlice[string](tags)
		tagsChanged = true
	}
	if len(updates) > 0 {
		activities = append(activities, models.ActivityProjectUpdated)
	}
	if req.Settings != nil {
		updates["project_settings"] = datatypes.JSONMap(req.Settings)
		activities = append(activities, models.ActivitySettingsChanged)
	}
	if req.Visibility != nil {
		v, ok := models.ParseVisibility(*req.Visibility)
		if !ok {
			return nil, invalidf(op, "unknown visibility %q", *req.Visibility)
		}
		if v != project.Visibility {
			if role != models.RoleOwner {
				return nil, deny(op, project, actingID, role, models.RoleOwner)
			}
			updates["visibility"] = v
			activities = append(activities, models.ActivityVisibilityChanged)
		}
	}

	if len(updates) == 0 {
		return project, nil
	}
	updates["updated_at"] = s.now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Project{}).Where("id = ?", project.ID).Updates(updates).Error; err != nil {
			return err
		}
		if tagsChanged {
			if err := replaceTags(tx, project.ID, tags); err != nil {
				return err
			}
		}
		for _, a := range activities {
			meta := map[string]interface{}{}
			if a == models.ActivityVisibilityChanged {
				meta["from"] = string(project.Visibility)
				meta["to"] = string(updates["visibility"].(models.Visibility))
			}
			if err := recordActivity(tx, project.ID, actingID, a, string(a), meta); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	updated, err := loadProject(ctx, s.db, op, project.ID, false)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, Event{
		Type:      EventProjectChanged,
		Action:    "updated",
		ProjectID: project.ID,
		UserID:    actingID,
		EntityID:  project.ID,
	})
	return updated, nil
}

// Archive hides a project from default listings. Owner only.
func (s *ProjectService) Archive(ctx context.Context, projectIdent, actingID string) (*models.Project, error) {
	return s.transition(ctx, "project.archive", projectIdent, actingID,
		[]models.ProjectStatus{models.ProjectActive}, models.ProjectArchived, models.ActivityProjectArchived)
}

// Delete soft-deletes a project. Owner only; nothing is removed.
func (s *ProjectService) Delete(ctx context.Context, projectIdent, actingID string) (*models.Project, error) {
	return s.transition(ctx, "project.delete", projectIdent, actingID,
		[]models.ProjectStatus{models.ProjectActive, models.ProjectArchived}, models.ProjectDeleted, models.ActivityProjectDeleted)
}

// Restore brings an archived or deleted project back. Owner only.
func (s *ProjectService) Restore(ctx context.Context, projectIdent, actingID string) (*models.Project, error) {
	return s.transition(ctx, "project.restore", projectIdent, actingID,
		[]models.ProjectStatus{models.ProjectArchived, models.ProjectDeleted}, models.ProjectActive, models.ActivityProjectRestored)
}

// transition moves a project between statuses with a guarded update.
// Repeating a transition that already happened is a no-op.
func (s *ProjectService) transition(ctx context.Context, op, projectIdent, actingID string, from []models.ProjectStatus, to models.ProjectStatus, activity models.ActivityType) (*models.Project, error) {
	ctx, cancel := s.begin(ctx)
	defer cancel()

	project, err := loadProject(ctx, s.db, op, projectIdent, true)
	if err != nil {
		return nil, err
	}
	role, err := effectiveRole(ctx, s.db, op, actingID, project)
	if err != nil {
		return nil, err
	}
	if project.Status == models.ProjectDeleted && role != models.RoleOwner {
		return nil, projectNotFound(op, false)
	}
	if role != models.RoleOwner {
		return nil, deny(op, project, actingID, role, models.RoleOwner)
	}

	if project.Status == to {
		return project, nil
	}
	allowed := false
	for _, st := range from {
		if project.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, conflictf(op, "cannot move project from %s to %s", project.Status, to)
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Project{}).
			Where("id = ? AND status = ?", project.ID, project.Status).
			Updates(map[string]interface{}{"status": to, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conflictf(op, "project changed concurrently")
		}
		return recordActivity(tx, project.ID, actingID, activity, string(activity), map[string]interface{}{
			"from": string(project.Status),
			"to":   string(to),
		})
	})
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	project.Status = to
	project.UpdatedAt = now
	s.publish(ctx, Event{
		Type:      EventProjectChanged,
		Action:    string(to),
		ProjectID: project.ID,
		UserID:    actingID,
		EntityID:  project.ID,
	})
	return project, nil
}
