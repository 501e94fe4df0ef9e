package services

import (
	"context"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/huangang/buildlog/internal/models"
)

// ActivityService reads the per-project audit trail.
type ActivityService struct {
	*base
}

// recordActivity writes an audit entry inside the caller's transaction.
func recordActivity(tx *gorm.DB, projectID, userID string, typ models.ActivityType, description string, meta map[string]interface{}) error {
	entry := &models.ProjectActivity{
		ProjectID:   projectID,
		UserID:      userID,
		Type:        typ,
		Description: description,
	}
	if len(meta) > 0 {
		entry.Metadata = datatypes.JSONMap(meta)
	}
	return tx.Create(entry).Error
}

type ActivityQuery struct {
	Type  string `form:"type"`
	Page  int    `form:"page"`
	Limit int    `form:"limit"`
}

// List returns a project's activities, newest first. Admins and the owner
// only.
func (s *ActivityService) List(ctx context.Context, projectIdent, callerID string, q ActivityQuery) (*Page[models.ProjectActivity], error) {
	const op = "activity.list"

	page, limit, err := normalizePage(op, q.Page, q.Limit, s.opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.begin(ctx)
	defer cancel()

	project, err := loadProject(ctx, s.db, op, projectIdent, false)
	if err != nil {
		return nil, err
	}
	if _, err := authorize(ctx, s.db, op, project, callerID, models.RoleAdmin); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&models.ProjectActivity{}).Where("project_id = ?", project.ID)
	if q.Type != "" {
		query = query.Where("type = ?", q.Type)
	}

	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, classifyStoreError(op, err)
	}

	var items []models.ProjectActivity
	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	return newPage(items, page, limit, total), nil
}
