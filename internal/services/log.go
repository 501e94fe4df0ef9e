package services

import (
	"context"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/huangang/buildlog/internal/models"
)

const (
	maxLogTitleLength   = 300
	maxLogSummaryLength = 1000
	maxLogImages        = 10
)

// LogService appends to and reads a project's timeline.
type LogService struct {
	*base
}

type CreateLogRequest struct {
	Type         string                 `json:"type" binding:"required"`
	Title        string                 `json:"title"`
	Content      string                 `json:"content"`
	Summary      string                 `json:"summary"`
	SourceLink   string                 `json:"source_link"`
	Images       []string               `json:"images"`
	Tags         []string               `json:"tags"`
	TimelineDate *time.Time             `json:"timeline_date"`
	IsPinned     bool                   `json:"is_pinned"`
	Metadata     map[string]interface{} `json:"metadata"`
}

type LogQuery struct {
	Type  string `form:"type"`
	Page  int    `form:"page"`
	Limit int    `form:"limit"`
}

func validateLog(op string, req *CreateLogRequest) (models.LogType, error) {
	typ, ok := models.ParseLogType(req.Type)
	if !ok {
		return "", invalidf(op, "unknown log type %q", req.Type)
	}
	if typ == models.LogCode {
		return "", invalidf(op, "code logs are not supported yet")
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Content = strings.TrimSpace(req.Content)
	req.SourceLink = strings.TrimSpace(req.SourceLink)
	if utf8.RuneCountInString(req.Title) > maxLogTitleLength {
		return "", invalidf(op, "title must be at most %d characters", maxLogTitleLength)
	}
	if utf8.RuneCountInString(req.Summary) > maxLogSummaryLength {
		return "", invalidf(op, "summary must be at most %d characters", maxLogSummaryLength)
	}

	switch typ {
	case models.LogText:
		if req.Content == "" {
			return "", invalidf(op, "text logs need content")
		}
	case models.LogImage:
		if len(req.Images) == 0 {
			return "", invalidf(op, "image logs need at least one image")
		}
		if len(req.Images) > maxLogImages {
			return "", invalidf(op, "at most %d images per log", maxLogImages)
		}
		for _, img := range req.Images {
			if !isHTTPURL(img) {
				return "", invalidf(op, "invalid image url %q", img)
			}
		}
	case models.LogURL:
		if !isHTTPURL(req.SourceLink) {
			return "", invalidf(op, "url logs need a valid http(s) source_link")
		}
	case models.LogMilestone:
		if req.Title == "" {
			return "", invalidf(op, "milestones need a title")
		}
	}
	if req.SourceLink != "" && !isHTTPURL(req.SourceLink) {
		return "", invalidf(op, "invalid source_link")
	}
	return typ, nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// CreateLog appends an entry to the project's timeline. Editors and above
// only; timeline_date defaults to now.
func (s *LogService) CreateLog(ctx context.Context, projectIdent string, req *CreateLogRequest, actingID string) (*models.ProjectLog, error) {
	const op = "log.create"

	if req == nil {
		return nil, invalidf(op, "request is required")
	}
	typ, err := validateLog(op, req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.begin(ctx)
	defer cancel()

	project, err := loadProject(ctx, s.db, op, projectIdent, false)
	if err != nil {
		return nil, err
	}
	if _, err := authorize(ctx, s.db, op, project, actingID, models.RoleEditor); err != nil {
		return nil, err
	}
	if project.Status == models.ProjectArchived {
		return nil, conflictf(op, "project is archived")
	}

	now := s.now()
	entry := &models.ProjectLog{
		ProjectID:    project.ID,
		AuthorID:     actingID,
		Type:         typ,
		Title:        req.Title,
		Content:      req.Content,
		Summary:      req.Summary,
		SourceLink:   req.SourceLink,
		Images:       datatypes.JSONSlice[string](req.Images),
		Tags:         datatypes.JSONSlice[string](normalizeTags(req.Tags)),
		TimelineDate: now,
		IsPinned:     req.IsPinned,
		CreatedAt:    now,
	}
	if req.TimelineDate != nil && !req.TimelineDate.IsZero() {
		entry.TimelineDate = req.TimelineDate.UTC()
	}
	if len(req.Metadata) > 0 {
		entry.Metadata = datatypes.JSONMap(req.Metadata)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		if err := touchLastActivity(tx, project.ID, now); err != nil {
			return err
		}
		return recordActivity(tx, project.ID, actingID, models.ActivityLogCreated,
			"added a "+string(typ)+" log", map[string]interface{}{
				"log_id": entry.ID,
				"type":   string(typ),
			})
	})
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	s.publish(ctx, Event{
		Type:      EventLogChanged,
		Action:    "created",
		ProjectID: project.ID,
		UserID:    actingID,
		EntityID:  entry.ID,
	})
	return entry, nil
}

// ListLogs pages through a project's timeline, newest first.
func (s *LogService) ListLogs(ctx context.Context, projectIdent, callerID string, q LogQuery) (*Page[models.ProjectLog], error) {
	const op = "log.list"

	page, limit, err := normalizePage(op, q.Page, q.Limit, s.opts)
	if err != nil {
		return nil, err
	}
	var typ models.LogType
	if q.Type != "" {
		var ok bool
		if typ, ok = models.ParseLogType(q.Type); !ok {
			return nil, invalidf(op, "unknown log type %q", q.Type)
		}
	}

	ctx, cancel := s.begin(ctx)
	defer cancel()

	project, err := loadProject(ctx, s.db, op, projectIdent, false)
	if err != nil {
		return nil, err
	}
	if _, err := authorizeRead(ctx, s.db, op, project, callerID); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&models.ProjectLog{}).Where("project_id = ?", project.ID)
	if typ != "" {
		query = query.Where("type = ?", typ)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, classifyStoreError(op, err)
	}

	var items []models.ProjectLog
	err = query.
		Preload("Author").
		Order("timeline_date DESC").
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
