package services

import (
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/huangang/buildlog/internal/models"
)

// Page is the envelope every listing returns.
type Page[T any] struct {
	Data       []T   `json:"data"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

func newPage[T any](data []T, page, limit int, total int64) *Page[T] {
	if data == nil {
		data = []T{}
	}
	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return &Page[T]{
		Data:       data,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// normalizePage applies defaults and clamps the limit. Negative values are
// rejected rather than guessed at.
func normalizePage(op string, page, limit int, opts Options) (int, int, error) {
	if page < 0 || limit < 0 {
		return 0, 0, invalidf(op, "page and limit must not be negative")
	}
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = opts.DefaultPageSize
	}
	if limit > opts.MaxPageSize {
		limit = opts.MaxPageSize
	}
	return page, limit, nil
}

type SortField string

const (
	SortTitle        SortField = "title"
	SortCreatedAt    SortField = "created_at"
	SortUpdatedAt    SortField = "updated_at"
	SortLastActivity SortField = "last_activity"
)

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// ProjectQuery is the filter, sort and pagination for project listings.
type ProjectQuery struct {
	Visibility    models.Visibility
	Statuses      []models.ProjectStatus
	Tags          []string
	Search        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	// Role keeps only projects where the caller holds exactly this role.
	Role      models.Role
	SortBy    SortField
	Direction SortDirection
	Page      int
	Limit     int
}

// hasStatus reports whether st is among the requested statuses.
func (q *ProjectQuery) hasStatus(st models.ProjectStatus) bool {
	for _, s := range q.Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// withoutStatus drops st from the requested statuses.
func (q *ProjectQuery) withoutStatus(st models.ProjectStatus) {
	kept := q.Statuses[:0:0]
	for _, s := range q.Statuses {
		if s != st {
			kept = append(kept, s)
		}
	}
	q.Statuses = kept
}

func (q *ProjectQuery) normalize(op string, opts Options) error {
	page, limit, err := normalizePage(op, q.Page, q.Limit, opts)
	if err != nil {
		return err
	}
	q.Page, q.Limit = page, limit

	if q.Visibility != "" {
		v, ok := models.ParseVisibility(string(q.Visibility))
		if !ok {
			return invalidf(op, "unknown visibility %q", q.Visibility)
		}
		q.Visibility = v
	}

	if len(q.Statuses) == 0 {
		q.Statuses = []models.ProjectStatus{models.ProjectActive}
	}
	statuses := make([]models.ProjectStatus, 0, len(q.Statuses))
	for _, st := range q.Statuses {
		parsed, ok := models.ParseProjectStatus(string(st))
		if !ok {
			return invalidf(op, "unknown status %q", st)
		}
		statuses = append(statuses, parsed)
	}
	q.Statuses = statuses

	if q.Role != "" {
		r, ok := models.ParseRole(string(q.Role))
		if !ok || r == models.RoleNone {
			return invalidf(op, "unknown role %q", q.Role)
		}
		q.Role = r
	}

	q.Tags = normalizeTags(q.Tags)
	q.Search = strings.TrimSpace(q.Search)

	if q.CreatedAfter != nil && q.CreatedBefore != nil && !q.CreatedAfter.Before(*q.CreatedBefore) {
		return invalidf(op, "created_after must be before created_before")
	}

	switch q.SortBy {
	case "":
		q.SortBy = SortUpdatedAt
	case SortTitle, SortCreatedAt, SortUpdatedAt, SortLastActivity:
	default:
		return invalidf(op, "cannot sort by %q", q.SortBy)
	}
	switch SortDirection(strings.ToLower(string(q.Direction))) {
	case "":
		if q.SortBy == SortTitle {
			q.Direction = SortAsc
		} else {
			q.Direction = SortDesc
		}
	case SortAsc:
		q.Direction = SortAsc
	case SortDesc:
		q.Direction = SortDesc
	default:
		return invalidf(op, "unknown sort direction %q", q.Direction)
	}
	return nil
}

// apply adds the filters to a query over the projects table. It never
// touches project_collaborators.
func (q *ProjectQuery) apply(db *gorm.DB) *gorm.DB {
	db = db.Where("projects.status IN ?", q.Statuses)
	if q.Visibility != "" {
		db = db.Where("projects.visibility = ?", q.Visibility)
	}
	if q.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(q.Search)) + "%"
		db = db.Where("(LOWER(projects.title) LIKE ? ESCAPE '!' OR projects.slug LIKE ? ESCAPE '!')", pattern, pattern)
	}
	if q.CreatedAfter != nil {
		db = db.Where("projects.created_at >= ?", q.CreatedAfter.UTC())
	}
	if q.CreatedBefore != nil {
		db = db.Where("projects.created_at < ?", q.CreatedBefore.UTC())
	}
	if len(q.Tags) > 0 {
		// every requested tag must be present
		sub := db.Session(&gorm.Session{NewDB: true}).
			Model(&models.ProjectTag{}).
			Select("project_id").
			Where("tag IN ?", q.Tags).
			Group("project_id").
			Having("COUNT(DISTINCT tag) = ?", len(q.Tags))
		db = db.Where("projects.id IN (?)", sub)
	}
	return db
}

// order applies the sort with id as the final tie-breaker so that pages
// are stable.
func (q *ProjectQuery) order(db *gorm.DB) *gorm.DB {
	dir := "DESC"
	if q.Direction == SortAsc {
		dir = "ASC"
	}
	switch q.SortBy {
	case SortTitle:
		db = db.Order("projects.title " + dir)
	case SortCreatedAt:
		db = db.Order("projects.created_at " + dir)
	case SortLastActivity:
		// nulls last in either direction
		db = db.Order("CASE WHEN projects.last_activity_at IS NULL THEN 1 ELSE 0 END").
			Order("projects.last_activity_at " + dir)
	default:
		db = db.Order("projects.updated_at " + dir)
	}
	return db.Order("projects.id " + dir)
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

const maxTagLength = 64

// truncateRunes cuts s to at most n characters without splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// normalizeTags lowercases, trims and dedupes tags, keeping first-seen order.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		t = truncateRunes(t, maxTagLength)
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
