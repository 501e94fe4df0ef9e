package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/huangang/buildlog/internal/models"
	"github.com/huangang/buildlog/pkg/logger"
)

// Secondary sections of a project read. Either may fail without failing
// the read.
const (
	SectionCollaborators = "collaborators"
	SectionLogs          = "logs"
)

// ProjectWithStats is a project plus its derived counts and previews. It
// is computed per read and never stored.
type ProjectWithStats struct {
	models.Project
	CollaboratorCount   int64                        `json:"collaborator_count"`
	LogCount            int64                        `json:"log_count"`
	LastActivity        *time.Time                   `json:"last_activity"`
	RecentCollaborators []models.ProjectCollaborator `json:"recent_collaborators"`
	RecentLogs          []models.ProjectLog          `json:"recent_logs"`
	ViewerRole          models.Role                  `json:"viewer_role"`
	Capabilities        models.Capabilities          `json:"capabilities"`
	Degraded            bool                         `json:"degraded"`
	DegradedSections    []string                     `json:"degraded_sections,omitempty"`
}

// AggregatorService composes project reads.
type AggregatorService struct {
	*base
}

// GetProject returns the project named by identifier (id or slug) with its
// stats. Non-public projects need a role; callers without one get the same
// NotFound a missing project gives.
func (s *AggregatorService) GetProject(ctx context.Context, identifier, callerID string) (*ProjectWithStats, error) {
	const op = "aggregator.get_project"

	ctx, cancel := s.begin(ctx)
	defer cancel()

	project, err := loadProject(ctx, s.db, op, identifier, false)
	if err != nil {
		return nil, err
	}
	role, err := authorizeRead(ctx, s.db, op, project, callerID)
	if err != nil {
		return nil, err
	}

	result := &ProjectWithStats{
		Project:             *project,
		ViewerRole:          role,
		Capabilities:        models.CapabilitiesFor(role, project.Visibility),
		RecentCollaborators: []models.ProjectCollaborator{},
		RecentLogs:          []models.ProjectLog{},
	}

	var (
		wg        sync.WaitGroup
		collabs   collaboratorSection
		logs      logSection
		collabErr error
		logErr    error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		collabs, collabErr = s.loadCollaboratorSection(ctx, project)
	}()
	go func() {
		defer wg.Done()
		logs, logErr = s.loadLogSection(ctx, project.ID)
	}()
	wg.Wait()

	// A section cut short by the deadline fails the read; only store
	// faults degrade it.
	if err := ctx.Err(); err != nil {
		return nil, classifyStoreError(op, err)
	}
	for _, err := range []error{collabErr, logErr} {
		if isContextError(err) {
			return nil, classifyStoreError(op, err)
		}
	}

	if collabErr != nil {
		s.degrade(op, result, SectionCollaborators, project.ID, collabErr)
	} else {
		result.CollaboratorCount = collabs.count
		result.RecentCollaborators = collabs.recent
	}
	if logErr != nil {
		s.degrade(op, result, SectionLogs, project.ID, logErr)
	} else {
		result.LogCount = logs.count
		result.RecentLogs = logs.recent
	}

	result.LastActivity = latest(collabs.lastJoined, logs.lastCreated)
	if collabErr != nil || logErr != nil {
		// a partial maximum would be wrong; fall back to the stored value
		result.LastActivity = project.LastActivityAt
	}
	return result, nil
}

func (s *AggregatorService) degrade(op string, result *ProjectWithStats, section, projectID string, err error) {
	result.Degraded = true
	result.DegradedSections = append(result.DegradedSections, section)
	degradedReadsTotal.WithLabelValues(section).Inc()
	logger.Warn().Err(err).
		Str("op", op).
		Str("project_id", projectID).
		Str("section", section).
		Msg("degraded project read")
}

type collaboratorSection struct {
	count      int64
	recent     []models.ProjectCollaborator
	lastJoined *time.Time
}

func (s *AggregatorService) loadCollaboratorSection(ctx context.Context, project *models.Project) (collaboratorSection, error) {
	var sec collaboratorSection
	active := s.db.WithContext(ctx).Model(&models.ProjectCollaborator{}).
		Where("project_id = ? AND status IN ?", project.ID, models.ActiveStatuses).
		Session(&gorm.Session{})

	if err := active.Count(&sec.count).Error; err != nil {
		return sec, err
	}

	var ownerRows int64
	if err := active.Where("user_id = ?", project.CreatedBy).Count(&ownerRows).Error; err != nil {
		return sec, err
	}
	if ownerRows == 0 {
		// the owner always counts, row or not
		sec.count++
	}

	err := s.db.WithContext(ctx).
		Preload("User").
		Where("project_id = ? AND status IN ?", project.ID, models.ActiveStatuses).
		Order("joined_at DESC").
		Order("id DESC").
		Limit(s.opts.PreviewLimit).
		Find(&sec.recent).Error
	if err != nil {
		return sec, err
	}
	if sec.recent == nil {
		sec.recent = []models.ProjectCollaborator{}
	}
	for _, c := range sec.recent {
		sec.lastJoined = latest(sec.lastJoined, c.JoinedAt)
	}
	return sec, nil
}

type logSection struct {
	count       int64
	recent      []models.ProjectLog
	lastCreated *time.Time
}

func (s *AggregatorService) loadLogSection(ctx context.Context, projectID string) (logSection, error) {
	var sec logSection
	if err := s.db.WithContext(ctx).Model(&models.ProjectLog{}).
		Where("project_id = ?", projectID).
		Count(&sec.count).Error; err != nil {
		return sec, err
	}

	err := s.db.WithContext(ctx).
		Preload("Author").
		Where("project_id = ?", projectID).
		Order("timeline_date DESC").
		Order("created_at DESC").
		Order("id DESC").
		Limit(s.opts.PreviewLimit).
		Find(&sec.recent).Error
	if err != nil {
		return sec, err
	}
	if sec.recent == nil {
		sec.recent = []models.ProjectLog{}
	}

	// MAX() over a time column comes back untyped on sqlite, so read the
	// newest row instead.
	var newest []time.Time
	err = s.db.WithContext(ctx).Model(&models.ProjectLog{}).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Limit(1).
		Pluck("created_at", &newest).Error
	if err != nil {
		return sec, err
	}
	if len(newest) > 0 {
		sec.lastCreated = &newest[0]
	}
	return sec, nil
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}

// ListProjects returns the projects callerID owns or actively collaborates
// on, filtered, sorted and paginated. Previews are left empty; fetch one
// project for those.
func (s *AggregatorService) ListProjects(ctx context.Context, callerID string, q ProjectQuery) (*Page[ProjectWithStats], error) {
	const op = "aggregator.list_projects"

	if err := q.normalize(op, s.opts); err != nil {
		return nil, err
	}
	if callerID == "" {
		return newPage([]ProjectWithStats{}, q.Page, q.Limit, 0), nil
	}

	ctx, cancel := s.begin(ctx)
	defer cancel()

	roles, err := s.memberRoles(ctx, op, callerID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(roles))
	for id, role := range roles {
		if q.Role != "" && role != q.Role {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return newPage([]ProjectWithStats{}, q.Page, q.Limit, 0), nil
	}
	sort.Strings(ids)

	scope := s.db.WithContext(ctx).Model(&models.Project{}).Where("projects.id IN ?", ids)
	if q.hasStatus(models.ProjectDeleted) {
		// only owners may list their deleted projects, to restore them
		scope = scope.Where("(projects.status <> ? OR projects.created_by = ?)", models.ProjectDeleted, callerID)
	}
	return s.listPage(ctx, op, scope, q, roles)
}

// ListPublicProjects lists public projects for anyone. callerID, when set,
// only fills in ViewerRole.
func (s *AggregatorService) ListPublicProjects(ctx context.Context, callerID string, q ProjectQuery) (*Page[ProjectWithStats], error) {
	const op = "aggregator.list_public_projects"

	q.Visibility = models.VisibilityPublic
	q.Role = ""
	if err := q.normalize(op, s.opts); err != nil {
		return nil, err
	}
	// deleted projects read as missing to everyone
	if q.hasStatus(models.ProjectDeleted) {
		q.withoutStatus(models.ProjectDeleted)
		if len(q.Statuses) == 0 {
			return newPage([]ProjectWithStats{}, q.Page, q.Limit, 0), nil
		}
	}

	ctx, cancel := s.begin(ctx)
	defer cancel()

	roles := map[string]models.Role{}
	if callerID != "" {
		var err error
		if roles, err = s.memberRoles(ctx, op, callerID); err != nil {
			return nil, err
		}
	}

	scope := s.db.WithContext(ctx).Model(&models.Project{})
	return s.listPage(ctx, op, scope, q, roles)
}

// memberRoles maps project id to callerID's role, unioning ownership and
// active collaboration from two independent single-table queries.
func (s *AggregatorService) memberRoles(ctx context.Context, op, callerID string) (map[string]models.Role, error) {
	var owned []string
	if err := s.db.WithContext(ctx).Model(&models.Project{}).
		Where("created_by = ?", callerID).
		Pluck("id", &owned).Error; err != nil {
		return nil, classifyStoreError(op, err)
	}

	var rows []models.ProjectCollaborator
	if err := s.db.WithContext(ctx).
		Select("id", "project_id", "user_id", "role", "status").
		Where("user_id = ? AND status IN ?", callerID, models.ActiveStatuses).
		Find(&rows).Error; err != nil {
		return nil, classifyStoreError(op, err)
	}

	roles := make(map[string]models.Role, len(owned)+len(rows))
	for i := range rows {
		// creator is unknown here; ownership is settled by the owned set
		if role := collaboratorRole(&rows[i], ""); role != models.RoleNone {
			roles[rows[i].ProjectID] = role
		}
	}
	for _, id := range owned {
		roles[id] = models.RoleOwner
	}
	return roles, nil
}

func (s *AggregatorService) listPage(ctx context.Context, op string, scope *gorm.DB, q ProjectQuery, roles map[string]models.Role) (*Page[ProjectWithStats], error) {
	filtered := q.apply(scope).Session(&gorm.Session{})

	var total int64
	if err := filtered.Count(&total).Error; err != nil {
		return nil, classifyStoreError(op, err)
	}

	var projects []models.Project
	err := q.order(filtered).
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&projects).Error
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	items := make([]ProjectWithStats, len(projects))
	for i := range projects {
		role := roles[projects[i].ID]
		if role == "" {
			role = models.RoleNone
		}
		items[i] = ProjectWithStats{
			Project:             projects[i],
			ViewerRole:          role,
			Capabilities:        models.CapabilitiesFor(role, projects[i].Visibility),
			LastActivity:        projects[i].LastActivityAt,
			RecentCollaborators: []models.ProjectCollaborator{},
			RecentLogs:          []models.ProjectLog{},
		}
	}
	s.fillListStats(ctx, op, items)
	if err := ctx.Err(); err != nil {
		return nil, classifyStoreError(op, err)
	}

	return newPage(items, q.Page, q.Limit, total), nil
}

type projectCount struct {
	ProjectID string
	Total     int64
}

// fillListStats batch-loads counts for a page with grouped queries, one
// per table, instead of one query per project.
func (s *AggregatorService) fillListStats(ctx context.Context, op string, items []ProjectWithStats) {
	if len(items) == 0 {
		return
	}
	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}

	markAll := func(section string, err error) {
		for i := range items {
			items[i].Degraded = true
			items[i].DegradedSections = append(items[i].DegradedSections, section)
		}
		degradedReadsTotal.WithLabelValues(section).Inc()
		logger.Warn().Err(err).Str("op", op).Str("section", section).Msg("degraded project listing")
	}

	creators := make(map[string]string, len(items))
	creatorIDs := make([]string, 0, len(items))
	for i := range items {
		creators[items[i].ID] = items[i].CreatedBy
		creatorIDs = append(creatorIDs, items[i].CreatedBy)
	}

	var collabCounts []projectCount
	var ownerRows []models.ProjectCollaborator
	err := s.db.WithContext(ctx).Model(&models.ProjectCollaborator{}).
		Select("project_id, COUNT(*) AS total").
		Where("project_id IN ? AND status IN ?", ids, models.ActiveStatuses).
		Group("project_id").
		Scan(&collabCounts).Error
	if err == nil {
		// same owner-row test as a single read: the creator's own row
		err = s.db.WithContext(ctx).
			Select("project_id", "user_id").
			Where("project_id IN ? AND status IN ? AND user_id IN ?", ids, models.ActiveStatuses, creatorIDs).
			Find(&ownerRows).Error
	}
	if err != nil {
		markAll(SectionCollaborators, err)
	} else {
		counts := make(map[string]int64, len(collabCounts))
		for _, c := range collabCounts {
			counts[c.ProjectID] = c.Total
		}
		hasOwnerRow := make(map[string]bool, len(ownerRows))
		for _, r := range ownerRows {
			if creators[r.ProjectID] == r.UserID {
				hasOwnerRow[r.ProjectID] = true
			}
		}
		for i := range items {
			items[i].CollaboratorCount = counts[items[i].ID]
			if !hasOwnerRow[items[i].ID] {
				items[i].CollaboratorCount++
			}
		}
	}

	var logCounts []projectCount
	err = s.db.WithContext(ctx).Model(&models.ProjectLog{}).
		Select("project_id, COUNT(*) AS total").
		Where("project_id IN ?", ids).
		Group("project_id").
		Scan(&logCounts).Error
	if err != nil {
		markAll(SectionLogs, err)
		return
	}
	counts := make(map[string]int64, len(logCounts))
	for _, c := range logCounts {
		counts[c.ProjectID] = c.Total
	}
	for i := range items {
		items[i].LogCount = counts[items[i].ID]
	}
}
