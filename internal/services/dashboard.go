package services

import (
	"context"
	"time"

	"github.com/huangang/buildlog/internal/models"
)

// DashboardService summarizes a user's footprint across projects.
type DashboardService struct {
	*base
}

type DashboardStats struct {
	TotalProjects        int64 `json:"total_projects"`
	ActiveProjects       int64 `json:"active_projects"`
	ArchivedProjects     int64 `json:"archived_projects"`
	OwnedProjects        int64 `json:"owned_projects"`
	ActiveCollaborations int64 `json:"active_collaborations"`
	PendingInvites       int64 `json:"pending_invites"`
	LogsAuthored         int64 `json:"logs_authored"`
	RecentActivities     int64 `json:"recent_activities"`
}

const recentActivityWindow = 7 * 24 * time.Hour

// UserDashboard counts the projects userID can access along with their
// collaborations, authored logs and activity over the last week.
func (s *DashboardService) UserDashboard(ctx context.Context, userID string) (*DashboardStats, error) {
	const op = "dashboard.user"

	if userID == "" {
		return nil, invalidf(op, "user id is required")
	}

	ctx, cancel := s.begin(ctx)
	defer cancel()

	// Same two-query union as project listing.
	var owned []string
	if err := s.db.WithContext(ctx).Model(&models.Project{}).
		Where("created_by = ?", userID).
		Pluck("id", &owned).Error; err != nil {
		return nil, classifyStoreError(op, err)
	}
	var joined []string
	if err := s.db.WithContext(ctx).Model(&models.ProjectCollaborator{}).
		Where("user_id = ? AND status IN ?", userID, models.ActiveStatuses).
		Pluck("project_id", &joined).Error; err != nil {
		return nil, classifyStoreError(op, err)
	}

	ownedSet := make(map[string]struct{}, len(owned))
	ids := make([]string, 0, len(owned)+len(joined))
	for _, id := range owned {
		ownedSet[id] = struct{}{}
		ids = append(ids, id)
	}
	stats := &DashboardStats{}
	var collabOnly []string
	for _, id := range joined {
		if _, ok := ownedSet[id]; ok {
			continue
		}
		ownedSet[id] = struct{}{}
		ids = append(ids, id)
		collabOnly = append(collabOnly, id)
	}

	if len(ids) > 0 {
		type statusCount struct {
			Status models.ProjectStatus
			Total  int64
		}
		var counts []statusCount
		if err := s.db.WithContext(ctx).Model(&models.Project{}).
			Select("status, COUNT(*) AS total").
			Where("id IN ?", ids).
			Group("status").
			Scan(&counts).Error; err != nil {
			return nil, classifyStoreError(op, err)
		}
		for _, c := range counts {
			switch c.Status {
			case models.ProjectActive:
				stats.ActiveProjects = c.Total
			case models.ProjectArchived:
				stats.ArchivedProjects = c.Total
			}
		}
		stats.TotalProjects = stats.ActiveProjects + stats.ArchivedProjects

		if err := s.db.WithContext(ctx).Model(&models.Project{}).
			Where("created_by = ? AND status <> ?", userID, models.ProjectDeleted).
			Count(&stats.OwnedProjects).Error; err != nil {
			return nil, classifyStoreError(op, err)
		}
	}

	if len(collabOnly) > 0 {
		if err := s.db.WithContext(ctx).Model(&models.Project{}).
			Where("id IN ? AND status <> ?", collabOnly, models.ProjectDeleted).
			Count(&stats.ActiveCollaborations).Error; err != nil {
			return nil, classifyStoreError(op, err)
		}
	}
	if err := s.db.WithContext(ctx).Model(&models.ProjectCollaborator{}).
		Where("user_id = ? AND status = ?", userID, models.StatusPending).
		Count(&stats.PendingInvites).Error; err != nil {
		return nil, classifyStoreError(op, err)
	}
	if err := s.db.WithContext(ctx).Model(&models.ProjectLog{}).
		Where("author_id = ?", userID).
		Count(&stats.LogsAuthored).Error; err != nil {
		return nil, classifyStoreError(op, err)
	}
	if err := s.db.WithContext(ctx).Model(&models.ProjectActivity{}).
		Where("user_id = ? AND created_at >= ?", userID, s.now().Add(-recentActivityWindow)).
		Count(&stats.RecentActivities).Error; err != nil {
		return nil, classifyStoreError(op, err)
	}
	return stats, nil
}
