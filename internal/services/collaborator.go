package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/huangang/buildlog/internal/models"
	"github.com/huangang/buildlog/pkg/logger"
)

// CollaboratorService manages invites, role changes and removals.
//
// Invites always start pending and become active only when the invitee
// accepts. The creator holds an explicit owner row written at creation.
type CollaboratorService struct {
	*base
}

// roleOrder sorts owner first, then admin, editor and viewer.
const roleOrder = "CASE role WHEN 'owner' THEN 4 WHEN 'admin' THEN 3 WHEN 'editor' THEN 2 WHEN 'contributor' THEN 2 WHEN 'viewer' THEN 1 ELSE 0 END DESC"

// parseAssignableRole validates a role that is about to be granted.
func parseAssignableRole(op string, role models.Role) (models.Role, error) {
	r, ok := models.ParseRole(string(role))
	if !ok || r == models.RoleNone {
		return "", invalidf(op, "unknown role %q", role)
	}
	if r == models.RoleOwner {
		return "", forbiddenf(op, "the owner role cannot be assigned")
	}
	return r, nil
}

func storedRole(row *models.ProjectCollaborator) models.Role {
	r, ok := models.ParseRole(string(row.Role))
	if !ok {
		return models.RoleNone
	}
	return r
}

// Invite creates a pending collaboration for inviteeID. The actor needs
// admin; only the owner may grant a role at or above the actor's own.
func (s *CollaboratorService) Invite(ctx context.Context, projectIdent, inviteeID string, role models.Role, actingID string) (*models.ProjectCollaborator, error) {
	const op = "collaborator.invite"

	inviteeID = strings.TrimSpace(inviteeID)
	if inviteeID == "" {
		return nil, invalidf(op, "invitee is required")
	}
	r, ok := models.ParseRole(string(role))
	if !ok || r == models.RoleNone {
		return nil, invalidf(op, "unknown role %q", role)
	}

	ctx, cancel := s.begin(ctx)
	defer cancel()

	project, err := loadProject(ctx, s.db, op, projectIdent, false)
	if err != nil {
		return nil, err
	}
	actorRole, err := authorize(ctx, s.db, op, project, actingID, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if r, err = parseAssignableRole(op, r); err != nil {
		return nil, err
	}
	if actorRole != models.RoleOwner && r.Rank() >= actorRole.Rank() {
		return nil, denyf(op, project, actingID, actorRole, "only the owner may grant %s", r)
	}
	if inviteeID == project.CreatedBy {
		return nil, conflictf(op, "user already owns this project")
	}

	var invitee models.User
	if err := s.db.WithContext(ctx).Where("id = ?", inviteeID).Take(&invitee).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundf(op, "user not found")
		}
		return nil, classifyStoreError(op, err)
	}

	now := s.now()
	row := models.NewCollaborator(project.ID, inviteeID, r, models.StatusPending)
	row.InvitedBy = &actingID
	row.InvitedAt = &now

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var live int64
		if err := tx.Model(&models.ProjectCollaborator{}).
			Where("active_key = ?", *row.ActiveKey).
			Count(&live).Error; err != nil {
			return err
		}
		if live > 0 {
			return conflictf(op, "user is already a collaborator or has a pending invite")
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		return recordActivity(tx, project.ID, actingID, models.ActivityCollaboratorInvited,
			"invited "+invitee.Name+" as "+string(r), map[string]interface{}{
				"user_id": inviteeID,
				"role":    string(r),
			})
	})
	if err != nil {
		err = classifyStoreError(op, err)
		if KindOf(err) == KindConflict {
			// the unique live-row index caught a concurrent invite
			return nil, conflictf(op, "user is already a collaborator or has a pending invite")
		}
		return nil, err
	}

	row.User = &invitee
	s.publish(ctx, Event{
		Type:      EventCollaboratorChanged,
		Action:    "invited",
		ProjectID: project.ID,
		UserID:    inviteeID,
		EntityID:  row.ID,
	})
	return row, nil
}

// loadForInvitee loads a collaboration and its project for an action only
// the invitee may take.
func (s *CollaboratorService) loadForInvitee(ctx context.Context, op, collaboratorID, actingID string) (*models.ProjectCollaborator, *models.Project, error) {
	row, project, err := s.loadRow(ctx, op, collaboratorID)
	if err != nil {
		return nil, nil, err
	}
	if row.UserID != actingID {
		role, err := effectiveRole(ctx, s.db, op, actingID, project)
		if err != nil {
			return nil, nil, err
		}
		return nil, nil, asCollaboratorNotFound(op, denyf(op, project, actingID, role, "only the invitee may respond to an invite"))
	}
	if row.Status != models.StatusPending {
		return nil, nil, conflictf(op, "invite is %s", row.Status)
	}
	return row, project, nil
}

func (s *CollaboratorService) loadRow(ctx context.Context, op, collaboratorID string) (*models.ProjectCollaborator, *models.Project, error) {
	var row models.ProjectCollaborator
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(collaboratorID)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, collaboratorNotFound(op, false)
	}
	if err != nil {
		return nil, nil, classifyStoreError(op, err)
	}
	if status, ok := models.ParseCollaboratorStatus(string(row.Status)); ok {
		row.Status = status
	}

	project, err := loadProject(ctx, s.db, op, row.ProjectID, false)
	if err != nil {
		return nil, nil, asCollaboratorNotFound(op, err)
	}
	return &row, project, nil
}

// Accept turns the caller's pending invite into an active collaboration.
func (s *CollaboratorService) Accept(ctx context.Context, collaboratorID, actingID string) (*models.ProjectCollaborator, error) {
	const op = "collaborator.accept"

	ctx, cancel := s.begin(ctx)
	defer cancel()

	row, project, err := s.loadForInvitee(ctx, op, collaboratorID, actingID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if row.InvitedAt != nil && now.Sub(*row.InvitedAt) > s.opts.InviteTTL {
		if err := s.expire(ctx, row, now); err != nil {
			return nil, classifyStoreError(op, err)
		}
		return nil, conflictf(op, "invite has expired")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ProjectCollaborator{}).
			Where("id = ? AND status = ?", row.ID, models.StatusPending).
			Updates(map[string]interface{}{
				"status":     models.StatusActive,
				"joined_at":  now,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conflictf(op, "invite changed concurrently")
		}
		if err := touchLastActivity(tx, project.ID, now); err != nil {
			return err
		}
		return recordActivity(tx, project.ID, actingID, models.ActivityCollaboratorAccepted,
			"accepted invite as "+string(row.Role), map[string]interface{}{"role": string(row.Role)})
	})
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	row.Status = models.StatusActive
	row.JoinedAt = &now
	row.UpdatedAt = now
	s.publish(ctx, Event{
		Type:      EventCollaboratorChanged,
		Action:    "accepted",
		ProjectID: project.ID,
		UserID:    actingID,
		EntityID:  row.ID,
	})
	return row, nil
}

// Decline rejects the caller's pending invite and frees the slot for a
// later invite.
func (s *CollaboratorService) Decline(ctx context.Context, collaboratorID, actingID string) (*models.ProjectCollaborator, error) {
	const op = "collaborator.decline"

	ctx, cancel := s.begin(ctx)
	defer cancel()

	row, project, err := s.loadForInvitee(ctx, op, collaboratorID, actingID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := releaseRow(tx, op, row.ID, []models.CollaboratorStatus{models.StatusPending}, models.StatusDeclined, now); err != nil {
			return err
		}
		return recordActivity(tx, project.ID, actingID, models.ActivityCollaboratorDeclined, "declined invite", nil)
	})
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	row.Status = models.StatusDeclined
	row.ActiveKey = nil
	row.UpdatedAt = now
	s.publish(ctx, Event{
		Type:      EventCollaboratorChanged,
		Action:    "declined",
		ProjectID: project.ID,
		UserID:    actingID,
		EntityID:  row.ID,
	})
	return row, nil
}

// ChangeRole sets a collaborator's role. The actor needs admin; the owner
// row is fixed and owner is never assignable. Non-owners cannot raise
// anyone to their own rank or touch someone at or above it.
func (s *CollaboratorService) ChangeRole(ctx context.Context, collaboratorID string, newRole models.Role, actingID string) (*models.ProjectCollaborator, error) {
	const op = "collaborator.change_role"

	r, ok := models.ParseRole(string(newRole))
	if !ok || r == models.RoleNone {
		return nil, invalidf(op, "unknown role %q", newRole)
	}

	ctx, cancel := s.begin(ctx)
	defer cancel()

	row, project, err := s.loadRow(ctx, op, collaboratorID)
	if err != nil {
		return nil, err
	}
	actorRole, err := authorize(ctx, s.db, op, project, actingID, models.RoleAdmin)
	if err != nil {
		return nil, asCollaboratorNotFound(op, err)
	}
	if r, err = parseAssignableRole(op, r); err != nil {
		return nil, err
	}
	if row.UserID == project.CreatedBy {
		return nil, forbiddenf(op, "the owner's role cannot be changed")
	}
	if !row.Status.Live() {
		return nil, conflictf(op, "collaborator is %s", row.Status)
	}
	current := storedRole(row)
	if actorRole != models.RoleOwner {
		if r.Rank() >= actorRole.Rank() {
			return nil, forbiddenf(op, "only the owner may grant %s", r)
		}
		if current.Rank() >= actorRole.Rank() {
			return nil, forbiddenf(op, "only the owner may change a %s", current)
		}
	}
	if current == r {
		return row, nil
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ProjectCollaborator{}).
			Where("id = ? AND active_key IS NOT NULL", row.ID).
			Updates(map[string]interface{}{
				"role":        r,
				"permissions": datatypes.NewJSONType(models.PermissionsFor(r)),
				"updated_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conflictf(op, "collaborator changed concurrently")
		}
		return recordActivity(tx, project.ID, actingID, models.ActivityRoleChanged,
			"changed role from "+string(current)+" to "+string(r), map[string]interface{}{
				"user_id": row.UserID,
				"from":    string(current),
				"to":      string(r),
			})
	})
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	row.Role = r
	row.Permissions = datatypes.NewJSONType(models.PermissionsFor(r))
	row.UpdatedAt = now
	s.publish(ctx, Event{
		Type:      EventCollaboratorChanged,
		Action:    "role_changed",
		ProjectID: project.ID,
		UserID:    row.UserID,
		EntityID:  row.ID,
	})
	return row, nil
}

// Remove ends a collaboration. Admins may remove anyone below them, anyone
// may remove themselves, and nobody removes the owner. The row is marked
// removed, never deleted, so the user can be invited again.
func (s *CollaboratorService) Remove(ctx context.Context, collaboratorID, actingID string) (*models.ProjectCollaborator, error) {
	const op = "collaborator.remove"

	ctx, cancel := s.begin(ctx)
	defer cancel()

	row, project, err := s.loadRow(ctx, op, collaboratorID)
	if err != nil {
		return nil, err
	}

	self := row.UserID == actingID
	if !self {
		actorRole, err := authorize(ctx, s.db, op, project, actingID, models.RoleAdmin)
		if err != nil {
			return nil, asCollaboratorNotFound(op, err)
		}
		if row.UserID != project.CreatedBy && actorRole != models.RoleOwner && storedRole(row).Rank() >= actorRole.Rank() {
			return nil, forbiddenf(op, "only the owner may remove a %s", storedRole(row))
		}
	}
	if row.UserID == project.CreatedBy {
		return nil, forbiddenf(op, "the owner cannot be removed")
	}
	if !row.Status.Live() {
		return row, nil
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		live := append([]models.CollaboratorStatus{models.StatusPending}, models.ActiveStatuses...)
		if err := releaseRow(tx, op, row.ID, live, models.StatusRemoved, now); err != nil {
			return err
		}
		return recordActivity(tx, project.ID, actingID, models.ActivityCollaboratorRemoved,
			"removed collaborator", map[string]interface{}{
				"user_id": row.UserID,
				"self":    self,
			})
	})
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	row.Status = models.StatusRemoved
	row.ActiveKey = nil
	row.UpdatedAt = now
	s.publish(ctx, Event{
		Type:      EventCollaboratorChanged,
		Action:    "removed",
		ProjectID: project.ID,
		UserID:    row.UserID,
		EntityID:  row.ID,
	})
	return row, nil
}

// List returns a project's collaborators, owner first. Anyone who can read
// the project sees active rows; pending, declined and removed rows need
// admin.
func (s *CollaboratorService) List(ctx context.Context, projectIdent, callerID string, includeInactive bool) ([]models.ProjectCollaborator, error) {
	const op = "collaborator.list"

	ctx, cancel := s.begin(ctx)
	defer cancel()

	project, err := loadProject(ctx, s.db, op, projectIdent, false)
	if err != nil {
		return nil, err
	}
	role, err := authorizeRead(ctx, s.db, op, project, callerID)
	if err != nil {
		return nil, err
	}
	if includeInactive && !role.AtLeast(models.RoleAdmin) {
		return nil, deny(op, project, callerID, role, models.RoleAdmin)
	}

	query := s.db.WithContext(ctx).Preload("User").Where("project_id = ?", project.ID)
	if !includeInactive {
		query = query.Where("status IN ?", models.ActiveStatuses)
	}

	var rows []models.ProjectCollaborator
	err = query.
		Order(roleOrder).
		Order("joined_at DESC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classifyStoreError(op, err)
	}
	if rows == nil {
		rows = []models.ProjectCollaborator{}
	}
	return rows, nil
}

// PendingInvites lists the caller's own open invites across projects.
func (s *CollaboratorService) PendingInvites(ctx context.Context, userID string) ([]models.ProjectCollaborator, error) {
	const op = "collaborator.pending_invites"

	ctx, cancel := s.begin(ctx)
	defer cancel()

	var rows []models.ProjectCollaborator
	err := s.db.WithContext(ctx).
		Preload("Project").
		Where("user_id = ? AND status = ?", userID, models.StatusPending).
		Order("invited_at DESC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	out := make([]models.ProjectCollaborator, 0, len(rows))
	for _, r := range rows {
		if r.Project != nil && r.Project.Status == models.ProjectDeleted {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ExpirePendingInvites moves invites older than the invite TTL to removed
// and returns how many it expired.
func (s *CollaboratorService) ExpirePendingInvites(ctx context.Context, now time.Time) (int, error) {
	const op = "collaborator.expire_invites"

	ctx, cancel := s.begin(ctx)
	defer cancel()

	cutoff := now.UTC().Add(-s.opts.InviteTTL)
	var rows []models.ProjectCollaborator
	err := s.db.WithContext(ctx).
		Where("status = ? AND invited_at < ?", models.StatusPending, cutoff).
		Order("invited_at ASC").
		Limit(500).
		Find(&rows).Error
	if err != nil {
		return 0, classifyStoreError(op, err)
	}

	expired := 0
	for i := range rows {
		if err := s.expire(ctx, &rows[i], now.UTC()); err != nil {
			if KindOf(err) == KindConflict {
				// accepted or declined in the meantime
				continue
			}
			return expired, classifyStoreError(op, err)
		}
		expired++
	}
	if expired > 0 {
		invitesExpiredTotal.Add(float64(expired))
		logger.Info().Int("count", expired).Msg("expired pending invites")
	}
	return expired, nil
}

func (s *CollaboratorService) expire(ctx context.Context, row *models.ProjectCollaborator, now time.Time) error {
	const op = "collaborator.expire"

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := releaseRow(tx, op, row.ID, []models.CollaboratorStatus{models.StatusPending}, models.StatusRemoved, now); err != nil {
			return err
		}
		return recordActivity(tx, row.ProjectID, "", models.ActivityInviteExpired,
			"invite expired", map[string]interface{}{"user_id": row.UserID})
	})
	if err != nil {
		return err
	}

	row.Status = models.StatusRemoved
	row.ActiveKey = nil
	s.publish(ctx, Event{
		Type:      EventCollaboratorChanged,
		Action:    "expired",
		ProjectID: row.ProjectID,
		UserID:    row.UserID,
		EntityID:  row.ID,
	})
	return nil
}

// releaseRow moves a live row to a terminal status and frees its
// (project, user) slot.
func releaseRow(tx *gorm.DB, op, id string, from []models.CollaboratorStatus, to models.CollaboratorStatus, now time.Time) error {
	res := tx.Model(&models.ProjectCollaborator{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"active_key": gorm.Expr("NULL"),
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return conflictf(op, "collaborator changed concurrently")
	}
	return nil
}

// touchLastActivity moves the project's activity marker forward, never back.
func touchLastActivity(tx *gorm.DB, projectID string, at time.Time) error {
	return tx.Model(&models.Project{}).
		Where("id = ? AND (last_activity_at IS NULL OR last_activity_at < ?)", projectID, at).
		UpdateColumn("last_activity_at", at).Error
}
