package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/huangang/buildlog/internal/models"
	"github.com/huangang/buildlog/pkg/logger"
)

// AccessService resolves a caller's effective role on a project.
//
// Ownership and collaboration are looked up with separate single-table
// queries and combined here. Never join projects.created_by against
// project_collaborators in one statement: row-level security policies on
// both tables recurse into each other (SQLSTATE 42P17).
type AccessService struct {
	*base
}

// EffectiveRole returns userID's role on project. The creator is always
// owner; anyone else needs an active collaboration. Public read access for
// RoleNone callers is decided by the readers, not here.
func (s *AccessService) EffectiveRole(ctx context.Context, userID string, project *models.Project) (models.Role, error) {
	ctx, cancel := s.begin(ctx)
	defer cancel()
	return effectiveRole(ctx, s.db, "access.effective_role", userID, project)
}

// Resolve loads a project by id or slug and returns callerID's role on it.
// Projects the caller cannot read come back as NotFound.
func (s *AccessService) Resolve(ctx context.Context, identifier, callerID string) (*models.Project, models.Role, error) {
	const op = "access.resolve"

	ctx, cancel := s.begin(ctx)
	defer cancel()

	project, err := loadProject(ctx, s.db, op, identifier, false)
	if err != nil {
		return nil, models.RoleNone, err
	}
	role, err := authorizeRead(ctx, s.db, op, project, callerID)
	if err != nil {
		return nil, models.RoleNone, err
	}
	return project, role, nil
}

func effectiveRole(ctx context.Context, db *gorm.DB, op, userID string, project *models.Project) (models.Role, error) {
	if project == nil || userID == "" {
		return models.RoleNone, nil
	}
	if project.CreatedBy == userID {
		return models.RoleOwner, nil
	}

	var row models.ProjectCollaborator
	err := db.WithContext(ctx).
		Where("active_key = ?", models.LiveKey(project.ID, userID)).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.RoleNone, nil
	}
	if err != nil {
		return models.RoleNone, classifyStoreError(op, err)
	}
	return collaboratorRole(&row, project.CreatedBy), nil
}

// collaboratorRole normalizes a stored row into an effective role. Only
// active rows grant anything, and an owner role held by anyone but the
// creator is treated as admin.
func collaboratorRole(row *models.ProjectCollaborator, creatorID string) models.Role {
	status, ok := models.ParseCollaboratorStatus(string(row.Status))
	if !ok || status != models.StatusActive {
		return models.RoleNone
	}
	if row.UserID == creatorID {
		return models.RoleOwner
	}
	role, ok := models.ParseRole(string(row.Role))
	if !ok {
		return models.RoleNone
	}
	if role == models.RoleOwner {
		return models.RoleAdmin
	}
	return role
}

func canRead(p *models.Project, role models.Role) bool {
	return role.AtLeast(models.RoleViewer) || p.Visibility == models.VisibilityPublic
}

// authorize loads the caller's role and requires at least min.
func authorize(ctx context.Context, db *gorm.DB, op string, p *models.Project, callerID string, min models.Role) (models.Role, error) {
	role, err := effectiveRole(ctx, db, op, callerID, p)
	if err != nil {
		return models.RoleNone, err
	}
	if !role.AtLeast(min) || role == models.RoleNone {
		return role, deny(op, p, callerID, role, min)
	}
	return role, nil
}

// authorizeRead lets anyone read public projects and members read the rest.
func authorizeRead(ctx context.Context, db *gorm.DB, op string, p *models.Project, callerID string) (models.Role, error) {
	role, err := effectiveRole(ctx, db, op, callerID, p)
	if err != nil {
		return models.RoleNone, err
	}
	if !canRead(p, role) {
		return role, deny(op, p, callerID, role, models.RoleViewer)
	}
	return role, nil
}

// deny renders a failed check. Callers who cannot see the project get the
// same NotFound a missing project produces; the denial is still counted
// and logged.
func deny(op string, p *models.Project, callerID string, role, need models.Role) error {
	return denyf(op, p, callerID, role, "requires %s role", need)
}

func denyf(op string, p *models.Project, callerID string, role models.Role, format string, args ...interface{}) error {
	if !canRead(p, role) {
		accessDeniedTotal.WithLabelValues(op, "concealed").Inc()
		logger.Info().
			Str("op", op).
			Str("project_id", p.ID).
			Str("caller_id", callerID).
			Msg("access denied (concealed)")
		return projectNotFound(op, true)
	}
	accessDeniedTotal.WithLabelValues(op, "forbidden").Inc()
	logger.Info().
		Str("op", op).
		Str("project_id", p.ID).
		Str("caller_id", callerID).
		Str("role", string(role)).
		Msg("access denied")
	return forbiddenf(op, format, args...)
}

// loadProject finds a project by id or slug. Deleted projects read as
// missing unless includeDeleted is set.
func loadProject(ctx context.Context, db *gorm.DB, op, identifier string, includeDeleted bool) (*models.Project, error) {
	ident := strings.TrimSpace(identifier)
	if ident == "" {
		return nil, invalidf(op, "project identifier is required")
	}

	q := db.WithContext(ctx)
	var p models.Project
	var err error
	if _, parseErr := uuid.Parse(ident); parseErr == nil {
		err = q.Where("id = ?", ident).Take(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = q.Where("slug = ?", ident).Take(&p).Error
		}
	} else {
		err = q.Where("slug = ?", strings.ToLower(ident)).Take(&p).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, projectNotFound(op, false)
	}
	if err != nil {
		return nil, classifyStoreError(op, err)
	}
	if p.Status == models.ProjectDeleted && !includeDeleted {
		return nil, projectNotFound(op, false)
	}
	return &p, nil
}
