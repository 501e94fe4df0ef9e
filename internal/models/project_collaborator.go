package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProjectCollaborator records a user's role and membership state on a
// project. Rows move through status transitions and are never deleted.
//
// ActiveKey holds "<project_id>:<user_id>" while the row is pending or
// active and NULL otherwise; its unique index allows at most one live row
// per (project, user) on every supported database.
type ProjectCollaborator struct {
	ID          string                          `gorm:"primaryKey;size:36" json:"id"`
	ProjectID   string                          `gorm:"size:36;not null;index" json:"project_id"`
	Project     *Project                        `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	UserID      string                          `gorm:"size:128;not null;index" json:"user_id"`
	User        *User                           `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role        Role                            `gorm:"size:20;not null" json:"role"`
	Permissions datatypes.JSONType[Permissions] `json:"permissions"`
	Status      CollaboratorStatus              `gorm:"size:20;not null;index" json:"status"`
	ActiveKey   *string                         `gorm:"size:200;uniqueIndex" json:"-"`
	InvitedBy   *string                         `gorm:"size:128" json:"invited_by"`
	InvitedAt   *time.Time                      `json:"invited_at"`
	JoinedAt    *time.Time                      `gorm:"index" json:"joined_at"`
	CreatedAt   time.Time                       `json:"created_at"`
	UpdatedAt   time.Time                       `json:"updated_at"`
}

func (ProjectCollaborator) TableName() string { return "project_collaborators" }

func (c *ProjectCollaborator) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// BeforeSave stores canonical role and status names.
func (c *ProjectCollaborator) BeforeSave(tx *gorm.DB) error {
	c.canonicalize()
	return nil
}

// AfterFind maps legacy spellings read from older rows.
func (c *ProjectCollaborator) AfterFind(tx *gorm.DB) error {
	c.canonicalize()
	return nil
}

func (c *ProjectCollaborator) canonicalize() {
	if st, ok := ParseCollaboratorStatus(string(c.Status)); ok {
		c.Status = st
	}
	if r, ok := ParseRole(string(c.Role)); ok && r != RoleNone {
		c.Role = r
	}
}

// ActiveStatuses are the stored spellings of an active collaboration.
// Filter with "status IN ?" so rows written before the rename still match.
var ActiveStatuses = []CollaboratorStatus{StatusActive, legacyStatusAccepted}

// LiveKey is the ActiveKey value for a live (project, user) row.
func LiveKey(projectID, userID string) string {
	return projectID + ":" + userID
}

// NewCollaborator builds a live row with permissions derived from role.
func NewCollaborator(projectID, userID string, role Role, status CollaboratorStatus) *ProjectCollaborator {
	if r, ok := ParseRole(string(role)); ok {
		role = r
	}
	if st, ok := ParseCollaboratorStatus(string(status)); ok {
		status = st
	}
	key := LiveKey(projectID, userID)
	return &ProjectCollaborator{
		ProjectID:   projectID,
		UserID:      userID,
		Role:        role,
		Permissions: datatypes.NewJSONType(PermissionsFor(role)),
		Status:      status,
		ActiveKey:   &key,
	}
}
