package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActivityType string

const (
	ActivityProjectCreated       ActivityType = "project_created"
	ActivityProjectUpdated       ActivityType = "project_updated"
	ActivityVisibilityChanged    ActivityType = "visibility_changed"
	ActivitySettingsChanged      ActivityType = "settings_changed"
	ActivityProjectArchived      ActivityType = "project_archived"
	ActivityProjectDeleted       ActivityType = "project_deleted"
	ActivityProjectRestored      ActivityType = "project_restored"
	ActivityCollaboratorInvited  ActivityType = "collaborator_invited"
	ActivityCollaboratorAccepted ActivityType = "collaborator_accepted"
	ActivityCollaboratorDeclined ActivityType = "collaborator_declined"
	ActivityRoleChanged          ActivityType = "role_changed"
	ActivityCollaboratorRemoved  ActivityType = "collaborator_removed"
	ActivityInviteExpired        ActivityType = "invite_expired"
	ActivityLogCreated           ActivityType = "log_created"
)

// ProjectActivity is the audit trail entry written alongside each mutation.
type ProjectActivity struct {
	ID          string            `gorm:"primaryKey;size:36" json:"id"`
	ProjectID   string            `gorm:"size:36;not null;index" json:"project_id"`
	UserID      string            `gorm:"size:128;index" json:"user_id"`
	Type        ActivityType      `gorm:"size:50;not null;index" json:"type"`
	Description string            `gorm:"size:500" json:"description"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	CreatedAt   time.Time         `gorm:"index" json:"created_at"`
}

func (ProjectActivity) TableName() string { return "project_activities" }

func (a *ProjectActivity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
