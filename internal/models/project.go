package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityInternal Visibility = "internal"
)

func ParseVisibility(s string) (Visibility, bool) {
	switch v := Visibility(strings.ToLower(strings.TrimSpace(s))); v {
	case VisibilityPublic, VisibilityPrivate, VisibilityInternal:
		return v, true
	}
	return "", false
}

type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
	ProjectDeleted  ProjectStatus = "deleted"
)

func ParseProjectStatus(s string) (ProjectStatus, bool) {
	switch st := ProjectStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case ProjectActive, ProjectArchived, ProjectDeleted:
		return st, true
	}
	return "", false
}

// Project is a build-in-public project. It is never hard-deleted; Status
// carries archive and delete.
type Project struct {
	ID              string                      `gorm:"primaryKey;size:36" json:"id"`
	Title           string                      `gorm:"size:200;not null" json:"title"`
	Slug            string                      `gorm:"size:100;uniqueIndex;not null" json:"slug"`
	Description     string                      `gorm:"type:text" json:"description"`
	Visibility      Visibility                  `gorm:"size:20;not null;default:private;index" json:"visibility"`
	Status          ProjectStatus               `gorm:"size:20;not null;default:active;index" json:"status"`
	CreatedBy       string                      `gorm:"size:128;not null;index" json:"created_by"`
	Owner           *User                       `gorm:"foreignKey:CreatedBy" json:"owner,omitempty"`
	ProjectSettings datatypes.JSONMap           `json:"project_settings"`
	Tags            datatypes.JSONSlice[string] `json:"tags"`
	// LastActivityAt mirrors the newest log or collaborator join so that
	// listings can sort on it.
	LastActivityAt *time.Time `gorm:"index" json:"last_activity_at"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Project) TableName() string { return "projects" }

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// ProjectTag indexes Project.Tags for membership filters.
type ProjectTag struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	ProjectID string `gorm:"size:36;not null;uniqueIndex:idx_project_tag" json:"project_id"`
	Tag       string `gorm:"size:64;not null;uniqueIndex:idx_project_tag;index" json:"tag"`
}

func (ProjectTag) TableName() string { return "project_tags" }
