package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type LogType string

const (
	LogText      LogType = "text"
	LogImage     LogType = "image"
	LogURL       LogType = "url"
	LogMilestone LogType = "milestone"
	// LogCode is reserved and rejected on create.
	LogCode LogType = "code"
)

func ParseLogType(s string) (LogType, bool) {
	switch t := LogType(strings.ToLower(strings.TrimSpace(s))); t {
	case LogText, LogImage, LogURL, LogMilestone, LogCode:
		return t, true
	}
	return "", false
}

// ProjectLog is an append-only timeline entry on a project.
type ProjectLog struct {
	ID           string                      `gorm:"primaryKey;size:36" json:"id"`
	ProjectID    string                      `gorm:"size:36;not null;index:idx_log_timeline,priority:1" json:"project_id"`
	AuthorID     string                      `gorm:"size:128;not null;index" json:"author_id"`
	Author       *User                       `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Type         LogType                     `gorm:"size:20;not null" json:"type"`
	Title        string                      `gorm:"size:300" json:"title"`
	Content      string                      `gorm:"type:text" json:"content"`
	Summary      string                      `gorm:"size:1000" json:"summary"`
	SourceLink   string                      `gorm:"size:1000" json:"source_link"`
	Images       datatypes.JSONSlice[string] `json:"images"`
	Tags         datatypes.JSONSlice[string] `json:"tags"`
	TimelineDate time.Time                   `gorm:"not null;index:idx_log_timeline,priority:2" json:"timeline_date"`
	IsPinned     bool                        `gorm:"default:false" json:"is_pinned"`
	Metadata     datatypes.JSONMap           `json:"metadata"`
	CreatedAt    time.Time                   `gorm:"index" json:"created_at"`
}

func (ProjectLog) TableName() string { return "project_logs" }

func (l *ProjectLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
