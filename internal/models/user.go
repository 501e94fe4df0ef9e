package models

import "time"

// User is a principal from the identity provider. Rows are upserted on
// first sight and never deleted.
type User struct {
	ID        string    `gorm:"primaryKey;size:128" json:"id"`
	Name      string    `gorm:"size:200" json:"name"`
	Email     string    `gorm:"size:255;index" json:"email"`
	AvatarURL string    `gorm:"size:500" json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
