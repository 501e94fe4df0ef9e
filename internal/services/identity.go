package services

import (
	"context"
	"strings"

	"gorm.io/gorm/clause"

	"github.com/huangang/buildlog/internal/models"
)

const unknownUserName = "Unknown User"

// Principal is what the identity provider tells us about a caller.
type Principal struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// IdentityService turns principals into durable users.
type IdentityService struct {
	*base
}

// EnsureUser returns the user for p, creating it on first sight. Concurrent
// calls converge on one row; mutable fields take the last write.
func (s *IdentityService) EnsureUser(ctx context.Context, p Principal) (*models.User, error) {
	const op = "identity.ensure_user"

	id := strings.TrimSpace(p.ID)
	if id == "" {
		return nil, invalidf(op, "principal id is required")
	}

	ctx, cancel := s.begin(ctx)
	defer cancel()

	user := models.User{
		ID:        id,
		Name:      displayName(p),
		Email:     strings.TrimSpace(p.Email),
		AvatarURL: strings.TrimSpace(p.AvatarURL),
	}

	// Only overwrite what this principal actually carries.
	assign := []string{"updated_at"}
	if strings.TrimSpace(p.Name) != "" || user.Email != "" {
		assign = append(assign, "name")
	}
	if user.Email != "" {
		assign = append(assign, "email")
	}
	if user.AvatarURL != "" {
		assign = append(assign, "avatar_url")
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(assign),
	}).Create(&user).Error
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	var stored models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&stored).Error; err != nil {
		return nil, classifyStoreError(op, err)
	}
	return &stored, nil
}

// GetUser loads a user by id.
func (s *IdentityService) GetUser(ctx context.Context, id string) (*models.User, error) {
	const op = "identity.get_user"

	ctx, cancel := s.begin(ctx)
	defer cancel()

	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error; err != nil {
		err = classifyStoreError(op, err)
		if KindOf(err) == KindNotFound {
			return nil, notFoundf(op, "user not found")
		}
		return nil, err
	}
	return &user, nil
}

// displayName picks the best available name: the provider's display name,
// else the email local part.
func displayName(p Principal) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	email := strings.TrimSpace(p.Email)
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	if email != "" {
		return email
	}
	return unknownUserName
}
