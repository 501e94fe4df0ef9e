package models

import "strings"

// Role is a caller's effective standing on a project. The set is closed;
// legacy spellings are mapped by ParseRole at the boundary.
type Role string

const (
	RoleNone   Role = "none"
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"

	// legacyRoleContributor predates the editor role.
	legacyRoleContributor = "contributor"
)

// Rank orders roles so that comparisons are plain integer comparisons.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r grants everything min grants.
func (r Role) AtLeast(min Role) bool {
	return r.Rank() >= min.Rank()
}

func (r Role) Valid() bool {
	switch r {
	case RoleNone, RoleViewer, RoleEditor, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// ParseRole normalizes a stored or user-supplied role.
func ParseRole(s string) (Role, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == legacyRoleContributor {
		return RoleEditor, true
	}
	r := Role(v)
	if !r.Valid() {
		return RoleNone, false
	}
	return r, true
}

// CollaboratorStatus is the lifecycle state of a collaboration row.
type CollaboratorStatus string

const (
	StatusPending  CollaboratorStatus = "pending"
	StatusActive   CollaboratorStatus = "active"
	StatusDeclined CollaboratorStatus = "declined"
	StatusRemoved  CollaboratorStatus = "removed"

	legacyStatusAccepted = "accepted"
)

// Live reports whether the row still occupies the (project, user) slot.
func (s CollaboratorStatus) Live() bool {
	return s == StatusPending || s == StatusActive
}

func ParseCollaboratorStatus(s string) (CollaboratorStatus, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == legacyStatusAccepted {
		return StatusActive, true
	}
	switch st := CollaboratorStatus(v); st {
	case StatusPending, StatusActive, StatusDeclined, StatusRemoved:
		return st, true
	}
	return "", false
}

// Permissions are the stored read/write/admin flags derived from a role.
type Permissions struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
	Admin bool `json:"admin"`
}

func PermissionsFor(r Role) Permissions {
	return Permissions{
		Read:  r.AtLeast(RoleViewer),
		Write: r.AtLeast(RoleEditor),
		Admin: r.AtLeast(RoleAdmin),
	}
}

// Capabilities is the per-caller action summary returned with a project.
type Capabilities struct {
	CanRead                bool `json:"can_read"`
	CanWrite               bool `json:"can_write"`
	CanAdmin               bool `json:"can_admin"`
	CanInvite              bool `json:"can_invite"`
	CanRemoveCollaborators bool `json:"can_remove_collaborators"`
	CanChangeVisibility    bool `json:"can_change_visibility"`
	CanArchive             bool `json:"can_archive"`
	CanDelete              bool `json:"can_delete"`
}

// CapabilitiesFor computes what a caller holding role r may do. Public
// projects are readable by everyone.
func CapabilitiesFor(r Role, v Visibility) Capabilities {
	owner := r == RoleOwner
	admin := r.AtLeast(RoleAdmin)
	return Capabilities{
		CanRead:                r.AtLeast(RoleViewer) || v == VisibilityPublic,
		CanWrite:               r.AtLeast(RoleEditor),
		CanAdmin:               admin,
		CanInvite:              admin,
		CanRemoveCollaborators: admin,
		CanChangeVisibility:    owner,
		CanArchive:             owner,
		CanDelete:              owner,
	}
}
