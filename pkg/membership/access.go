// Package membership manages who belongs to a space: access checks, member
// provisioning, removal and the space/user consistency sync.
package membership

import (
	"tasker-backend/pkg/apperr"
	"tasker-backend/pkg/models"
)

// Access is the relationship of a user to a space
type Access int

const (
	Denied Access = iota
	Member
	Admin
)

func (a Access) String() string {
	switch a {
	case Admin:
		return "admin"
	case Member:
		return "member"
	default:
		return "denied"
	}
}

// Check classifies uid against space. The admin is Admin whether or not
// their id is also listed in members.
func Check(space *models.Space, uid string) Access {
	if space == nil || uid == "" {
		return Denied
	}
	if space.AdminID == uid {
		return Admin
	}
	if space.Members.Contains(uid) {
		return Member
	}
	return Denied
}

// RequireMember admits the admin and members.
func RequireMember(space *models.Space, uid string) error {
	if Check(space, uid) == Denied {
		return apperr.New(apperr.AccessDenied, "You do not have access to this space")
	}
	return nil
}

func RequireAdmin(space *models.Space, uid string) error {
	if Check(space, uid) != Admin {
		return apperr.New(apperr.NotAuthorized, "Only the space admin can do this")
	}
	return nil
}
