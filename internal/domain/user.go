package domain

import (
	"fmt"
	"time"
)

// UserRole distinguishes organization admins from regular members
type UserRole string

const (
	UserRoleAdmin  UserRole = "admin"
	UserRoleMember UserRole = "member"
)

// User represents a member of an organization. Only the fields the
// pipeline needs for authorization are modeled here.
type User struct {
	ID        string
	OrgID     string
	Role      UserRole
	CreatedAt time.Time
}

// CanViewCheck reports whether the user may subscribe to a check:
// the submitter themselves, or an admin of the same organization.
func (u *User) CanViewCheck(c *Check) bool {
	if u.OrgID != c.OrgID {
		return false
	}
	return u.ID == c.UserID || u.Role == UserRoleAdmin
}

// ValidateUser validates a User instance
func ValidateUser(u *User) error {
	if u == nil {
		return fmt.Errorf("user cannot be nil")
	}
	if u.ID == "" {
		return fmt.Errorf("user ID is required")
	}
	if u.OrgID == "" {
		return fmt.Errorf("user OrgID is required")
	}
	if u.Role != UserRoleAdmin && u.Role != UserRoleMember {
		return fmt.Errorf("user Role is invalid: %s", u.Role)
	}
	return nil
}
