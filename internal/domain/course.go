package domain

import "time"

// Role is a platform actor class.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// IsAdmin reports whether the role may use administrative hooks.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// User is the subset of the user record the rating core reads.
type User struct {
	ID          string
	DisplayName string
	Role        Role
	Active      bool
}

// Course is the subset of the course record the rating core reads.
type Course struct {
	ID               string
	InstructorUserID string
	Title            string
	CreatedAt        time.Time
}
