package models

import (
	"time"

	"github.com/lib/pq"
)

// UserRole represents the available roles in the review pipeline.
type UserRole string

const (
	RoleFaculty        UserRole = "FACULTY"
	RolePIMEC          UserRole = "PIMEC"
	RoleUTLDOAdmin     UserRole = "UTLDO_ADMIN"
	RoleTechnicalAdmin UserRole = "TECHNICAL_ADMIN"
)

// User represents an application user stored in the users table.
// A user may hold several roles at once (e.g. a PIMEC member who also
// authors materials as faculty); roles are stored as a text array.
type User struct {
	ID           string         `db:"id" json:"id"`
	Email        string         `db:"email" json:"email"`
	PasswordHash string         `db:"password_hash" json:"-"`
	FullName     string         `db:"full_name" json:"full_name"`
	Roles        pq.StringArray `db:"roles" json:"roles"`
	CollegeIDs   pq.StringArray `db:"college_ids" json:"college_ids"`
	Active       bool           `db:"active" json:"active"`
	LastLogin    *time.Time     `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Viewer is the authorization-relevant projection of a user: its full role
// set and college memberships. Capability resolution operates on this type
// only, never on raw role label strings.
type Viewer struct {
	UserID     string
	Roles      map[UserRole]struct{}
	CollegeIDs map[string]struct{}
}

// NewViewer builds a Viewer from plain slices.
func NewViewer(userID string, roles []UserRole, collegeIDs []string) Viewer {
	v := Viewer{
		UserID:     userID,
		Roles:      make(map[UserRole]struct{}, len(roles)),
		CollegeIDs: make(map[string]struct{}, len(collegeIDs)),
	}
	for _, r := range roles {
		v.Roles[r] = struct{}{}
	}
	for _, id := range collegeIDs {
		v.CollegeIDs[id] = struct{}{}
	}
	return v
}

// HasRole reports whether the viewer holds the given role.
func (v Viewer) HasRole(role UserRole) bool {
	_, ok := v.Roles[role]
	return ok
}

// MemberOfCollege reports whether the viewer belongs to the college.
func (v Viewer) MemberOfCollege(collegeID string) bool {
	_, ok := v.CollegeIDs[collegeID]
	return ok
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	CollegeID string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
