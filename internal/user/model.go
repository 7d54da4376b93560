package user

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fls-grading/portal/internal/submission"
)

// User represents a row in the users table.
type User struct {
	ID                     uuid.UUID
	Email                  string
	Name                   string
	IsAdmin                bool
	Passed                 *bool // nil until graded
	PreferredArch          *submission.Arch
	LastMagicLinkRequestAt *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ListFilter holds the search term and pagination for listing users.
type ListFilter struct {
	Search string // partial email match
	Page   int    // default 1
	Limit  int    // default 20
}

// ListResult holds the result of a paginated list query.
type ListResult struct {
	Users []User
	Total int
	Page  int
	Limit int
}

// RosterEntry is one line of the grade export.
type RosterEntry struct {
	Email  string
	Passed *bool
}

// Grade renders the entry as "P" or "F". Ungraded users count as "F".
func (e RosterEntry) Grade() string {
	if e.Passed != nil && *e.Passed {
		return "P"
	}
	return "F"
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
