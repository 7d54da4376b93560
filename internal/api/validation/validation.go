// Package validation checks request bodies and query parameters before they
// reach the services.
package validation

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fls-grading/portal/internal/submission"
)

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

const (
	maxEmailLen   = 254
	maxKeyNameLen = 100
	maxBatchSize  = 1000
	maxPageLimit  = 100
)

// ValidateEmail checks a single address.
func ValidateEmail(field, email string) []FieldError {
	email = strings.TrimSpace(email)
	switch {
	case email == "":
		return []FieldError{{Field: field, Message: field + " is required"}}
	case len(email) > maxEmailLen:
		return []FieldError{{Field: field, Message: field + " must be at most 254 characters"}}
	case !emailRegex.MatchString(email):
		return []FieldError{{Field: field, Message: field + " must be a valid email address"}}
	}
	return nil
}

// ValidateEmailBatch checks a list of addresses for batch provisioning.
func ValidateEmailBatch(emails []string) []FieldError {
	if len(emails) == 0 {
		return []FieldError{{Field: "emails", Message: "emails must contain at least one address"}}
	}
	if len(emails) > maxBatchSize {
		return []FieldError{{Field: "emails", Message: "emails must contain at most 1000 addresses"}}
	}

	var errs []FieldError
	for i, e := range emails {
		errs = append(errs, ValidateEmail("emails["+strconv.Itoa(i)+"]", e)...)
	}
	return errs
}

// ValidateAPIKeyName checks an optional key display name.
func ValidateAPIKeyName(name string) []FieldError {
	if len(strings.TrimSpace(name)) > maxKeyNameLen {
		return []FieldError{{Field: "name", Message: "name must be at most 100 characters"}}
	}
	return nil
}

// UserPatch mirrors the optional fields of an admin user update.
type UserPatch struct {
	IsAdmin *bool
	Passed  *bool
}

// ValidateUserPatch requires at least one field to be set.
func ValidateUserPatch(p UserPatch) []FieldError {
	if p.IsAdmin == nil && p.Passed == nil {
		return []FieldError{{Field: "body", Message: "at least one of isAdmin or passed is required"}}
	}
	return nil
}

// ValidateArch checks a required architecture parameter.
func ValidateArch(field, raw string) (submission.Arch, []FieldError) {
	if raw == "" {
		return "", []FieldError{{Field: field, Message: field + " is required"}}
	}
	arch, err := submission.ParseArch(raw)
	if err != nil {
		return "", []FieldError{{Field: field, Message: field + " must be one of x86_64, aarch64"}}
	}
	return arch, nil
}

// ValidateStatus checks an optional status filter.
func ValidateStatus(field, raw string) (*submission.Status, []FieldError) {
	if raw == "" {
		return nil, nil
	}
	s, err := submission.ParseStatus(raw)
	if err != nil {
		return nil, []FieldError{{Field: field, Message: field + " must be one of waiting, grading, completed"}}
	}
	return &s, nil
}

// Pagination parses page and limit query values. Missing values get defaults.
func Pagination(rawPage, rawLimit string) (page, limit int, errs []FieldError) {
	page, limit = 1, 20
	if rawPage != "" {
		v, err := strconv.Atoi(rawPage)
		if err != nil || v < 1 {
			errs = append(errs, FieldError{Field: "page", Message: "page must be a positive integer"})
		} else {
			page = v
		}
	}
	if rawLimit != "" {
		v, err := strconv.Atoi(rawLimit)
		if err != nil || v < 1 || v > maxPageLimit {
			errs = append(errs, FieldError{Field: "limit", Message: "limit must be between 1 and 100"})
		} else {
			limit = v
		}
	}
	return page, limit, errs
}
