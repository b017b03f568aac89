// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for values that cross a
// trust boundary.
//
// Ids and dates arrive in URL paths and query strings and are forwarded
// into upstream store request paths and cache keys. Validating them here
// prevents path traversal and keeps cache keys free of delimiter
// characters.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// idPattern matches the entity ids the store hands out: UUIDs and
// short human-assigned slugs. Dots are allowed mid-id but the leading
// character is restricted so ".." and absolute segments can't form.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,63}$`)

// datePattern matches ISO calendar dates (YYYY-MM-DD).
var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidateID validates an entity id before it is placed in an upstream
// request path or a cache key. kind names the field for error messages
// ("garden", "occurrence", ...).
//
// Valid ids:
//   - 1-64 characters
//   - Letters, digits, dots, underscores, hyphens
//   - First character alphanumeric
func ValidateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s id cannot be empty", kind)
	}

	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid %s id: %q (must be 1-64 alphanumeric chars, dots, underscores, or hyphens)", kind, id)
	}

	return nil
}

// ValidateIDs validates multiple ids of the same kind.
// Returns an error listing all invalid ids if any fail validation.
func ValidateIDs(kind string, ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateID(kind, id); err != nil {
			invalid = append(invalid, id)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid %s ids: %v", kind, invalid)
	}
	return nil
}

// SanitizeID trims surrounding whitespace and validates the result.
// Returns the trimmed id if valid, or an error if invalid.
func SanitizeID(kind, id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateID(kind, trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// ValidateDate validates an ISO calendar date (YYYY-MM-DD). Only the
// shape is checked here; the store rejects impossible dates itself.
func ValidateDate(date string) error {
	if !datePattern.MatchString(date) {
		return fmt.Errorf("invalid date: %q (must be YYYY-MM-DD)", date)
	}
	return nil
}
