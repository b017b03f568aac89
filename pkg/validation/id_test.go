// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	valid := []string{
		"garden-1",
		"550e8400-e29b-41d4-a716-446655440000",
		"occ_2026.08.31",
		"A",
	}
	for _, id := range valid {
		if err := ValidateID("garden", id); err != nil {
			t.Errorf("ValidateID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{
		"",
		"../etc/passwd",
		".hidden",
		"-leading-dash",
		"has space",
		"has/slash",
		"has:colon",
		strings.Repeat("a", 65),
	}
	for _, id := range invalid {
		if err := ValidateID("garden", id); err == nil {
			t.Errorf("ValidateID(%q) = nil, want error", id)
		}
	}
}

func TestValidateIDs_ListsEveryInvalidID(t *testing.T) {
	err := ValidateIDs("garden", []string{"ok-1", "bad/1", "bad 2"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "bad/1") || !strings.Contains(err.Error(), "bad 2") {
		t.Errorf("error does not list both invalid ids: %v", err)
	}

	if err := ValidateIDs("garden", []string{"ok-1", "ok-2"}); err != nil {
		t.Errorf("all-valid list returned %v", err)
	}
}

func TestSanitizeID(t *testing.T) {
	got, err := SanitizeID("occurrence", "  occ-1 ")
	if err != nil {
		t.Fatalf("SanitizeID: %v", err)
	}
	if got != "occ-1" {
		t.Errorf("SanitizeID = %q, want trimmed id", got)
	}

	if _, err := SanitizeID("occurrence", "  "); err == nil {
		t.Error("whitespace-only id passed validation")
	}
}

func TestValidateDate(t *testing.T) {
	if err := ValidateDate("2026-08-31"); err != nil {
		t.Errorf("valid date rejected: %v", err)
	}
	for _, date := range []string{"", "today", "2026-8-31", "08-31-2026", "2026-08-31T00:00"} {
		if err := ValidateDate(date); err == nil {
			t.Errorf("ValidateDate(%q) = nil, want error", date)
		}
	}
}
