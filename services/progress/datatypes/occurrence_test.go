// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"testing"
	"time"
)

func TestOccurrence_Remaining(t *testing.T) {
	tests := []struct {
		name      string
		required  int
		completed int
		want      int
	}{
		{"untouched", 3, 0, 3},
		{"partial", 3, 1, 2},
		{"complete", 2, 2, 0},
		{"over-complete clamps to zero", 2, 5, 0},
		{"zero required", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Occurrence{RequiredCount: tt.required, CompletedCount: tt.completed}
			if got := o.Remaining(); got != tt.want {
				t.Errorf("Remaining() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOccurrence_ClampCount(t *testing.T) {
	o := Occurrence{RequiredCount: 2}

	if got := o.ClampCount(-1); got != 0 {
		t.Errorf("ClampCount(-1) = %d, want 0", got)
	}
	if got := o.ClampCount(1); got != 1 {
		t.Errorf("ClampCount(1) = %d, want 1", got)
	}
	if got := o.ClampCount(7); got != 2 {
		t.Errorf("ClampCount(7) = %d, want 2", got)
	}
}

func TestOccurrence_IsComplete(t *testing.T) {
	if (Occurrence{RequiredCount: 2, CompletedCount: 1}).IsComplete() {
		t.Error("partially completed occurrence should not be complete")
	}
	if !(Occurrence{RequiredCount: 2, CompletedCount: 2}).IsComplete() {
		t.Error("fully completed occurrence should be complete")
	}
	// A zero-required occurrence has no work, but it is not "complete"
	// either; the aggregate treats it as contributing nothing.
	if (Occurrence{}).IsComplete() {
		t.Error("zero-required occurrence should not report complete")
	}
}

func TestGardenTaskView_Snapshot(t *testing.T) {
	view := GardenTaskView{
		GardenID: "g1",
		Plants: []PlantTasks{
			{
				GardenPlantID: "p1",
				Occurrences: []Occurrence{
					{ID: "o1", RequiredCount: 2, CompletedCount: 1},
					{ID: "o2", RequiredCount: 1, CompletedCount: 0},
				},
			},
			{
				GardenPlantID: "p2",
				Occurrences: []Occurrence{
					{ID: "o3", RequiredCount: 3, CompletedCount: 5}, // clamped
				},
			},
		},
	}

	snap := view.Snapshot()
	if snap.Due != 6 {
		t.Errorf("Due = %d, want 6", snap.Due)
	}
	if snap.Completed != 4 {
		t.Errorf("Completed = %d, want 4 (over-count clamped to required)", snap.Completed)
	}
}

func TestBroadcastMessage_IsSelf(t *testing.T) {
	msg := BroadcastMessage{GardenID: "g1", Kind: BroadcastTasks, ActorID: "actor-a"}

	if !msg.IsSelf("actor-a") {
		t.Error("message from the local actor should be self")
	}
	if msg.IsSelf("actor-b") {
		t.Error("message from another actor should not be self")
	}

	// Unknown origin is never treated as self: dropping it could lose a
	// legitimate remote change.
	anon := BroadcastMessage{GardenID: "g1", Kind: BroadcastTasks}
	if anon.IsSelf("") || anon.IsSelf("actor-a") {
		t.Error("message without an actor id should never be self")
	}
}

func TestDay_FormatsCalendarDate(t *testing.T) {
	ts := time.Date(2026, 4, 17, 23, 59, 0, 0, time.Local)
	if got := Day(ts); got != "2026-04-17" {
		t.Errorf("Day() = %q, want %q", got, "2026-04-17")
	}
}
