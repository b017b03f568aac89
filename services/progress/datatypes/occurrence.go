// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the domain types shared by the progress
// subsystem: care-task occurrences, completions, progress aggregates,
// and the realtime broadcast envelope.
//
// All types here are plain data. The authoritative store owns Occurrence
// rows; everything in this package is a read-only copy or a derived view.
package datatypes

import "time"

// TaskType identifies the kind of recurring care task.
type TaskType string

const (
	// TaskWatering is a watering task.
	TaskWatering TaskType = "watering"

	// TaskFertilizing is a fertilizing task.
	TaskFertilizing TaskType = "fertilizing"

	// TaskHarvesting is a harvesting task.
	TaskHarvesting TaskType = "harvesting"

	// TaskPruning is a pruning task.
	TaskPruning TaskType = "pruning"
)

// DayFormat is the calendar-date layout used for progress scoping and
// cache keys.
const DayFormat = "2006-01-02"

// Day formats t as a calendar date in the local timezone.
func Day(t time.Time) string {
	return t.Format(DayFormat)
}

// Today returns the current calendar date in the local timezone.
func Today() string {
	return Day(time.Now())
}

// Task is a recurring care task attached to one plant in one garden.
//
// Tasks are owned by the authoritative store; the recurrence rule that
// expands a task into dated occurrences is outside this subsystem.
type Task struct {
	ID            string   `json:"id"`
	GardenID      string   `json:"gardenId"`
	GardenPlantID string   `json:"gardenPlantId"`
	Name          string   `json:"name"`
	Type          TaskType `json:"type"`
	Icon          string   `json:"icon,omitempty"`
}

// Occurrence is one calendar day's instance of a recurring care task.
//
// CompletedCount is monotonically non-decreasing and clamped to
// [0, RequiredCount]. The clamp is enforced by the authoritative store;
// local optimistic updates apply the same clamp so the predicted value
// never exceeds what the store could confirm.
type Occurrence struct {
	ID             string     `json:"id"`
	TaskID         string     `json:"taskId"`
	GardenID       string     `json:"gardenId"`
	GardenPlantID  string     `json:"gardenPlantId"`
	DueAt          time.Time  `json:"dueAt"`
	RequiredCount  int        `json:"requiredCount"`
	CompletedCount int        `json:"completedCount"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	TaskType       TaskType   `json:"taskType"`
	TaskIcon       string     `json:"taskIcon,omitempty"`
}

// Remaining returns the number of outstanding units on the occurrence.
func (o Occurrence) Remaining() int {
	r := o.RequiredCount - o.CompletedCount
	if r < 0 {
		return 0
	}
	return r
}

// IsComplete reports whether every required unit has been completed.
func (o Occurrence) IsComplete() bool {
	return o.RequiredCount > 0 && o.CompletedCount >= o.RequiredCount
}

// ClampCount clamps a proposed completed count to [0, RequiredCount].
func (o Occurrence) ClampCount(count int) int {
	if count < 0 {
		return 0
	}
	if count > o.RequiredCount {
		return o.RequiredCount
	}
	return count
}

// Completion is one attributed increment performed on an occurrence.
//
// Completions exist only for "who did this" display. Counting always
// uses Occurrence.CompletedCount, never the number of Completion rows.
type Completion struct {
	OccurrenceID string    `json:"occurrenceId"`
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"displayName,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
