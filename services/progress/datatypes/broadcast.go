// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// BroadcastKind classifies a change notification.
type BroadcastKind string

const (
	// BroadcastTasks signals a change to tasks or occurrences.
	BroadcastTasks BroadcastKind = "tasks"

	// BroadcastActivity signals new activity (completions, notes).
	BroadcastActivity BroadcastKind = "activity"

	// BroadcastMembership signals a membership change in a garden.
	BroadcastMembership BroadcastKind = "membership"
)

// BroadcastMessage is the transient change notification exchanged over
// the realtime boundary. It is never persisted by this subsystem.
//
// ActorID carries the id of the client that caused the change, so a
// consumer can drop its own echoes. An empty ActorID means the origin
// is unknown and the message must be processed.
type BroadcastMessage struct {
	GardenID string            `json:"gardenId"`
	Kind     BroadcastKind     `json:"kind"`
	ActorID  string            `json:"actorId,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsSelf reports whether the message was caused by the given actor.
func (m BroadcastMessage) IsSelf(actorID string) bool {
	return actorID != "" && m.ActorID == actorID
}
