// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"fmt"

	"github.com/verdantlabs/verdant/services/progress/datatypes"
)

// Key builds the tier key for a progress aggregate:
// "{scope}:{id}:{date}".
func Key(scope datatypes.Scope, id, date string) string {
	return fmt.Sprintf("%s:%s:%s", scope, id, date)
}

// GardenPrefix returns the prefix covering every cached date for one
// garden.
func GardenPrefix(gardenID string) string {
	return fmt.Sprintf("%s:%s:", datatypes.ScopeGarden, gardenID)
}

// UserPrefix returns the prefix covering every cached date for one
// user.
func UserPrefix(userID string) string {
	return fmt.Sprintf("%s:%s:", datatypes.ScopeUser, userID)
}
