// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/verdantlabs/verdant/pkg/validation"
	"github.com/verdantlabs/verdant/services/broadcast"
	"github.com/verdantlabs/verdant/services/progress"
	"github.com/verdantlabs/verdant/services/progress/datatypes"
)

// HealthCheck reports daemon liveness plus a few cheap gauges the UI
// polls on its settings screen.
func HealthCheck(svc *progress.Service, hub *broadcast.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"occurrences": len(svc.Occurrences()),
			"sessions":    hub.ActiveSessions(),
		})
	}
}

// GetProgress serves the cached due/completed aggregate for a scope
// and id. The date query defaults to today.
func GetProgress(svc *progress.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := datatypes.Scope(c.Param("scope"))
		id := c.Param("id")
		if err := validation.ValidateID(string(scope), id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date := c.Query("date")
		if date == "" {
			date = datatypes.Today()
		} else if err := validation.ValidateDate(date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		snapshot, err := svc.GetProgress(c.Request.Context(), scope, id, date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"scope":     scope,
			"id":        id,
			"date":      date,
			"due":       snapshot.Due,
			"completed": snapshot.Completed,
		})
	}
}

type progressRequest struct {
	Increment int `json:"increment"`
}

// ProgressOccurrence applies an increment (default 1) to one
// occurrence. A store rejection comes back as 502 with the local value
// already rolled back.
func ProgressOccurrence(svc *progress.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req progressRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}
		if req.Increment == 0 {
			req.Increment = 1
		}

		id, err := validation.SanitizeID("occurrence", c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		err = svc.IncrementOccurrence(c.Request.Context(), id, req.Increment)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
		case errors.Is(err, progress.ErrOccurrenceNotLoaded):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, progress.ErrMutationFailed):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "status": "rolled_back"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}

type progressAllRequest struct {
	GardenPlantID string `json:"gardenPlantId" binding:"required"`
}

// ProgressAllForTarget applies one unit to every outstanding
// occurrence of one plant in a garden.
func ProgressAllForTarget(svc *progress.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req progressAllRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "gardenPlantId is required"})
			return
		}

		if err := validation.ValidateIDs("target", []string{c.Param("id"), req.GardenPlantID}); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		err := svc.ProgressAllForTarget(c.Request.Context(), c.Param("id"), req.GardenPlantID)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
	}
}

type markAllRequest struct {
	GardenID string `json:"gardenId"`
}

// MarkAllCompleted finishes every outstanding unit, in one garden or
// everywhere when no garden is given.
func MarkAllCompleted(svc *progress.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req markAllRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}

		if err := svc.MarkAllCompleted(c.Request.Context(), req.GardenID); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
	}
}

// GardenTasks serves the garden's task view grouped by plant.
func GardenTasks(svc *progress.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := validation.ValidateID("garden", id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, svc.GardenView(id))
	}
}
