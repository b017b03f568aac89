// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/verdantlabs/verdant/services/broadcast"
	"github.com/verdantlabs/verdant/services/progress"
)

// SetupRoutes registers every daemon endpoint on the router.
func SetupRoutes(router *gin.Engine, svc *progress.Service, hub *broadcast.Hub, metricsHandler http.Handler) {
	router.GET("/health", HealthCheck(svc, hub))
	router.GET("/metrics", gin.WrapH(metricsHandler))

	v1 := router.Group("/v1")
	{
		v1.GET("/progress/:scope/:id", GetProgress(svc))
		v1.POST("/progress/mark-all", MarkAllCompleted(svc))
		v1.POST("/occurrences/:id/progress", ProgressOccurrence(svc))
		v1.GET("/gardens/:id/tasks", GardenTasks(svc))
		v1.POST("/gardens/:id/progress-all", ProgressAllForTarget(svc))
		v1.GET("/ws", broadcast.HandleWS(hub))
	}
}
