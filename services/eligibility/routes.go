// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eligibility

import "github.com/gin-gonic/gin"

// SetupRoutes registers the eligibility endpoints on the router.
func SetupRoutes(router *gin.Engine, h *Handlers) {
	router.GET("/health", h.HealthCheck)

	v1 := router.Group("/v1")
	{
		v1.POST("/evaluate", h.Evaluate)
	}
}
