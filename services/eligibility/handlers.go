// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eligibility

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ServiceVersion is the eligibility service version.
const ServiceVersion = "0.3.0"

// ProgramSource supplies the program catalog to the HTTP boundary. The
// catalog package provides the standard implementation.
type ProgramSource interface {
	// Programs returns the current catalog snapshot. Implementations
	// must return a slice the caller may read concurrently.
	Programs() []IncentiveProgram

	// Version is a content hash of the catalog, combined with the
	// project snapshot hash for cache keying.
	Version() string
}

// EvaluateRequest is the body of POST /v1/evaluate.
type EvaluateRequest struct {
	Project Project      `json:"project" binding:"required"`
	Config  EngineConfig `json:"config"`
}

// Handlers contains the HTTP handlers for the eligibility service.
type Handlers struct {
	engine *Engine
	source ProgramSource
	logger *slog.Logger
}

// NewHandlers creates handlers for the given engine and catalog source.
func NewHandlers(engine *Engine, source ProgramSource, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{engine: engine, source: source, logger: logger}
}

// HealthCheck reports service liveness and catalog state.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"service":         "eligibility",
		"version":         ServiceVersion,
		"engine_version":  EngineVersion,
		"catalog_version": h.source.Version(),
		"programs":        len(h.source.Programs()),
	})
}

// Evaluate runs one eligibility evaluation against the current catalog.
//
// A request always produces a result set (possibly partial or degraded
// with diagnostics); only a structurally invalid project is rejected.
func (h *Handlers) Evaluate(c *gin.Context) {
	requestID := uuid.NewString()
	logger := h.logger.With("request_id", requestID)
	c.Header("X-Request-ID", requestID)

	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("malformed evaluate request", "error", err.Error())
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "malformed request body",
			"detail":     err.Error(),
			"request_id": requestID,
		})
		return
	}

	output, err := h.engine.Evaluate(c.Request.Context(), &req.Project, h.source.Programs(), req.Config)
	if err != nil {
		if errors.Is(err, ErrInvalidProject) {
			logger.Warn("invalid project snapshot", "error", err.Error())
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      err.Error(),
				"request_id": requestID,
			})
			return
		}
		logger.Error("evaluation failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "evaluation failed",
			"request_id": requestID,
		})
		return
	}

	output.CatalogVersion = h.source.Version()
	c.JSON(http.StatusOK, output)
}
