// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SessionCounter reports session occupancy.
type SessionCounter interface {
	ActiveSessions() int64
	MaxSessions() int64
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int64  `json:"active_sessions"`
	MaxSessions    int64  `json:"max_sessions"`
}

// HealthCheck reports liveness and the current session count. The status is
// "ok" even at the session cap; new connections are refused by the
// WebSocket handler, not by the health check.
func HealthCheck(counter SessionCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:         "ok",
			ActiveSessions: counter.ActiveSessions(),
			MaxSessions:    counter.MaxSessions(),
		})
	}
}
