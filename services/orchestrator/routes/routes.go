// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/ragstream/services/orchestrator/handlers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter creates the gin engine with recovery and tracing middleware.
func NewRouter(serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	return router
}

// SetupRoutes registers every endpoint.
//
// # Routes
//
//   - GET /health: liveness and session occupancy.
//   - GET /metrics: Prometheus metrics from gatherer.
//   - GET /v1/chat/ws: chat WebSocket.
func SetupRoutes(router *gin.Engine, supervisor *handlers.Supervisor, gatherer prometheus.Gatherer) {
	router.GET("/health", handlers.HealthCheck(supervisor))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		v1.GET("/chat/ws", supervisor.HandleChatWebSocket)
	}
}
