package main

import (
	"database/sql"
	"net/http"
	"time"

	"calling-platform/internal/httpapi"
	"calling-platform/internal/metrics"
	"calling-platform/internal/signaling"
	"calling-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	handlers httpapi.Handlers
	gateway  *signaling.Gateway
	authMW   gin.HandlerFunc
	db       *sql.DB
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal
// modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "db unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Signaling websocket. Clients authenticate by announcing presence after
	// connect; the REST surface is where credentials are checked.
	r.GET("/ws", deps.gateway.HandleWS)

	// account lifecycle (public)
	api := r.Group("/api")
	{
		api.POST("/register", deps.handlers.Register)
		api.POST("/login", deps.handlers.Login)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(deps.authMW)
	{
		v1.GET("/me", deps.handlers.Me)
		v1.GET("/media-token", deps.handlers.MediaToken)
		v1.GET("/calls/history", deps.handlers.CallHistory)
	}
}
