package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/salespulse/sp-ingest/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	// Inbound webhook endpoint. No platform auth: deliveries are admitted by
	// connection lookup, rate limit, and signature verification instead.
	router.POST("/webhook", handler.ReceiveWebhook)

	// Admin API v1 routes (requires authentication)
	v1 := router.Group("/api/v1")
	{
		v1.POST("/connections", middleware.Auth(authCfg), handler.CreateConnection)
		v1.GET("/connections/:id", middleware.Auth(authCfg), handler.GetConnection)
		v1.GET("/connections/:id/deliveries", middleware.Auth(authCfg), handler.ListDeliveries)
	}
}
