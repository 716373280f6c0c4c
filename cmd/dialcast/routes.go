package main

import (
	"github.com/gin-gonic/gin"

	"dialcast/internal/config"
	"dialcast/internal/httpapi"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", h.Health)

	// Token issuance for local/test use; production operators get tokens from
	// the admin application.
	if !cfg.IsProduction() {
		r.POST("/auth/login", h.Login)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		campaigns := v1.Group("/campaigns")
		{
			campaigns.POST("/status", h.BatchCampaignStatus)
			campaigns.POST("/:campaign_id/abort", h.AbortCampaign)
			campaigns.POST("/:campaign_id/calls", h.OriginateCall)
			campaigns.GET("/:campaign_id/calls", h.GetCampaignCalls)
			campaigns.GET("/:campaign_id/calls/:phone", h.GetCallStatus)
			campaigns.POST("/:campaign_id/calls/:phone/reset", h.ResetCall)
		}
	}
}
