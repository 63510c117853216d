package handlers

import (
	"github.com/gin-gonic/gin"
	"imgus-backend/internal/config"
	"imgus-backend/internal/middleware"
)

type Handlers struct {
	Health  *HealthHandler
	Jobs    *JobsHandler
	Uploads *UploadsHandler
	Gallery *GalleryHandler
	Webhook *WebhookHandler
}

// Register mounts every route on router.
func Register(router *gin.Engine, cfg *config.Config, h Handlers) {
	router.GET("/health", h.Health.Health)

	// Webhook (no auth, uses ed25519 signatures)
	router.POST("/api/v1/webhooks/fal", h.Webhook.HandleFal)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg))

	api.POST("/jobs", h.Jobs.Submit)
	api.POST("/jobs/quick", h.Jobs.Quick)
	api.GET("/jobs/:id", h.Jobs.Get)
	api.GET("/jobs/:id/events", h.Jobs.Events)

	api.POST("/uploads/commit", h.Uploads.Commit)
	api.GET("/gallery", h.Gallery.List)
}
