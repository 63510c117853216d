package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"imgus-backend/internal/middleware"
	"imgus-backend/internal/models"
	"imgus-backend/internal/services"
)

type GalleryHandler struct {
	jobs   *services.JobService
	logger zerolog.Logger
}

func NewGalleryHandler(jobs *services.JobService, logger zerolog.Logger) *GalleryHandler {
	return &GalleryHandler{jobs: jobs, logger: logger}
}

// List godoc
// @Summary     Recent outputs
// @Description Returns the caller's most recent output images, newest first.
// @Tags        gallery
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.GalleryResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /gallery [get]
func (h *GalleryHandler) List(c *gin.Context) {
	items, err := h.jobs.Gallery(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", middleware.UserID(c)).Msg("gallery listing failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list gallery"})
		return
	}
	c.JSON(http.StatusOK, models.GalleryResponse{Items: items})
}
