package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"imgus-backend/internal/middleware"
	"imgus-backend/internal/models"
	"imgus-backend/internal/services"
	"imgus-backend/internal/storage"
)

type UploadsHandler struct {
	jobs   *services.JobService
	logger zerolog.Logger
}

func NewUploadsHandler(jobs *services.JobService, logger zerolog.Logger) *UploadsHandler {
	return &UploadsHandler{
		jobs:   jobs,
		logger: logger.With().Str("component", "uploads_handler").Logger(),
	}
}

// Commit godoc
// @Summary     Commit an uploaded input image
// @Description Registers an object already uploaded under the caller's uploads prefix as an input image.
// @Tags        uploads
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.CommitUploadRequest true "Uploaded object key"
// @Success     200 {object} models.CommitUploadResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /uploads/commit [post]
func (h *UploadsHandler) Commit(c *gin.Context) {
	var req models.CommitUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
		return
	}

	img, err := h.jobs.CommitUpload(c.Request.Context(), middleware.UserID(c), req.Key)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, models.CommitUploadResponse{ImageID: img.ID.String()})
	case errors.Is(err, services.ErrForbiddenKey):
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "forbidden key"})
	case errors.Is(err, storage.ErrObjectNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "object not found"})
	case errors.Is(err, services.ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "unsupported content type", Message: err.Error()})
	case errors.Is(err, models.ErrDuplicate):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "upload already committed"})
	default:
		h.logger.Error().Err(err).Str("user_id", middleware.UserID(c)).Str("storage_key", req.Key).Msg("upload commit failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to commit upload"})
	}
}
