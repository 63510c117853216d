package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"imgus-backend/internal/middleware"
	"imgus-backend/internal/models"
	"imgus-backend/internal/services"
)

type JobsHandler struct {
	jobs   *services.JobService
	logger zerolog.Logger
}

func NewJobsHandler(jobs *services.JobService, logger zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		jobs:   jobs,
		logger: logger.With().Str("component", "jobs_handler").Logger(),
	}
}

// Submit godoc
// @Summary     Submit an image edit job
// @Description Validates the inputs, creates a job and enqueues it with fal. Completion arrives by webhook or polling.
// @Tags        jobs
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.CreateJobRequest true "Job request"
// @Success     200 {object} models.SubmitResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     502 {object} models.ErrorResponse
// @Router      /jobs [post]
func (h *JobsHandler) Submit(c *gin.Context) {
	in, ok := bindSubmit(c)
	if !ok {
		return
	}

	job, err := h.jobs.Submit(c.Request.Context(), middleware.UserID(c), in)
	if err != nil {
		h.writeSubmitError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.SubmitResponse{
		JobID:     job.ID.String(),
		RequestID: job.ProviderRequestID.String,
		Status:    job.Status,
	})
}

// Quick godoc
// @Summary     Run an image edit synchronously
// @Description Runs the model inline and returns the stored outputs.
// @Tags        jobs
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.CreateJobRequest true "Job request"
// @Success     200 {object} models.JobResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     502 {object} models.ErrorResponse
// @Router      /jobs/quick [post]
func (h *JobsHandler) Quick(c *gin.Context) {
	in, ok := bindSubmit(c)
	if !ok {
		return
	}

	out, err := h.jobs.RunQuick(c.Request.Context(), middleware.UserID(c), in)
	if err != nil {
		h.writeSubmitError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.jobs.Response(c.Request.Context(), out))
}

// Get godoc
// @Summary     Get job status
// @Description Returns the job, reconciling it with fal first when it is still in flight.
// @Tags        jobs
// @Produce     json
// @Security    Bearer
// @Param       id path string true "Job ID (UUID)"
// @Success     200 {object} models.JobResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /jobs/{id} [get]
func (h *JobsHandler) Get(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	out, err := h.jobs.Get(c.Request.Context(), middleware.UserID(c), jobID)
	if err != nil {
		h.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.jobs.Response(c.Request.Context(), out))
}

// Events godoc
// @Summary     List job events
// @Description Returns the job's audit trail in creation order.
// @Tags        jobs
// @Produce     json
// @Security    Bearer
// @Param       id path string true "Job ID (UUID)"
// @Success     200 {object} models.EventsResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /jobs/{id}/events [get]
func (h *JobsHandler) Events(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	events, err := h.jobs.Events(c.Request.Context(), middleware.UserID(c), jobID)
	if err != nil {
		h.writeLookupError(c, err)
		return
	}

	resp := models.EventsResponse{JobID: jobID.String(), Events: make([]models.EventResponse, 0, len(events))}
	for _, ev := range events {
		resp.Events = append(resp.Events, models.EventResponse{Type: ev.Type, Payload: ev.Payload, CreatedAt: ev.CreatedAt})
	}
	c.JSON(http.StatusOK, resp)
}

func bindSubmit(c *gin.Context) (services.SubmitInput, bool) {
	var req models.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
		return services.SubmitInput{}, false
	}

	ids := make([]uuid.UUID, 0, len(req.InputImageIDs))
	for _, raw := range req.InputImageIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: "invalid input image id: " + raw})
			return services.SubmitInput{}, false
		}
		ids = append(ids, id)
	}

	return services.SubmitInput{
		Prompt:        req.Prompt,
		InputImageIDs: ids,
		NumImages:     req.NumImages,
		OutputFormat:  req.OutputFormat,
	}, true
}

func parseJobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "job not found"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *JobsHandler) writeSubmitError(c *gin.Context, err error) {
	var upstream *services.UpstreamError
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
	case errors.Is(err, services.ErrInputNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "input image not found", Message: err.Error()})
	case errors.As(err, &upstream):
		c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: upstream.Code, Message: upstream.Err.Error()})
	default:
		h.logger.Error().Err(err).Str("user_id", middleware.UserID(c)).Msg("job submission failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to submit job"})
	}
}

func (h *JobsHandler) writeLookupError(c *gin.Context, err error) {
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "job not found"})
		return
	}
	h.logger.Error().Err(err).Str("user_id", middleware.UserID(c)).Msg("job lookup failed")
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to load job"})
}
