package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"imgus-backend/internal/fal"
	"imgus-backend/internal/models"
	"imgus-backend/internal/services"
	"imgus-backend/internal/webhook"
)

const maxWebhookBody = 10 << 20

type SignatureVerifier interface {
	Verify(ctx context.Context, h webhook.Headers, body []byte) error
}

type JobFinder interface {
	GetJobByRequestID(ctx context.Context, requestID string) (*models.Job, error)
}

type WebhookHandler struct {
	jobs       JobFinder
	reconciler *services.Reconciler
	verifier   SignatureVerifier
	skipVerify bool
	logger     zerolog.Logger
}

// NewWebhookHandler builds the fal webhook endpoint. With skipVerify set,
// deliveries are accepted unsigned and verifier may be nil.
func NewWebhookHandler(jobs JobFinder, reconciler *services.Reconciler, verifier SignatureVerifier, skipVerify bool, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		jobs:       jobs,
		reconciler: reconciler,
		verifier:   verifier,
		skipVerify: skipVerify,
		logger:     logger.With().Str("component", "fal_webhook").Logger(),
	}
}

// HandleFal godoc
// @Summary     fal webhook endpoint
// @Description Receives signed completion callbacks from fal. Business failures are acknowledged with 200 and failed=true.
// @Tags        webhooks
// @Accept      json
// @Produce     json
// @Param       X-Fal-Webhook-Request-Id header string true "Request ID"
// @Param       X-Fal-Webhook-User-Id header string true "fal user ID"
// @Param       X-Fal-Webhook-Timestamp header string true "Unix timestamp"
// @Param       X-Fal-Webhook-Signature header string true "Hex ed25519 signature"
// @Success     200 {object} models.WebhookResponse
// @Failure     400 {object} models.WebhookResponse
// @Failure     401 {object} models.WebhookResponse
// @Failure     404 {object} models.WebhookResponse
// @Failure     500 {object} models.WebhookResponse
// @Router      /webhooks/fal [post]
func (h *WebhookHandler) HandleFal(c *gin.Context) {
	ctx := c.Request.Context()
	headers := webhook.HeadersFrom(c.Request.Header)
	requestID := headers.RequestID

	defer func() {
		if r := recover(); r != nil {
			h.unhandled(c, requestID, fmt.Errorf("panic: %v", r))
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, models.WebhookResponse{Error: "body_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, models.WebhookResponse{Error: "unreadable_body"})
		return
	}

	if h.skipVerify {
		h.logger.Warn().Str("request_id", requestID).Msg("accepting webhook without signature verification")
	} else if err := h.verifier.Verify(ctx, headers, body); err != nil {
		h.logger.Warn().Err(err).Str("request_id", requestID).Msg("webhook signature rejected")
		c.JSON(http.StatusUnauthorized, models.WebhookResponse{Error: "invalid_signature"})
		return
	}

	var payload fal.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, models.WebhookResponse{Error: "invalid_json"})
		return
	}
	if payload.RequestID != "" {
		requestID = payload.RequestID
	}
	if requestID == "" {
		c.JSON(http.StatusBadRequest, models.WebhookResponse{Error: "missing_request_id"})
		return
	}
	payload.RequestID = requestID

	job, err := h.jobs.GetJobByRequestID(ctx, requestID)
	if errors.Is(err, models.ErrNotFound) {
		h.logger.Warn().Str("request_id", requestID).Msg("webhook for unknown job")
		c.JSON(http.StatusNotFound, models.WebhookResponse{Error: "job_not_found"})
		return
	}
	if err != nil {
		h.unhandled(c, requestID, err)
		return
	}

	out, err := h.reconciler.Deliver(ctx, job, &payload, map[string]interface{}{
		"headers": map[string]string{
			"requestId": headers.RequestID,
			"userId":    headers.UserID,
			"timestamp": headers.Timestamp,
		},
	})
	if err != nil {
		h.unhandled(c, requestID, err)
		return
	}

	c.JSON(http.StatusOK, webhookReply(out))
}

func webhookReply(out *services.Outcome) models.WebhookResponse {
	switch out.Job.Status {
	case models.JobStatusSucceeded:
		ids := make([]string, 0, len(out.Outputs))
		for _, o := range out.Outputs {
			ids = append(ids, o.Image.ID.String())
		}
		return models.WebhookResponse{OK: true, Outputs: ids}
	case models.JobStatusFailed, models.JobStatusCanceled:
		return models.WebhookResponse{OK: true, Failed: true, Reason: out.Job.ErrorCode.String}
	}
	return models.WebhookResponse{OK: true}
}

func (h *WebhookHandler) unhandled(c *gin.Context, requestID string, err error) {
	h.logger.Error().Err(err).Str("request_id", requestID).Msg("unhandled webhook error")
	h.reconciler.FailUnhandled(context.WithoutCancel(c.Request.Context()), requestID, err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, models.WebhookResponse{Error: "unhandled_error"})
}
