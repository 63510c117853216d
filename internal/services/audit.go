package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"imgus-backend/internal/database"
	"imgus-backend/internal/models"
)

// AuditTrail appends diagnostic events to a job's log. Appends are
// best-effort; a failed append is logged and never fails the caller.
type AuditTrail struct {
	store  database.Store
	logger zerolog.Logger
}

func NewAuditTrail(store database.Store, logger zerolog.Logger) *AuditTrail {
	return &AuditTrail{
		store:  store,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

func (a *AuditTrail) Record(ctx context.Context, jobID uuid.UUID, eventType models.EventType, payload map[string]interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error().Err(err).Str("job_id", jobID.String()).Str("event", string(eventType)).Msg("failed to encode event payload")
		raw = []byte(`{}`)
	}
	if err := a.store.AppendEvent(ctx, jobID, eventType, raw); err != nil {
		a.logger.Error().Err(err).Str("job_id", jobID.String()).Str("event", string(eventType)).Msg("failed to append job event")
	}
}
