package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"imgus-backend/internal/models"
)

// Store is the persistence boundary for jobs, images, their links and the
// per-job audit log. Lookups that find nothing return models.ErrNotFound and
// uniqueness violations surface as models.ErrDuplicate.
type Store interface {
	CreateJob(ctx context.Context, userID, prompt string) (*models.Job, error)
	// LinkInputs attaches input images with ordinals 0..n-1 in slice order.
	LinkInputs(ctx context.Context, jobID uuid.UUID, imageIDs []uuid.UUID) error
	// GetJob is ownership-scoped: a job owned by someone else is ErrNotFound.
	GetJob(ctx context.Context, jobID uuid.UUID, userID string) (*models.Job, error)
	GetJobByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	GetJobByRequestID(ctx context.Context, requestID string) (*models.Job, error)

	// MarkRunning moves a queued or running job to running, stamping
	// started_at once. A non-empty requestID is stored only if none is set yet.
	// Terminal jobs are left untouched.
	MarkRunning(ctx context.Context, jobID uuid.UUID, requestID string) error
	// MarkTerminal moves a non-terminal job into status and reports whether it
	// did. Repeated calls on a terminal job change nothing.
	MarkTerminal(ctx context.Context, jobID uuid.UUID, status models.JobStatus, code, message string) (bool, error)
	// ClaimIngestion takes the ingestion lease on a non-terminal job whose
	// lease is empty or expired.
	ClaimIngestion(ctx context.Context, jobID uuid.UUID, lease time.Duration) (bool, error)
	// MarkSucceededIfUnleased moves a non-terminal job that has never held an
	// ingestion lease to succeeded and reports whether it did.
	MarkSucceededIfUnleased(ctx context.Context, jobID uuid.UUID) (bool, error)

	ListOutputs(ctx context.Context, jobID uuid.UUID) ([]models.Output, error)
	// CreateOutput inserts the image and its output link atomically.
	CreateOutput(ctx context.Context, jobID uuid.UUID, ordinal int, img *models.Image) error
	GetInputImages(ctx context.Context, userID string, ids []uuid.UUID) ([]models.Image, error)
	CreateImage(ctx context.Context, img *models.Image) error
	ListRecentOutputs(ctx context.Context, userID string, limit int) ([]models.Image, error)

	AppendEvent(ctx context.Context, jobID uuid.UUID, eventType models.EventType, payload json.RawMessage) error
	ListEvents(ctx context.Context, jobID uuid.UUID) ([]models.JobEvent, error)

	Ping(ctx context.Context) error
	Close() error
}
