package models

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// IsTerminal reports whether no further transition can leave s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

type ImageKind string

const (
	ImageKindInput  ImageKind = "input"
	ImageKindOutput ImageKind = "output"
)

type ImageRole string

const (
	RoleInput  ImageRole = "input"
	RoleOutput ImageRole = "output"
)

// Error codes persisted on failed jobs.
const (
	CodeSubmitError      = "fal_queue_submit_error"
	CodeSubscribeError   = "fal_subscribe_error"
	CodeNoImages         = "no_images"
	CodeDownloadFailed   = "download_failed"
	CodeStorageFailed    = "storage_failed"
	CodeIngestError      = "ingest_error"
	CodePollError        = "poll_error"
	CodeProviderError    = "fal_error"
	CodeWebhookUnhandled = "webhook_unhandled_error"

	// Recorded on a delivery that arrives while another caller is ingesting.
	CodeIngestionInProgress = "ingestion_in_progress"
)

type Job struct {
	ID                uuid.UUID
	UserID            string
	Prompt            string
	Status            JobStatus
	ProviderRequestID sql.NullString
	ErrorCode         sql.NullString
	ErrorMessage      sql.NullString
	IngestLeaseUntil  sql.NullTime
	// Ingesting is true while another caller holds an unexpired ingestion lease.
	Ingesting  bool
	CreatedAt  time.Time
	StartedAt  sql.NullTime
	FinishedAt sql.NullTime
}

type Image struct {
	ID         uuid.UUID
	UserID     string
	Kind       ImageKind
	StorageKey string
	SizeBytes  int64
	MimeType   string
	Width      sql.NullInt32
	Height     sql.NullInt32
	CreatedAt  time.Time
}

type JobImage struct {
	JobID   uuid.UUID
	ImageID uuid.UUID
	Role    ImageRole
	Ordinal int
}

// Output is an output link joined with its image.
type Output struct {
	Ordinal int
	Image   Image
}

type EventType string

const (
	EventSubmitted       EventType = "submitted"
	EventWebhookReceived EventType = "webhook_received"
	EventImageSaved      EventType = "image_saved"
	EventSuccess         EventType = "success"
	EventError           EventType = "error"
	EventUnhandledError  EventType = "webhook_unhandled_error"
)

type JobEvent struct {
	ID        int64
	JobID     uuid.UUID
	Type      EventType
	Payload   json.RawMessage
	CreatedAt time.Time
}
