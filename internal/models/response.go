package models

import (
	"encoding/json"
	"time"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

type OutputRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// JobResponse reports a failed job's message in Error and its machine code
// in ErrorCode.
type JobResponse struct {
	JobID     string      `json:"jobId"`
	Status    JobStatus   `json:"status"`
	Outputs   []OutputRef `json:"outputs"`
	Error     string      `json:"error,omitempty"`
	ErrorCode string      `json:"errorCode,omitempty"`
}

type SubmitResponse struct {
	JobID     string    `json:"jobId"`
	RequestID string    `json:"requestId"`
	Status    JobStatus `json:"status"`
}

// WebhookResponse is the body returned to the provider.
type WebhookResponse struct {
	OK      bool     `json:"ok"`
	Failed  bool     `json:"failed,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Outputs []string `json:"outputs,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type CommitUploadResponse struct {
	ImageID string `json:"imageId"`
}

type GalleryItem struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	Size      int64     `json:"size"`
}

type GalleryResponse struct {
	Items []GalleryItem `json:"items"`
}

type EventResponse struct {
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

type EventsResponse struct {
	JobID  string          `json:"jobId"`
	Events []EventResponse `json:"events"`
}
