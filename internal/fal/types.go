package fal

import (
	"encoding/json"
	"fmt"
)

// Input is the generation payload sent to the model.
type Input struct {
	Prompt       string   `json:"prompt"`
	ImageURLs    []string `json:"image_urls"`
	NumImages    int      `json:"num_images,omitempty"`
	OutputFormat string   `json:"output_format,omitempty"`
}

// Artifact is one provider-produced file reference.
type Artifact struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

type Result struct {
	Artifacts   []Artifact
	Description string
}

type resultPayload struct {
	Images      []Artifact `json:"images"`
	Description string     `json:"description,omitempty"`
}

func (p resultPayload) result() *Result {
	return &Result{Artifacts: p.Images, Description: p.Description}
}

// QueueStatus is one of Queued, InProgress or Completed.
type QueueStatus interface {
	queueStatus()
}

type Queued struct {
	Position int
}

type InProgress struct{}

type Completed struct{}

func (Queued) queueStatus()     {}
func (InProgress) queueStatus() {}
func (Completed) queueStatus()  {}

type statusPayload struct {
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position"`
}

func (p statusPayload) parse() (QueueStatus, error) {
	switch p.Status {
	case "IN_QUEUE":
		return Queued{Position: p.QueuePosition}, nil
	case "IN_PROGRESS":
		return InProgress{}, nil
	case "COMPLETED":
		return Completed{}, nil
	}
	return nil, fmt.Errorf("unknown queue status %q", p.Status)
}

// APIError is a non-2xx reply from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fal request failed: status %d, body: %s", e.StatusCode, e.Body)
}

// WebhookStatusOK marks a successful webhook delivery.
const WebhookStatusOK = "OK"

// WebhookPayload is the JSON body of a provider push notification.
type WebhookPayload struct {
	RequestID        string          `json:"request_id"`
	GatewayRequestID string          `json:"gateway_request_id,omitempty"`
	Status           string          `json:"status"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Error            json.RawMessage `json:"error,omitempty"`
	PayloadError     string          `json:"payload_error,omitempty"`
}

func (w *WebhookPayload) Succeeded() bool {
	return w.Status == WebhookStatusOK
}

// Artifacts decodes the images carried by a successful delivery.
func (w *WebhookPayload) Artifacts() ([]Artifact, error) {
	if len(w.Payload) == 0 || string(w.Payload) == "null" {
		return nil, nil
	}
	var p resultPayload
	if err := json.Unmarshal(w.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	return p.Images, nil
}

// ErrorCode returns error.code when the provider sent one.
func (w *WebhookPayload) ErrorCode() string {
	var e struct {
		Code string `json:"code"`
	}
	if len(w.Error) > 0 && json.Unmarshal(w.Error, &e) == nil {
		return e.Code
	}
	return ""
}

// ErrorMessage is the raw error document, or the payload error when the
// provider omitted one.
func (w *WebhookPayload) ErrorMessage() string {
	if len(w.Error) > 0 && string(w.Error) != "null" {
		return string(w.Error)
	}
	if w.PayloadError != "" {
		return w.PayloadError
	}
	return "status " + w.Status
}
