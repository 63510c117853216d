package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"imgus-backend/internal/models"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrInputNotFound   = errors.New("image not found")
	ErrForbiddenKey    = errors.New("storage key does not belong to caller")
	ErrUnsupportedType = errors.New("unsupported content type")
)

// DownloadError is a failed artifact fetch.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to download %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("failed to download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

func (e *DownloadError) Code() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download_http_%d", e.StatusCode)
	}
	return models.CodeDownloadFailed
}

type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to store %s: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Code() string { return models.CodeStorageFailed }

// ErrorCode maps a materialization error to the code persisted on the job.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return models.CodeIngestError
}

// UpstreamError is a provider failure after the job was created. The job has
// already been marked failed with Code.
type UpstreamError struct {
	JobID uuid.UUID
	Code  string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
