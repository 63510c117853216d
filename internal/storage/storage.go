package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// ObjectStore is durable blob storage addressed by key.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ResultKey is the deterministic location of output ordinal idx of a job.
func ResultKey(prefix, userID string, jobID uuid.UUID, idx int, ext string) string {
	return fmt.Sprintf("%s/users/%s/results/%s/%d.%s", prefix, userID, jobID, idx, ext)
}

// UploadKey is where presigned input uploads for userID are written.
func UploadKey(prefix, userID, ext string, now time.Time) string {
	return fmt.Sprintf("%s/users/%s/uploads/%04d/%02d/%s.%s",
		prefix, userID, now.Year(), int(now.Month()), uuid.NewString(), ext)
}

// OwnsUploadKey reports whether key is a clean upload path belonging to userID.
func OwnsUploadKey(key, userID string) bool {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key {
		return false
	}
	return strings.Contains(key, "/users/"+userID+"/uploads/")
}

// ExtensionFor maps a content type to the extension used in result keys.
func ExtensionFor(contentType string) string {
	if strings.Contains(strings.ToLower(contentType), "png") {
		return "png"
	}
	return "jpg"
}
