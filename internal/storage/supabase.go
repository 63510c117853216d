package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
)

// SupabaseStore keeps objects in a Supabase Storage bucket. The storage API
// has no context support, so ctx is only checked before each call.
type SupabaseStore struct {
	client  *storage_go.Client
	bucket  string
	baseURL string
}

func NewSupabaseStore(supabaseURL, serviceKey, bucket string) (*SupabaseStore, error) {
	baseURL := strings.TrimSuffix(supabaseURL, "/")

	client, err := supabase.NewClient(baseURL, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &SupabaseStore{
		client:  client.Storage,
		bucket:  bucket,
		baseURL: baseURL,
	}, nil
}

func (s *SupabaseStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	upsert := true
	_, err := s.client.UploadFile(s.bucket, key, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file %s: %w", key, err)
	}
	return nil
}

func (s *SupabaseStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, name := path.Split(key)
	files, err := s.client.ListFiles(s.bucket, strings.TrimSuffix(dir, "/"), storage_go.FileSearchOptions{
		Limit: 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	for _, file := range files {
		if file.Name != name {
			continue
		}
		info := &ObjectInfo{Key: key}
		if meta, ok := file.Metadata.(map[string]interface{}); ok {
			if size, ok := meta["size"].(float64); ok {
				info.Size = int64(size)
			}
			if mime, ok := meta["mimetype"].(string); ok {
				info.ContentType = mime
			}
		}
		return info, nil
	}
	return nil, ErrObjectNotFound
}

func (s *SupabaseStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	resp, err := s.client.CreateSignedUrl(s.bucket, key, int(ttl.Seconds()))
	if err != nil {
		return "", fmt.Errorf("failed to create signed url for %s: %w", key, err)
	}
	if strings.HasPrefix(resp.SignedURL, "http") {
		return resp.SignedURL, nil
	}
	return s.baseURL + "/storage/v1" + resp.SignedURL, nil
}
