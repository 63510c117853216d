package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"imgus-backend/internal/database"
	"imgus-backend/internal/fal"
	"imgus-backend/internal/models"
	"imgus-backend/internal/storage"
)

const maxArtifactBytes = 64 << 20

// SavedOutput is one materialized ordinal. Reused is set when the row was
// already present, written by an earlier or concurrent ingestion.
type SavedOutput struct {
	Ordinal int
	Image   models.Image
	Reused  bool
}

// Materializer copies provider artifacts into object storage and records
// them as output images of a job.
type Materializer struct {
	store      database.Store
	objects    storage.ObjectStore
	httpClient *http.Client
	timeout    time.Duration
	keyPrefix  string
	logger     zerolog.Logger
}

func NewMaterializer(store database.Store, objects storage.ObjectStore, keyPrefix string, timeout time.Duration, logger zerolog.Logger) *Materializer {
	return &Materializer{
		store:      store,
		objects:    objects,
		httpClient: &http.Client{},
		timeout:    timeout,
		keyPrefix:  keyPrefix,
		logger:     logger.With().Str("component", "materializer").Logger(),
	}
}

// Materialize ingests artifacts in order, one at a time. Ordinals already
// linked to the job are kept as they are, so a rerun resumes at the first
// missing ordinal. The first failure aborts the batch; rows written before
// it stay in place.
func (m *Materializer) Materialize(ctx context.Context, job *models.Job, artifacts []fal.Artifact, onSaved func(SavedOutput)) ([]SavedOutput, error) {
	existing, err := m.existingOutputs(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	saved := make([]SavedOutput, 0, len(artifacts))
	for i, artifact := range artifacts {
		if img, ok := existing[i]; ok {
			saved = append(saved, SavedOutput{Ordinal: i, Image: img, Reused: true})
			continue
		}

		out, err := m.materializeOne(ctx, job, i, artifact)
		if err != nil {
			m.logger.Warn().Err(err).
				Str("job_id", job.ID.String()).
				Int("ordinal", i).
				Msg("artifact ingestion failed")
			return saved, err
		}

		saved = append(saved, *out)
		if onSaved != nil && !out.Reused {
			onSaved(*out)
		}
	}
	return saved, nil
}

func (m *Materializer) existingOutputs(ctx context.Context, jobID uuid.UUID) (map[int]models.Image, error) {
	outputs, err := m.store.ListOutputs(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing outputs: %w", err)
	}
	byOrdinal := make(map[int]models.Image, len(outputs))
	for _, out := range outputs {
		byOrdinal[out.Ordinal] = out.Image
	}
	return byOrdinal, nil
}

func (m *Materializer) materializeOne(ctx context.Context, job *models.Job, ordinal int, artifact fal.Artifact) (*SavedOutput, error) {
	data, err := m.download(ctx, artifact.URL)
	if err != nil {
		return nil, err
	}

	contentType := resolveContentType(artifact.ContentType, data)
	key := storage.ResultKey(m.keyPrefix, job.UserID, job.ID, ordinal, storage.ExtensionFor(contentType))

	if err := m.objects.Put(ctx, key, data, contentType); err != nil {
		return nil, &StorageError{Key: key, Err: err}
	}

	img := &models.Image{
		ID:         uuid.New(),
		UserID:     job.UserID,
		Kind:       models.ImageKindOutput,
		StorageKey: key,
		SizeBytes:  int64(len(data)),
		MimeType:   contentType,
	}
	img.Width, img.Height = dimensions(artifact, data)

	err = m.store.CreateOutput(ctx, job.ID, ordinal, img)
	if errors.Is(err, models.ErrDuplicate) {
		existing, lookupErr := m.existingOutputs(ctx, job.ID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if prior, ok := existing[ordinal]; ok {
			m.logger.Debug().Str("job_id", job.ID.String()).Int("ordinal", ordinal).Msg("ordinal already ingested")
			return &SavedOutput{Ordinal: ordinal, Image: prior, Reused: true}, nil
		}
		return nil, fmt.Errorf("failed to record output %d: %w", ordinal, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record output %d: %w", ordinal, err)
	}

	m.logger.Info().
		Str("job_id", job.ID.String()).
		Int("ordinal", ordinal).
		Str("storage_key", key).
		Int64("size", img.SizeBytes).
		Msg("output stored")
	return &SavedOutput{Ordinal: ordinal, Image: *img}, nil
}

func (m *Materializer) download(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DownloadError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes+1))
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}
	if len(data) > maxArtifactBytes {
		return nil, &DownloadError{URL: url, Err: fmt.Errorf("artifact exceeds %d bytes", maxArtifactBytes)}
	}
	return data, nil
}

// resolveContentType prefers the declared type, then sniffs the bytes, and
// falls back to JPEG for anything that is not PNG.
func resolveContentType(declared string, data []byte) string {
	if declared != "" {
		return declared
	}
	if mimetype.Detect(data).Is("image/png") {
		return "image/png"
	}
	return "image/jpeg"
}

func dimensions(artifact fal.Artifact, data []byte) (sql.NullInt32, sql.NullInt32) {
	w, h := artifact.Width, artifact.Height
	if w == 0 || h == 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			w, h = cfg.Width, cfg.Height
		}
	}
	if w == 0 || h == 0 {
		return sql.NullInt32{}, sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(w), Valid: true}, sql.NullInt32{Int32: int32(h), Valid: true}
}
