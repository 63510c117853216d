package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"imgus-backend/internal/models"
)

type linkKey struct {
	jobID   uuid.UUID
	role    models.ImageRole
	ordinal int
}

// MemoryStore is a process-local Store enforcing the same uniqueness rules
// as the Postgres schema. It backs development runs without DATABASE_URL
// and the test suites.
type MemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	jobs      map[uuid.UUID]*models.Job
	byRequest map[string]uuid.UUID
	images    map[uuid.UUID]*models.Image
	byKey     map[string]uuid.UUID
	links     map[linkKey]uuid.UUID
	events    []models.JobEvent
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:       time.Now,
		jobs:      make(map[uuid.UUID]*models.Job),
		byRequest: make(map[string]uuid.UUID),
		images:    make(map[uuid.UUID]*models.Image),
		byKey:     make(map[string]uuid.UUID),
		links:     make(map[linkKey]uuid.UUID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) snapshot(job *models.Job) *models.Job {
	cp := *job
	cp.Ingesting = job.IngestLeaseUntil.Valid && job.IngestLeaseUntil.Time.After(s.now())
	return &cp
}

func (s *MemoryStore) CreateJob(ctx context.Context, userID, prompt string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &models.Job{
		ID:        uuid.New(),
		UserID:    userID,
		Prompt:    prompt,
		Status:    models.JobStatusQueued,
		CreatedAt: s.now(),
	}
	s.jobs[job.ID] = job
	return s.snapshot(job), nil
}

func (s *MemoryStore) LinkInputs(ctx context.Context, jobID uuid.UUID, imageIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("failed to link input image: job %s does not exist", jobID)
	}
	for i, id := range imageIDs {
		if _, ok := s.images[id]; !ok {
			return fmt.Errorf("failed to link input image: image %s does not exist", id)
		}
		if _, taken := s.links[linkKey{jobID, models.RoleInput, i}]; taken {
			return models.ErrDuplicate
		}
	}
	for i, id := range imageIDs {
		s.links[linkKey{jobID, models.RoleInput, i}] = id
	}
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID uuid.UUID, userID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.UserID != userID {
		return nil, models.ErrNotFound
	}
	return s.snapshot(job), nil
}

func (s *MemoryStore) GetJobByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return s.snapshot(job), nil
}

func (s *MemoryStore) GetJobByRequestID(ctx context.Context, requestID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byRequest[requestID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return s.snapshot(s.jobs[id]), nil
}

func (s *MemoryStore) MarkRunning(ctx context.Context, jobID uuid.UUID, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return nil
	}
	if requestID != "" && !job.ProviderRequestID.Valid {
		if _, taken := s.byRequest[requestID]; taken {
			return models.ErrDuplicate
		}
		job.ProviderRequestID = sql.NullString{String: requestID, Valid: true}
		s.byRequest[requestID] = jobID
	}
	job.Status = models.JobStatusRunning
	if !job.StartedAt.Valid {
		job.StartedAt = sql.NullTime{Time: s.now(), Valid: true}
	}
	return nil
}

func (s *MemoryStore) MarkTerminal(ctx context.Context, jobID uuid.UUID, status models.JobStatus, code, message string) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return false, nil
	}
	job.Status = status
	job.ErrorCode = sql.NullString{String: code, Valid: code != ""}
	job.ErrorMessage = sql.NullString{String: message, Valid: message != ""}
	job.FinishedAt = sql.NullTime{Time: s.now(), Valid: true}
	job.IngestLeaseUntil = sql.NullTime{}
	return true, nil
}

func (s *MemoryStore) ClaimIngestion(ctx context.Context, jobID uuid.UUID, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return false, nil
	}
	now := s.now()
	if job.IngestLeaseUntil.Valid && !job.IngestLeaseUntil.Time.Before(now) {
		return false, nil
	}
	job.IngestLeaseUntil = sql.NullTime{Time: now.Add(lease), Valid: true}
	return true, nil
}

func (s *MemoryStore) MarkSucceededIfUnleased(ctx context.Context, jobID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status.IsTerminal() || job.IngestLeaseUntil.Valid {
		return false, nil
	}
	job.Status = models.JobStatusSucceeded
	job.ErrorCode = sql.NullString{}
	job.ErrorMessage = sql.NullString{}
	job.FinishedAt = sql.NullTime{Time: s.now(), Valid: true}
	return true, nil
}

func (s *MemoryStore) ListOutputs(ctx context.Context, jobID uuid.UUID) ([]models.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outputs []models.Output
	for key, imageID := range s.links {
		if key.jobID != jobID || key.role != models.RoleOutput {
			continue
		}
		outputs = append(outputs, models.Output{Ordinal: key.ordinal, Image: *s.images[imageID]})
	}
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Ordinal < outputs[j].Ordinal })
	return outputs, nil
}

func (s *MemoryStore) CreateOutput(ctx context.Context, jobID uuid.UUID, ordinal int, img *models.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("failed to link output image: job %s does not exist", jobID)
	}
	key := linkKey{jobID, models.RoleOutput, ordinal}
	if _, taken := s.links[key]; taken {
		return models.ErrDuplicate
	}
	if err := s.insertImageLocked(img); err != nil {
		return err
	}
	s.links[key] = img.ID
	return nil
}

func (s *MemoryStore) insertImageLocked(img *models.Image) error {
	if _, taken := s.images[img.ID]; taken {
		return models.ErrDuplicate
	}
	if _, taken := s.byKey[img.StorageKey]; taken {
		return models.ErrDuplicate
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = s.now()
	}
	cp := *img
	s.images[img.ID] = &cp
	s.byKey[img.StorageKey] = img.ID
	return nil
}

func (s *MemoryStore) CreateImage(ctx context.Context, img *models.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertImageLocked(img)
}

func (s *MemoryStore) GetInputImages(ctx context.Context, userID string, ids []uuid.UUID) ([]models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	images := make([]models.Image, 0, len(ids))
	for _, id := range ids {
		img, ok := s.images[id]
		if !ok || img.UserID != userID || img.Kind != models.ImageKindInput {
			continue
		}
		images = append(images, *img)
	}
	return images, nil
}

func (s *MemoryStore) ListRecentOutputs(ctx context.Context, userID string, limit int) ([]models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var images []models.Image
	for _, img := range s.images {
		if img.UserID == userID && img.Kind == models.ImageKindOutput {
			images = append(images, *img)
		}
	}
	sort.Slice(images, func(i, j int) bool { return images[i].CreatedAt.After(images[j].CreatedAt) })
	if len(images) > limit {
		images = images[:limit]
	}
	return images, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, jobID uuid.UUID, eventType models.EventType, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("failed to append job event: job %s does not exist", jobID)
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	s.events = append(s.events, models.JobEvent{
		ID:        int64(len(s.events) + 1),
		JobID:     jobID,
		Type:      eventType,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: s.now(),
	})
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, jobID uuid.UUID) ([]models.JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []models.JobEvent
	for _, ev := range s.events {
		if ev.JobID == jobID {
			events = append(events, ev)
		}
	}
	return events, nil
}
