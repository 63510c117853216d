package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"imgus-backend/internal/database"
	"imgus-backend/internal/fal"
	"imgus-backend/internal/models"
	"imgus-backend/internal/storage"
)

const (
	defaultNumImages    = 1
	defaultOutputFormat = "jpeg"
	galleryLimit        = 24
)

var allowedUploadTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

type SubmitInput struct {
	Prompt        string
	InputImageIDs []uuid.UUID
	NumImages     int
	OutputFormat  string
}

func (in *SubmitInput) normalize() error {
	in.Prompt = strings.TrimSpace(in.Prompt)
	if in.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	if n := len(in.InputImageIDs); n < 1 || n > 4 {
		return fmt.Errorf("%w: between 1 and 4 input images are required", ErrInvalidInput)
	}
	if in.NumImages == 0 {
		in.NumImages = defaultNumImages
	}
	if in.NumImages < 1 || in.NumImages > 4 {
		return fmt.Errorf("%w: num_images must be between 1 and 4", ErrInvalidInput)
	}
	switch in.OutputFormat {
	case "":
		in.OutputFormat = defaultOutputFormat
	case "jpeg", "png":
	default:
		return fmt.Errorf("%w: output_format must be jpeg or png", ErrInvalidInput)
	}
	return nil
}

// JobService owns the user-facing job operations.
type JobService struct {
	store        database.Store
	provider     Provider
	objects      storage.ObjectStore
	reconciler   *Reconciler
	audit        *AuditTrail
	webhookURL   string
	signedURLTTL time.Duration
	logger       zerolog.Logger
}

type JobServiceOptions struct {
	WebhookURL   string
	SignedURLTTL time.Duration
}

func NewJobService(store database.Store, provider Provider, objects storage.ObjectStore, reconciler *Reconciler, audit *AuditTrail, opts JobServiceOptions, logger zerolog.Logger) *JobService {
	return &JobService{
		store:        store,
		provider:     provider,
		objects:      objects,
		reconciler:   reconciler,
		audit:        audit,
		webhookURL:   opts.WebhookURL,
		signedURLTTL: opts.SignedURLTTL,
		logger:       logger.With().Str("component", "jobs").Logger(),
	}
}

// Submit creates a job and enqueues it with the provider. With no webhook
// URL configured, completion is picked up by polling.
func (s *JobService) Submit(ctx context.Context, userID string, in SubmitInput) (*models.Job, error) {
	job, input, err := s.prepare(ctx, userID, in)
	if err != nil {
		return nil, err
	}

	requestID, err := s.provider.Submit(ctx, input, s.webhookURL)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("provider submit failed")
		if _, ferr := s.reconciler.fail(ctx, job, models.CodeSubmitError, err.Error(), "submit"); ferr != nil {
			s.logger.Error().Err(ferr).Str("job_id", job.ID.String()).Msg("failed to mark job failed")
		}
		return nil, &UpstreamError{JobID: job.ID, Code: models.CodeSubmitError, Err: err}
	}

	if err := s.store.MarkRunning(ctx, job.ID, requestID); err != nil {
		// Without the request id no webhook or poll can find the job again.
		msg := fmt.Sprintf("failed to record request %s: %v", requestID, err)
		if _, ferr := s.reconciler.fail(context.WithoutCancel(ctx), job, models.CodeSubmitError, msg, "submit"); ferr != nil {
			s.logger.Error().Err(ferr).Str("job_id", job.ID.String()).Msg("failed to mark job failed")
		}
		return nil, fmt.Errorf("failed to mark job running: %w", err)
	}
	s.logger.Info().Str("job_id", job.ID.String()).Str("request_id", requestID).Str("user_id", userID).Msg("job submitted")

	return s.store.GetJobByID(ctx, job.ID)
}

// RunQuick runs the model synchronously and ingests the result inline.
func (s *JobService) RunQuick(ctx context.Context, userID string, in SubmitInput) (*Outcome, error) {
	job, input, err := s.prepare(ctx, userID, in)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkRunning(ctx, job.ID, ""); err != nil {
		return nil, fmt.Errorf("failed to mark job running: %w", err)
	}

	result, err := s.provider.Run(ctx, input)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("provider run failed")
		if _, ferr := s.reconciler.fail(ctx, job, models.CodeSubscribeError, err.Error(), SourceQuick); ferr != nil {
			s.logger.Error().Err(ferr).Str("job_id", job.ID.String()).Msg("failed to mark job failed")
		}
		return nil, &UpstreamError{JobID: job.ID, Code: models.CodeSubscribeError, Err: err}
	}

	out, err := s.reconciler.Ingest(ctx, job, result.Artifacts, SourceQuick)
	if err != nil {
		return nil, err
	}
	if out.Job.Status == models.JobStatusFailed {
		return nil, &UpstreamError{
			JobID: job.ID,
			Code:  out.Job.ErrorCode.String,
			Err:   errors.New(out.Job.ErrorMessage.String),
		}
	}
	return out, nil
}

func (s *JobService) prepare(ctx context.Context, userID string, in SubmitInput) (*models.Job, fal.Input, error) {
	if err := in.normalize(); err != nil {
		return nil, fal.Input{}, err
	}

	images, err := s.store.GetInputImages(ctx, userID, in.InputImageIDs)
	if err != nil {
		return nil, fal.Input{}, fmt.Errorf("failed to load input images: %w", err)
	}
	byID := make(map[uuid.UUID]models.Image, len(images))
	for _, img := range images {
		byID[img.ID] = img
	}

	urls := make([]string, 0, len(in.InputImageIDs))
	for _, id := range in.InputImageIDs {
		img, ok := byID[id]
		if !ok {
			return nil, fal.Input{}, fmt.Errorf("%w: %s", ErrInputNotFound, id)
		}
		url, err := s.objects.PresignGet(ctx, img.StorageKey, s.signedURLTTL)
		if err != nil {
			return nil, fal.Input{}, fmt.Errorf("failed to sign input %s: %w", id, err)
		}
		urls = append(urls, url)
	}

	job, err := s.store.CreateJob(ctx, userID, in.Prompt)
	if err != nil {
		return nil, fal.Input{}, fmt.Errorf("failed to create job: %w", err)
	}
	if err := s.store.LinkInputs(ctx, job.ID, in.InputImageIDs); err != nil {
		return nil, fal.Input{}, fmt.Errorf("failed to link inputs: %w", err)
	}
	s.audit.Record(ctx, job.ID, models.EventSubmitted, map[string]interface{}{
		"inputs":       len(in.InputImageIDs),
		"numImages":    in.NumImages,
		"outputFormat": in.OutputFormat,
	})

	return job, fal.Input{
		Prompt:       in.Prompt,
		ImageURLs:    urls,
		NumImages:    in.NumImages,
		OutputFormat: in.OutputFormat,
	}, nil
}

// Get returns the caller's job after one reconciliation pass.
func (s *JobService) Get(ctx context.Context, userID string, jobID uuid.UUID) (*Outcome, error) {
	job, err := s.store.GetJob(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Poll(ctx, job), nil
}

// Response renders an outcome with freshly signed output URLs. Outputs that
// cannot be signed are left out.
func (s *JobService) Response(ctx context.Context, out *Outcome) models.JobResponse {
	resp := models.JobResponse{
		JobID:   out.Job.ID.String(),
		Status:  out.Job.Status,
		Outputs: make([]models.OutputRef, 0, len(out.Outputs)),
	}
	for _, o := range out.Outputs {
		url, err := s.objects.PresignGet(ctx, o.Image.StorageKey, s.signedURLTTL)
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", out.Job.ID.String()).Str("storage_key", o.Image.StorageKey).Msg("failed to sign output")
			continue
		}
		resp.Outputs = append(resp.Outputs, models.OutputRef{ID: o.Image.ID.String(), URL: url})
	}
	if out.Job.Status == models.JobStatusFailed && out.Job.ErrorCode.Valid {
		resp.ErrorCode = out.Job.ErrorCode.String
		resp.Error = out.Job.ErrorMessage.String
		if resp.Error == "" {
			resp.Error = resp.ErrorCode
		}
	}
	return resp
}

func (s *JobService) Events(ctx context.Context, userID string, jobID uuid.UUID) ([]models.JobEvent, error) {
	if _, err := s.store.GetJob(ctx, jobID, userID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, jobID)
}

// CommitUpload registers an uploaded object as one of the caller's inputs.
func (s *JobService) CommitUpload(ctx context.Context, userID, key string) (*models.Image, error) {
	if !storage.OwnsUploadKey(key, userID) {
		return nil, ErrForbiddenKey
	}

	info, err := s.objects.Head(ctx, key)
	if err != nil {
		return nil, err
	}
	mime := strings.ToLower(strings.TrimSpace(strings.Split(info.ContentType, ";")[0]))
	if !allowedUploadTypes[mime] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, info.ContentType)
	}

	img := &models.Image{
		ID:         uuid.New(),
		UserID:     userID,
		Kind:       models.ImageKindInput,
		StorageKey: key,
		SizeBytes:  info.Size,
		MimeType:   mime,
	}
	if err := s.store.CreateImage(ctx, img); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", userID).Str("storage_key", key).Msg("upload committed")
	return img, nil
}

// Gallery lists the caller's most recent outputs with signed URLs.
func (s *JobService) Gallery(ctx context.Context, userID string) ([]models.GalleryItem, error) {
	images, err := s.store.ListRecentOutputs(ctx, userID, galleryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list outputs: %w", err)
	}

	items := make([]models.GalleryItem, 0, len(images))
	for _, img := range images {
		url, err := s.objects.PresignGet(ctx, img.StorageKey, s.signedURLTTL)
		if err != nil {
			s.logger.Error().Err(err).Str("storage_key", img.StorageKey).Msg("failed to sign gallery item")
			continue
		}
		items = append(items, models.GalleryItem{
			ID:        img.ID.String(),
			URL:       url,
			CreatedAt: img.CreatedAt,
			Size:      img.SizeBytes,
		})
	}
	return items, nil
}
