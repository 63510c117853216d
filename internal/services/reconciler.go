package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"imgus-backend/internal/database"
	"imgus-backend/internal/fal"
	"imgus-backend/internal/models"
)

const (
	SourcePoll    = "poll"
	SourceWebhook = "webhook"
	SourceQuick   = "quick"
)

// Provider is the subset of the fal client the job services drive.
type Provider interface {
	Submit(ctx context.Context, input fal.Input, webhookURL string) (string, error)
	Status(ctx context.Context, requestID string) (fal.QueueStatus, error)
	Result(ctx context.Context, requestID string) (*fal.Result, error)
	Run(ctx context.Context, input fal.Input) (*fal.Result, error)
}

// Outcome is the job as it stands after a reconciliation step. Outputs is
// populated only for succeeded jobs.
type Outcome struct {
	Job     *models.Job
	Outputs []models.Output
}

// Reconciler converges the poll, webhook and quick paths on one terminal
// result per job. Ingestion runs only under the job's ingestion lease, and
// the (job, role, ordinal) uniqueness rule catches any writer that slips past.
type Reconciler struct {
	store        database.Store
	provider     Provider
	materializer *Materializer
	audit        *AuditTrail
	leaseTTL     time.Duration
	logger       zerolog.Logger
}

func NewReconciler(store database.Store, provider Provider, materializer *Materializer, audit *AuditTrail, leaseTTL time.Duration, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:        store,
		provider:     provider,
		materializer: materializer,
		audit:        audit,
		leaseTTL:     leaseTTL,
		logger:       logger.With().Str("component", "reconciler").Logger(),
	}
}

// Poll advances job by asking the provider. It never returns an error:
// anything that goes wrong is reported as a failed job. The work is not
// bound to ctx's cancellation; the provider timeout, the download timeout
// and the ingestion lease bound it instead.
func (r *Reconciler) Poll(ctx context.Context, job *models.Job) *Outcome {
	ctx = context.WithoutCancel(ctx)
	out, err := r.poll(ctx, job)
	if err == nil {
		return out
	}

	r.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("poll reconciliation failed")
	out, ferr := r.fail(ctx, job, models.CodePollError, err.Error(), SourcePoll)
	if ferr == nil {
		return out
	}

	r.logger.Error().Err(ferr).Str("job_id", job.ID.String()).Msg("failed to record poll failure")
	failed := *job
	failed.Status = models.JobStatusFailed
	failed.ErrorCode.String, failed.ErrorCode.Valid = models.CodePollError, true
	failed.ErrorMessage.String, failed.ErrorMessage.Valid = err.Error(), true
	return &Outcome{Job: &failed}
}

func (r *Reconciler) poll(ctx context.Context, job *models.Job) (*Outcome, error) {
	if out, done, err := r.guard(ctx, job); err != nil || done {
		return out, err
	}

	if !job.ProviderRequestID.Valid {
		return &Outcome{Job: job}, nil
	}
	requestID := job.ProviderRequestID.String

	status, err := r.provider.Status(ctx, requestID)
	if err != nil {
		return nil, err
	}

	switch status.(type) {
	case fal.Queued, fal.InProgress:
		if job.Status != models.JobStatusRunning {
			if err := r.store.MarkRunning(ctx, job.ID, ""); err != nil {
				return nil, err
			}
		}
		return r.snapshot(ctx, job.ID)
	case fal.Completed:
		result, err := r.provider.Result(ctx, requestID)
		if err != nil {
			return nil, err
		}
		out, _, err := r.ingest(ctx, job, result.Artifacts, SourcePoll)
		return out, err
	}
	return nil, fmt.Errorf("unhandled queue status %T", status)
}

// Deliver applies a verified webhook delivery to job. Like Poll, it keeps
// going if ctx is canceled.
func (r *Reconciler) Deliver(ctx context.Context, job *models.Job, payload *fal.WebhookPayload, meta map[string]interface{}) (*Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	received := map[string]interface{}{
		"requestId": payload.RequestID,
		"status":    payload.Status,
	}
	for k, v := range meta {
		received[k] = v
	}
	r.audit.Record(ctx, job.ID, models.EventWebhookReceived, received)

	out, done, err := r.guard(ctx, job)
	if err != nil {
		return nil, err
	}
	if done {
		r.recordDuplicate(ctx, out)
		return out, nil
	}

	if !payload.Succeeded() {
		code := payload.ErrorCode()
		if code == "" {
			code = models.CodeProviderError
		}
		return r.fail(ctx, job, code, payload.ErrorMessage(), SourceWebhook)
	}

	artifacts, err := payload.Artifacts()
	if err != nil {
		return r.fail(ctx, job, models.CodeIngestError, err.Error(), SourceWebhook)
	}
	out, claimed, err := r.ingest(ctx, job, artifacts, SourceWebhook)
	if err != nil {
		return nil, err
	}
	if !claimed {
		r.recordDuplicate(ctx, out)
	}
	return out, nil
}

func (r *Reconciler) recordDuplicate(ctx context.Context, out *Outcome) {
	switch out.Job.Status {
	case models.JobStatusSucceeded:
		r.audit.Record(ctx, out.Job.ID, models.EventSuccess, map[string]interface{}{
			"images":    len(out.Outputs),
			"duplicate": true,
		})
	case models.JobStatusFailed, models.JobStatusCanceled:
		r.audit.Record(ctx, out.Job.ID, models.EventError, map[string]interface{}{
			"reason":    out.Job.ErrorCode.String,
			"duplicate": true,
		})
	default:
		r.audit.Record(ctx, out.Job.ID, models.EventError, map[string]interface{}{
			"reason":    models.CodeIngestionInProgress,
			"duplicate": true,
		})
	}
}

// FailUnhandled records an unexpected webhook fault against the job owning
// requestID, if there is one.
func (r *Reconciler) FailUnhandled(ctx context.Context, requestID string, cause error) {
	if requestID == "" {
		return
	}
	job, err := r.store.GetJobByRequestID(ctx, requestID)
	if err != nil {
		r.logger.Error().Err(err).Str("request_id", requestID).Msg("cannot resolve job for unhandled webhook error")
		return
	}

	if _, err := r.store.MarkTerminal(ctx, job.ID, models.JobStatusFailed, models.CodeWebhookUnhandled, cause.Error()); err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to mark job failed")
	}
	r.audit.Record(ctx, job.ID, models.EventUnhandledError, map[string]interface{}{"message": cause.Error()})
	r.audit.Record(ctx, job.ID, models.EventError, map[string]interface{}{
		"reason":  "unhandled_error",
		"message": cause.Error(),
	})
}

// guard short-circuits jobs that need no provider contact or ingestion:
// terminal jobs, jobs another caller is ingesting, and jobs whose outputs
// are all recorded but whose success was never stamped.
func (r *Reconciler) guard(ctx context.Context, job *models.Job) (*Outcome, bool, error) {
	if job.Status.IsTerminal() {
		out, err := r.withOutputs(ctx, job)
		return out, true, err
	}
	if job.Ingesting {
		return &Outcome{Job: job}, true, nil
	}

	outputs, err := r.store.ListOutputs(ctx, job.ID)
	if err != nil {
		return nil, false, err
	}
	// An expired lease with outputs is an interrupted batch; let it resume.
	if len(outputs) == 0 || job.IngestLeaseUntil.Valid {
		return nil, false, nil
	}

	// job may predate a claim made since it was read, so the flip is
	// conditional on the stored lease. Losing it means another caller is
	// ingesting or has finished.
	if _, err := r.store.MarkSucceededIfUnleased(ctx, job.ID); err != nil {
		return nil, false, err
	}
	out, err := r.snapshot(ctx, job.ID)
	return out, true, err
}

// Ingest materializes artifacts for job under the ingestion lease and
// finalizes it. If another caller holds the lease the current state is
// returned untouched.
func (r *Reconciler) Ingest(ctx context.Context, job *models.Job, artifacts []fal.Artifact, source string) (*Outcome, error) {
	out, _, err := r.ingest(context.WithoutCancel(ctx), job, artifacts, source)
	return out, err
}

func (r *Reconciler) ingest(ctx context.Context, job *models.Job, artifacts []fal.Artifact, source string) (*Outcome, bool, error) {
	claimed, err := r.store.ClaimIngestion(ctx, job.ID, r.leaseTTL)
	if err != nil {
		return nil, false, err
	}
	if !claimed {
		r.logger.Debug().Str("job_id", job.ID.String()).Str("source", source).Msg("ingestion already claimed")
		out, err := r.snapshot(ctx, job.ID)
		return out, false, err
	}

	out, err := r.materialize(ctx, job, artifacts, source)
	return out, true, err
}

func (r *Reconciler) materialize(ctx context.Context, job *models.Job, artifacts []fal.Artifact, source string) (*Outcome, error) {
	if len(artifacts) == 0 {
		return r.fail(ctx, job, models.CodeNoImages, "FAL result has no images", source)
	}

	saved, err := r.materializer.Materialize(ctx, job, artifacts, func(s SavedOutput) {
		r.audit.Record(ctx, job.ID, models.EventImageSaved, map[string]interface{}{
			"index":  s.Ordinal,
			"s3Key":  s.Image.StorageKey,
			"size":   s.Image.SizeBytes,
			"mime":   s.Image.MimeType,
			"source": source,
		})
	})
	if err != nil {
		return r.fail(ctx, job, ErrorCode(err), err.Error(), source)
	}

	if _, err := r.store.MarkTerminal(ctx, job.ID, models.JobStatusSucceeded, "", ""); err != nil {
		return nil, err
	}
	r.audit.Record(ctx, job.ID, models.EventSuccess, map[string]interface{}{
		"images": len(saved),
		"source": source,
	})
	r.logger.Info().Str("job_id", job.ID.String()).Str("source", source).Int("images", len(saved)).Msg("job succeeded")

	return r.snapshot(ctx, job.ID)
}

func (r *Reconciler) fail(ctx context.Context, job *models.Job, code, message, source string) (*Outcome, error) {
	changed, err := r.store.MarkTerminal(ctx, job.ID, models.JobStatusFailed, code, message)
	if err != nil {
		return nil, err
	}
	if changed {
		r.audit.Record(ctx, job.ID, models.EventError, map[string]interface{}{
			"reason":  code,
			"message": message,
			"source":  source,
		})
		r.logger.Warn().Str("job_id", job.ID.String()).Str("source", source).Str("code", code).Str("message", message).Msg("job failed")
	}
	return r.snapshot(ctx, job.ID)
}

func (r *Reconciler) snapshot(ctx context.Context, jobID uuid.UUID) (*Outcome, error) {
	job, err := r.store.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return r.withOutputs(ctx, job)
}

func (r *Reconciler) withOutputs(ctx context.Context, job *models.Job) (*Outcome, error) {
	out := &Outcome{Job: job}
	if job.Status != models.JobStatusSucceeded {
		return out, nil
	}
	outputs, err := r.store.ListOutputs(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	out.Outputs = outputs
	return out, nil
}
