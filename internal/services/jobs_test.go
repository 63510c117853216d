package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"imgus-backend/internal/database"
	"imgus-backend/internal/fal"
	"imgus-backend/internal/models"
	"imgus-backend/internal/services"
	"imgus-backend/internal/storage"
)

func TestJobService_SubmitEnqueuesWithWebhook(t *testing.T) {
	h := newHarness(t)
	input := h.inputImage(t, "user-1")

	job, err := h.jobs.Submit(context.Background(), "user-1", services.SubmitInput{
		Prompt:        "  add a sunset  ",
		InputImageIDs: []uuid.UUID{input},
	})
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, "add a sunset", job.Prompt)
	assert.True(t, job.ProviderRequestID.Valid)
	assert.Equal(t, "https://api.test/api/v1/webhooks/fal", h.provider.webhookURL)
	assert.Equal(t, []models.EventType{models.EventSubmitted}, eventTypes(t, h.store, job.ID))

	byReq, err := h.store.GetJobByRequestID(context.Background(), job.ProviderRequestID.String)
	require.NoError(t, err)
	assert.Equal(t, job.ID, byReq.ID)
}

func TestJobService_SubmitValidation(t *testing.T) {
	h := newHarness(t)
	input := h.inputImage(t, "user-1")

	tests := []struct {
		name string
		in   services.SubmitInput
	}{
		{"blank prompt", services.SubmitInput{Prompt: "   ", InputImageIDs: []uuid.UUID{input}}},
		{"no inputs", services.SubmitInput{Prompt: "p"}},
		{"too many inputs", services.SubmitInput{Prompt: "p", InputImageIDs: make([]uuid.UUID, 5)}},
		{"too many outputs", services.SubmitInput{Prompt: "p", InputImageIDs: []uuid.UUID{input}, NumImages: 5}},
		{"bad format", services.SubmitInput{Prompt: "p", InputImageIDs: []uuid.UUID{input}, OutputFormat: "gif"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.jobs.Submit(context.Background(), "user-1", tt.in)
			assert.ErrorIs(t, err, services.ErrInvalidInput)
		})
	}
	assert.Zero(t, h.provider.calls())
}

func TestJobService_SubmitRejectsForeignInput(t *testing.T) {
	h := newHarness(t)
	theirs := h.inputImage(t, "someone-else")

	_, err := h.jobs.Submit(context.Background(), "user-1", services.SubmitInput{
		Prompt:        "p",
		InputImageIDs: []uuid.UUID{theirs},
	})
	assert.ErrorIs(t, err, services.ErrInputNotFound)
	assert.Zero(t, h.provider.calls())
}

func TestJobService_SubmitProviderFailure(t *testing.T) {
	h := newHarness(t)
	h.provider.submitErr = errors.New("queue unavailable")
	input := h.inputImage(t, "user-1")

	_, err := h.jobs.Submit(context.Background(), "user-1", services.SubmitInput{
		Prompt:        "p",
		InputImageIDs: []uuid.UUID{input},
	})

	var upstream *services.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, models.CodeSubmitError, upstream.Code)

	job := h.reload(t, &models.Job{ID: upstream.JobID})
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, models.CodeSubmitError, job.ErrorCode.String)
	assert.True(t, job.FinishedAt.Valid)
}

// runningFailsStore loses the write that records the provider request id.
type runningFailsStore struct {
	*database.MemoryStore
	jobID uuid.UUID
}

func (s *runningFailsStore) MarkRunning(ctx context.Context, jobID uuid.UUID, requestID string) error {
	s.jobID = jobID
	return errors.New("connection refused")
}

func TestJobService_SubmitFailsJobWhenRequestIDIsLost(t *testing.T) {
	h := newHarness(t)
	input := h.inputImage(t, "user-1")
	store := &runningFailsStore{MemoryStore: h.store}
	jobs := services.NewJobService(store, h.provider, h.objects, h.reconciler, services.NewAuditTrail(h.store, zerolog.Nop()), services.JobServiceOptions{}, zerolog.Nop())

	_, err := jobs.Submit(context.Background(), "user-1", services.SubmitInput{Prompt: "p", InputImageIDs: []uuid.UUID{input}})
	require.Error(t, err)
	assert.Equal(t, 1, h.provider.submits)

	job := h.reload(t, &models.Job{ID: store.jobID})
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, models.CodeSubmitError, job.ErrorCode.String)
	assert.Contains(t, job.ErrorMessage.String, "connection refused")
	assert.Equal(t, []models.EventType{models.EventSubmitted, models.EventError}, eventTypes(t, h.store, job.ID))
}

func TestJobService_RunQuick(t *testing.T) {
	h := newHarness(t)
	input := h.inputImage(t, "user-1")
	h.provider.result = &fal.Result{Artifacts: h.files.artifacts("/a", "/b")}

	out, err := h.jobs.RunQuick(context.Background(), "user-1", services.SubmitInput{
		Prompt:        "p",
		InputImageIDs: []uuid.UUID{input},
		NumImages:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, out.Job.Status)
	assert.Len(t, out.Outputs, 2)

	resp := h.jobs.Response(context.Background(), out)
	require.Len(t, resp.Outputs, 2)
	assert.Equal(t, "https://signed.test/"+out.Outputs[0].Image.StorageKey, resp.Outputs[0].URL)
	assert.Empty(t, resp.Error)
}

func TestJobService_RunQuickFailures(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		h := newHarness(t)
		h.provider.runErr = errors.New("timeout")
		input := h.inputImage(t, "user-1")

		_, err := h.jobs.RunQuick(context.Background(), "user-1", services.SubmitInput{Prompt: "p", InputImageIDs: []uuid.UUID{input}})

		var upstream *services.UpstreamError
		require.True(t, errors.As(err, &upstream))
		assert.Equal(t, models.CodeSubscribeError, upstream.Code)
	})

	t.Run("no images", func(t *testing.T) {
		h := newHarness(t)
		h.provider.result = &fal.Result{}
		input := h.inputImage(t, "user-1")

		_, err := h.jobs.RunQuick(context.Background(), "user-1", services.SubmitInput{Prompt: "p", InputImageIDs: []uuid.UUID{input}})

		var upstream *services.UpstreamError
		require.True(t, errors.As(err, &upstream))
		assert.Equal(t, models.CodeNoImages, upstream.Code)
		assert.Equal(t, models.JobStatusFailed, h.reload(t, &models.Job{ID: upstream.JobID}).Status)
	})
}

func TestJobService_GetIsOwnershipScoped(t *testing.T) {
	h := newHarness(t)
	job := h.runningJob(t, "owner")

	_, err := h.jobs.Get(context.Background(), "intruder", job.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Zero(t, h.provider.calls())

	out, err := h.jobs.Get(context.Background(), "owner", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, out.Job.Status)
}

func TestJobService_ResponseCarriesError(t *testing.T) {
	h := newHarness(t)
	job := h.runningJob(t, "user-1")
	_, err := h.store.MarkTerminal(context.Background(), job.ID, models.JobStatusFailed, models.CodeNoImages, "FAL result has no images")
	require.NoError(t, err)

	out, err := h.jobs.Get(context.Background(), "user-1", job.ID)
	require.NoError(t, err)

	resp := h.jobs.Response(context.Background(), out)
	assert.Equal(t, job.ID.String(), resp.JobID)
	assert.Equal(t, models.JobStatusFailed, resp.Status)
	assert.Empty(t, resp.Outputs)
	assert.Equal(t, "FAL result has no images", resp.Error)
	assert.Equal(t, models.CodeNoImages, resp.ErrorCode)

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jobId":"`+job.ID.String()+`","status":"failed","outputs":[],"error":"FAL result has no images","errorCode":"no_images"}`, string(body))
}

func TestJobService_Events(t *testing.T) {
	h := newHarness(t)
	input := h.inputImage(t, "user-1")
	job, err := h.jobs.Submit(context.Background(), "user-1", services.SubmitInput{Prompt: "p", InputImageIDs: []uuid.UUID{input}})
	require.NoError(t, err)

	events, err := h.jobs.Events(context.Background(), "user-1", job.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"inputs":1,"numImages":1,"outputFormat":"jpeg"}`, string(events[0].Payload))

	_, err = h.jobs.Events(context.Background(), "user-2", job.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestJobService_CommitUpload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	key := storage.UploadKey("dev", "user-1", "png", time.Now())
	require.NoError(t, h.objects.Put(ctx, key, []byte("data"), "image/png"))

	img, err := h.jobs.CommitUpload(ctx, "user-1", key)
	require.NoError(t, err)
	assert.Equal(t, models.ImageKindInput, img.Kind)
	assert.Equal(t, int64(4), img.SizeBytes)

	inputs, err := h.store.GetInputImages(ctx, "user-1", []uuid.UUID{img.ID})
	require.NoError(t, err)
	assert.Len(t, inputs, 1)

	_, err = h.jobs.CommitUpload(ctx, "user-1", key)
	assert.ErrorIs(t, err, models.ErrDuplicate)
}

func TestJobService_CommitUploadRejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	foreign := storage.UploadKey("dev", "user-2", "png", time.Now())
	_, err := h.jobs.CommitUpload(ctx, "user-1", foreign)
	assert.ErrorIs(t, err, services.ErrForbiddenKey)

	_, err = h.jobs.CommitUpload(ctx, "user-1", "dev/users/user-2/../user-1/uploads/x.png")
	assert.ErrorIs(t, err, services.ErrForbiddenKey)

	missing := storage.UploadKey("dev", "user-1", "png", time.Now())
	_, err = h.jobs.CommitUpload(ctx, "user-1", missing)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	gif := storage.UploadKey("dev", "user-1", "gif", time.Now())
	require.NoError(t, h.objects.Put(ctx, gif, []byte("GIF89a"), "image/gif"))
	_, err = h.jobs.CommitUpload(ctx, "user-1", gif)
	assert.ErrorIs(t, err, services.ErrUnsupportedType)
}

func TestJobService_Gallery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	older := h.runningJob(t, "user-1")
	_, err := h.reconciler.Ingest(ctx, older, h.files.artifacts("/old"), services.SourcePoll)
	require.NoError(t, err)

	h.now = h.now.Add(time.Minute)
	newer := h.runningJob(t, "user-1")
	_, err = h.reconciler.Ingest(ctx, newer, h.files.artifacts("/new"), services.SourcePoll)
	require.NoError(t, err)

	other := h.runningJob(t, "user-2")
	_, err = h.reconciler.Ingest(ctx, other, h.files.artifacts("/x"), services.SourcePoll)
	require.NoError(t, err)

	items, err := h.jobs.Gallery(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Contains(t, items[0].URL, newer.ID.String())
	assert.Contains(t, items[1].URL, older.ID.String())
	assert.True(t, items[0].CreatedAt.After(items[1].CreatedAt))
}
