package services_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"imgus-backend/internal/database"
	"imgus-backend/internal/fal"
	"imgus-backend/internal/models"
	"imgus-backend/internal/services"
	"imgus-backend/internal/storage"
)

type fakeProvider struct {
	mu         sync.Mutex
	submitErr  error
	runErr     error
	statusErr  error
	status     fal.QueueStatus
	result     *fal.Result
	webhookURL string
	submits    int
	statuses   int
	results    int
	runs       int
}

func (p *fakeProvider) Submit(ctx context.Context, input fal.Input, webhookURL string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits++
	p.webhookURL = webhookURL
	if p.submitErr != nil {
		return "", p.submitErr
	}
	return "req-" + uuid.NewString(), nil
}

func (p *fakeProvider) Status(ctx context.Context, requestID string) (fal.QueueStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses++
	if p.statusErr != nil {
		return nil, p.statusErr
	}
	if p.status == nil {
		return fal.InProgress{}, nil
	}
	return p.status, nil
}

func (p *fakeProvider) Result(ctx context.Context, requestID string) (*fal.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results++
	return p.result, nil
}

func (p *fakeProvider) Run(ctx context.Context, input fal.Input) (*fal.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs++
	if p.runErr != nil {
		return nil, p.runErr
	}
	return p.result, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits + p.statuses + p.results + p.runs
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string]storage.ObjectInfo
	putErr  error
	puts    int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string]storage.ObjectInfo)}
}

func (o *fakeObjects) Put(ctx context.Context, key string, data []byte, contentType string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.puts++
	if o.putErr != nil {
		return o.putErr
	}
	o.objects[key] = storage.ObjectInfo{Key: key, Size: int64(len(data)), ContentType: contentType}
	return nil
}

func (o *fakeObjects) Head(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	info, ok := o.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &info, nil
}

func (o *fakeObjects) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://signed.test/" + key, nil
}

func (o *fakeObjects) putCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.puts
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// artifactServer serves PNGs at any path except /missing*, and counts hits
// per path. A request to /held signals held, waits for release to close and
// then answers 404.
type artifactServer struct {
	*httptest.Server
	mu      sync.Mutex
	hits    map[string]int
	held    chan struct{}
	release chan struct{}
}

func newArtifactServer(t *testing.T) *artifactServer {
	t.Helper()
	body := pngBytes(t, 4, 3)
	s := &artifactServer{
		hits:    make(map[string]int),
		held:    make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		if r.URL.Path == "/held" {
			s.held <- struct{}{}
			<-s.release
			http.NotFound(w, r)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *artifactServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *artifactServer) artifacts(paths ...string) []fal.Artifact {
	out := make([]fal.Artifact, len(paths))
	for i, p := range paths {
		out[i] = fal.Artifact{URL: s.URL + p}
	}
	return out
}

type harness struct {
	store      *database.MemoryStore
	provider   *fakeProvider
	objects    *fakeObjects
	reconciler *services.Reconciler
	jobs       *services.JobService
	files      *artifactServer
	now        time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		provider: &fakeProvider{},
		objects:  newFakeObjects(),
		files:    newArtifactServer(t),
		now:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	h.store = database.NewMemoryStore(database.WithClock(func() time.Time { return h.now }))

	logger := zerolog.Nop()
	audit := services.NewAuditTrail(h.store, logger)
	materializer := services.NewMaterializer(h.store, h.objects, "dev", 5*time.Second, logger)
	h.reconciler = services.NewReconciler(h.store, h.provider, materializer, audit, time.Minute, logger)
	h.jobs = services.NewJobService(h.store, h.provider, h.objects, h.reconciler, audit, services.JobServiceOptions{
		WebhookURL:   "https://api.test/api/v1/webhooks/fal",
		SignedURLTTL: 10 * time.Minute,
	}, logger)
	return h
}

func (h *harness) inputImage(t *testing.T, userID string) uuid.UUID {
	t.Helper()
	img := &models.Image{
		ID:         uuid.New(),
		UserID:     userID,
		Kind:       models.ImageKindInput,
		StorageKey: "dev/users/" + userID + "/uploads/2026/03/" + uuid.NewString() + ".png",
		SizeBytes:  100,
		MimeType:   "image/png",
	}
	require.NoError(t, h.store.CreateImage(context.Background(), img))
	return img.ID
}

// runningJob creates a submitted job for userID with a provider request id.
func (h *harness) runningJob(t *testing.T, userID string) *models.Job {
	t.Helper()
	ctx := context.Background()
	job, err := h.store.CreateJob(ctx, userID, "make it pop")
	require.NoError(t, err)
	require.NoError(t, h.store.MarkRunning(ctx, job.ID, "req-"+job.ID.String()))
	job, err = h.store.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	return job
}

func (h *harness) reload(t *testing.T, job *models.Job) *models.Job {
	t.Helper()
	got, err := h.store.GetJobByID(context.Background(), job.ID)
	require.NoError(t, err)
	return got
}

func eventTypes(t *testing.T, store database.Store, jobID uuid.UUID) []models.EventType {
	t.Helper()
	events, err := store.ListEvents(context.Background(), jobID)
	require.NoError(t, err)
	types := make([]models.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}
