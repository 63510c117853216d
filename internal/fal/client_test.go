package fal_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"imgus-backend/internal/fal"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *fal.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return fal.NewClient("test-key", "fal-ai/nano-banana/edit",
		fal.WithQueueURL(server.URL),
		fal.WithRunURL(server.URL+"/run"),
	)
}

func TestClient_SubmitWithWebhook(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fal-ai/nano-banana/edit", r.URL.Path)
		assert.Equal(t, "https://example.com/hook", r.URL.Query().Get("fal_webhook"))
		assert.Equal(t, "Key test-key", r.Header.Get("Authorization"))

		var input fal.Input
		require.NoError(t, json.NewDecoder(r.Body).Decode(&input))
		assert.Equal(t, "remove background", input.Prompt)
		assert.Equal(t, []string{"https://signed/in.png"}, input.ImageURLs)

		w.Write([]byte(`{"request_id":"req-123","status":"IN_QUEUE"}`))
	})

	id, err := client.Submit(t.Context(), fal.Input{
		Prompt:    "remove background",
		ImageURLs: []string{"https://signed/in.png"},
		NumImages: 1,
	}, "https://example.com/hook")

	require.NoError(t, err)
	assert.Equal(t, "req-123", id)
}

func TestClient_SubmitWithoutWebhook(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		w.Write([]byte(`{"request_id":"req-1"}`))
	})

	id, err := client.Submit(t.Context(), fal.Input{Prompt: "p"}, "")
	require.NoError(t, err)
	assert.Equal(t, "req-1", id)
}

func TestClient_SubmitAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"bad prompt"}`))
	})

	_, err := client.Submit(t.Context(), fal.Input{Prompt: "p"}, "")

	var apiErr *fal.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "bad prompt")
}

func TestClient_StatusVariants(t *testing.T) {
	tests := []struct {
		body string
		want fal.QueueStatus
	}{
		{`{"status":"IN_QUEUE","queue_position":3}`, fal.Queued{Position: 3}},
		{`{"status":"IN_PROGRESS"}`, fal.InProgress{}},
		{`{"status":"COMPLETED"}`, fal.Completed{}},
	}

	for _, tt := range tests {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/fal-ai/nano-banana/requests/req-9/status", r.URL.Path)
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(tt.body))
		})

		status, err := client.Status(t.Context(), "req-9")
		require.NoError(t, err)
		assert.Equal(t, tt.want, status)
	}
}

func TestClient_StatusUnknownIsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"EXPLODED"}`))
	})

	_, err := client.Status(t.Context(), "req-9")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "EXPLODED")
}

func TestClient_Result(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fal-ai/nano-banana/requests/req-9", r.URL.Path)
		w.Write([]byte(`{"images":[{"url":"https://cdn/a.png","content_type":"image/png"},{"url":"https://cdn/b.jpg"}]}`))
	})

	result, err := client.Result(t.Context(), "req-9")
	require.NoError(t, err)
	require.Len(t, result.Artifacts, 2)
	assert.Equal(t, "https://cdn/a.png", result.Artifacts[0].URL)
	assert.Equal(t, "image/png", result.Artifacts[0].ContentType)
	assert.Empty(t, result.Artifacts[1].ContentType)
}

func TestClient_Run(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/run/fal-ai/nano-banana/edit", r.URL.Path)
		w.Write([]byte(`{"images":[],"description":"nothing"}`))
	})

	result, err := client.Run(t.Context(), fal.Input{Prompt: "p"})
	require.NoError(t, err)
	assert.Empty(t, result.Artifacts)
	assert.Equal(t, "nothing", result.Description)
}

func TestWebhookPayload_Accessors(t *testing.T) {
	var ok fal.WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(`{"request_id":"r","status":"OK","payload":{"images":[{"url":"u"}]}}`), &ok))
	assert.True(t, ok.Succeeded())
	artifacts, err := ok.Artifacts()
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)

	var failed fal.WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(`{"request_id":"r","status":"ERROR","error":{"code":"content_policy","msg":"x"}}`), &failed))
	assert.False(t, failed.Succeeded())
	assert.Equal(t, "content_policy", failed.ErrorCode())
	assert.JSONEq(t, `{"code":"content_policy","msg":"x"}`, failed.ErrorMessage())

	var bare fal.WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(`{"request_id":"r","status":"ERROR"}`), &bare))
	assert.Empty(t, bare.ErrorCode())
	assert.Equal(t, "status ERROR", bare.ErrorMessage())
}
