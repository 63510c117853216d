package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the fal queue and synchronous run APIs for one model.
type Client struct {
	queueURL   string
	runURL     string
	model      string
	apiKey     string
	httpClient *http.Client
}

type Option func(*Client)

func WithQueueURL(u string) Option {
	return func(c *Client) { c.queueURL = strings.TrimSuffix(u, "/") }
}

func WithRunURL(u string) Option {
	return func(c *Client) { c.runURL = strings.TrimSuffix(u, "/") }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func NewClient(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		queueURL: "https://queue.fal.run",
		runURL:   "https://fal.run",
		model:    strings.Trim(model, "/"),
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// appID is owner/alias; queue status and result routes drop any subpath.
func (c *Client) appID() string {
	parts := strings.SplitN(c.model, "/", 3)
	if len(parts) < 2 {
		return c.model
	}
	return parts[0] + "/" + parts[1]
}

// Submit enqueues input and returns the provider request id. A non-empty
// webhookURL asks the provider to push the result there.
func (c *Client) Submit(ctx context.Context, input Input, webhookURL string) (string, error) {
	endpoint := c.queueURL + "/" + c.model
	if webhookURL != "" {
		endpoint += "?fal_webhook=" + url.QueryEscape(webhookURL)
	}

	var resp struct {
		RequestID string `json:"request_id"`
	}
	if err := c.do(ctx, http.MethodPost, endpoint, input, &resp); err != nil {
		return "", fmt.Errorf("failed to submit request: %w", err)
	}
	if resp.RequestID == "" {
		return "", fmt.Errorf("failed to submit request: empty request_id")
	}
	return resp.RequestID, nil
}

func (c *Client) Status(ctx context.Context, requestID string) (QueueStatus, error) {
	endpoint := c.queueURL + "/" + c.appID() + "/requests/" + url.PathEscape(requestID) + "/status"

	var resp statusPayload
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get request status: %w", err)
	}
	return resp.parse()
}

func (c *Client) Result(ctx context.Context, requestID string) (*Result, error) {
	endpoint := c.queueURL + "/" + c.appID() + "/requests/" + url.PathEscape(requestID)

	var resp resultPayload
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get request result: %w", err)
	}
	return resp.result(), nil
}

// Run executes input synchronously and blocks until the model finishes.
func (c *Client) Run(ctx context.Context, input Input) (*Result, error) {
	endpoint := c.runURL + "/" + c.model

	var resp resultPayload
	if err := c.do(ctx, http.MethodPost, endpoint, input, &resp); err != nil {
		return nil, fmt.Errorf("failed to run model: %w", err)
	}
	return resp.result(), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return nil
}
