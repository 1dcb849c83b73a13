package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"tutorly/internal/core"
	"tutorly/internal/pkg/httpclient"
)

const defaultBaseURL = "https://api.assemblyai.com/v2"

// PollObserver receives a callback per status poll, used for metrics.
type PollObserver func(status Status)

// Client submits audio to AssemblyAI and polls the transcript endpoint
// until the job reaches a terminal state.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	opts       Options
	observer   PollObserver
}

// New creates an AssemblyAI client with the given polling bounds.
// Zero-value opts fields fall back to the 5s/120-attempt defaults.
func New(apiKey string, opts Options) *Client {
	return &Client{
		httpClient: httpclient.NewDefaultHTTPClient(),
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		opts:       opts,
	}
}

// NewWithHTTPClient creates a client with a custom HTTP client.
// If httpClient is nil, the pooled default is used.
func NewWithHTTPClient(apiKey string, httpClient *http.Client, opts Options) *Client {
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient()
	}
	return &Client{
		httpClient: httpClient,
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		opts:       opts,
	}
}

// SetBaseURL allows configuring a custom base URL for the provider.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// SetPollObserver installs a per-poll metrics callback.
func (c *Client) SetPollObserver(obs PollObserver) {
	c.observer = obs
}

// transcriptResource mirrors the AssemblyAI transcript object, limited to
// the fields the poller needs.
type transcriptResource struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	Text          string  `json:"text"`
	Error         string  `json:"error"`
	AudioDuration float64 `json:"audio_duration"`
}

// Transcribe submits the audio URL and drives the job to a terminal state.
func (c *Client) Transcribe(ctx context.Context, audioURL string) (*core.TranscriptionResult, error) {
	submit := func(ctx context.Context) (string, error) {
		return c.submit(ctx, audioURL)
	}

	job, err := RunJob(ctx, submit, c.poll, c.opts)
	if err != nil {
		return nil, err
	}

	return &core.TranscriptionResult{
		Text:     job.Text,
		Duration: job.Duration,
	}, nil
}

// submit creates a transcript job and returns its external id.
func (c *Client) submit(ctx context.Context, audioURL string) (string, error) {
	payload, err := json.Marshal(map[string]string{"audio_url": audioURL})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcript", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resource, err := c.doTranscriptRequest(req)
	if err != nil {
		return "", err
	}
	if resource.ID == "" {
		return "", fmt.Errorf("transcript response missing id")
	}
	return resource.ID, nil
}

// poll fetches the current transcript state.
func (c *Client) poll(ctx context.Context, id string) (*Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transcript/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resource, err := c.doTranscriptRequest(req)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:       resource.ID,
		Status:   mapStatus(resource.Status),
		Text:     resource.Text,
		Duration: resource.AudioDuration,
	}
	if job.Status == StatusFailed {
		job.ErrorDetail = resource.Error
		if job.ErrorDetail == "" {
			job.ErrorDetail = "transcription failed without detail"
		}
	}
	if c.observer != nil {
		c.observer(job.Status)
	}
	return job, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("authorization", c.apiKey)
	if req.Method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
}

// doTranscriptRequest executes the request and decodes a transcript resource.
func (c *Client) doTranscriptRequest(req *http.Request) (*transcriptResource, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("assemblyai error (status %d): %s", resp.StatusCode, core.ProviderErrorMessage(body))
	}

	var resource transcriptResource
	if err := json.Unmarshal(body, &resource); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resource, nil
}

// mapStatus converts AssemblyAI status strings to the internal lifecycle.
// AssemblyAI reports "error" for failed jobs.
func mapStatus(s string) Status {
	switch s {
	case "queued":
		return StatusQueued
	case "processing":
		return StatusProcessing
	case "completed":
		return StatusCompleted
	case "error":
		return StatusFailed
	default:
		return StatusProcessing
	}
}
