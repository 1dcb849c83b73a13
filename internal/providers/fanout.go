package providers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tutorly/internal/core"
	"tutorly/internal/pkg/httpclient"
)

// Hooks receives per-attempt observability callbacks from the fan-out
// client. Implementations must be safe for concurrent use.
type Hooks interface {
	// ObserveAttempt is called once per provider attempt with the outcome:
	// "success" or a core.FailureKind string.
	ObserveAttempt(provider, outcome string, duration time.Duration)
}

// Client tries candidate providers in strict order until one yields usable
// text. It holds no mutable state across calls, so a single Client is safe
// for concurrent requests.
type Client struct {
	httpClient *http.Client
	hooks      Hooks
}

// NewClient creates a fan-out client. A nil httpClient gets the pooled
// default; a nil hooks disables attempt callbacks.
func NewClient(httpClient *http.Client, hooks Hooks) *Client {
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient()
	}
	return &Client{httpClient: httpClient, hooks: hooks}
}

// Generate tries each candidate spec in order and returns the first usable
// result. Per-provider failures are recovered locally by advancing to the
// next candidate; only exhaustion, missing configuration or cancellation
// propagate to the caller.
func (c *Client) Generate(ctx context.Context, req *core.GenerationRequest, specs []Spec) (*core.GenerationResult, error) {
	if len(specs) == 0 {
		return nil, core.NewError(core.KindNoProviderConfigured, "no provider has a configured credential", nil)
	}

	attempts := make([]core.Attempt, 0, len(specs))

	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return nil, core.NewError(core.KindCancelled, "request cancelled", err)
		}

		start := time.Now()
		result, attemptErr := c.tryProvider(ctx, spec, req)
		elapsed := time.Since(start)

		if attemptErr == nil {
			c.observe(spec.Name, "success", elapsed)
			slog.Debug("provider succeeded",
				"provider", spec.Name,
				"model", spec.Model,
				"latency_ms", elapsed.Milliseconds(),
				"attempts", len(attempts)+1,
			)
			result.LatencyMS = elapsed.Milliseconds()
			return result, nil
		}

		// Cancellation aborts the whole fan-out, not just this attempt.
		if attemptErr.Kind == core.KindCancelled {
			return nil, attemptErr
		}

		c.observe(spec.Name, string(attemptErr.Kind), elapsed)
		slog.Warn("provider attempt failed, falling back",
			"provider", spec.Name,
			"kind", attemptErr.Kind,
			"error", attemptErr.Message,
		)
		attempts = append(attempts, core.Attempt{
			Provider: spec.Name,
			Kind:     attemptErr.Kind,
			Message:  attemptErr.Message,
		})
	}

	return nil, &core.AggregatedError{Attempts: attempts}
}

// tryProvider issues exactly one HTTP call to one provider. It never
// retries; retrying a provider within a single Generate call is the one
// thing the fallback algorithm forbids.
func (c *Client) tryProvider(ctx context.Context, spec Spec, req *core.GenerationRequest) (*core.GenerationResult, *core.Error) {
	body, err := BuildBody(spec, req)
	if err != nil {
		return nil, core.NewProviderFailure(core.KindProviderUnavailable, spec.Name, "failed to shape request: "+err.Error(), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, core.NewProviderFailure(core.KindProviderUnavailable, spec.Name, "failed to create request: "+err.Error(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	spec.applyAuth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, core.NewProviderFailure(core.KindCancelled, spec.Name, "request cancelled", err)
		}
		return nil, core.NewProviderFailure(core.KindProviderUnavailable, spec.Name, "request failed: "+err.Error(), err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewProviderFailure(core.KindProviderUnavailable, spec.Name, "failed to read response: "+err.Error(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := core.ClassifyProviderStatus(resp.StatusCode, respBody)
		return nil, core.NewProviderFailure(kind, spec.Name, core.ProviderErrorMessage(respBody), nil)
	}

	text, ok := ExtractText(spec, respBody)
	if !ok {
		return nil, core.NewProviderFailure(core.KindProviderUnavailable, spec.Name, "response contained no usable text at "+spec.TextPath, nil)
	}

	return &core.GenerationResult{
		Text:     text,
		Provider: spec.Name,
		Model:    spec.Model,
	}, nil
}

func (c *Client) observe(provider, outcome string, d time.Duration) {
	if c.hooks != nil {
		c.hooks.ObserveAttempt(provider, outcome, d)
	}
}
