// Package server provides the HTTP surface of the study assistant: prompt
// answering, summarization, transcription and the combined audio-to-notes
// flow.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"tutorly/internal/cache"
	"tutorly/internal/core"
	"tutorly/internal/notes"
	"tutorly/internal/providers"
	"tutorly/internal/usage"
)

// Generator is the provider fan-out client surface the handlers use.
type Generator interface {
	Generate(ctx context.Context, req *core.GenerationRequest, specs []providers.Spec) (*core.GenerationResult, error)
}

// Transcriber turns an audio URL into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (*core.TranscriptionResult, error)
}

// Composer produces notes and summaries from text.
type Composer interface {
	Summarize(ctx context.Context, text string) (*notes.SummaryResult, error)
	FromTranscript(ctx context.Context, transcript string) (*notes.StudyMaterial, error)
}

// Handler holds the HTTP handlers and their dependencies.
type Handler struct {
	generator   Generator
	specs       []providers.Spec
	composer    Composer
	transcriber Transcriber
	summaries   cache.Cache
	usage       usage.LoggerInterface
}

// Deps are the collaborators a Handler needs. Summaries and Usage may be
// nil; the corresponding features are then skipped.
type Deps struct {
	Generator   Generator
	Specs       []providers.Spec
	Composer    Composer
	Transcriber Transcriber
	Summaries   cache.Cache
	Usage       usage.LoggerInterface
}

// NewHandler creates a new handler.
func NewHandler(deps Deps) *Handler {
	h := &Handler{
		generator:   deps.Generator,
		specs:       deps.Specs,
		composer:    deps.Composer,
		transcriber: deps.Transcriber,
		summaries:   deps.Summaries,
		usage:       deps.Usage,
	}
	if h.usage == nil {
		h.usage = &usage.NoopLogger{}
	}
	return h
}

type aiRequest struct {
	Prompt      string         `json:"prompt"`
	System      string         `json:"system,omitempty"`
	Messages    []core.Message `json:"messages,omitempty"`
	Model       string         `json:"model,omitempty"`
	History     []core.Message `json:"history,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
}

type aiResponse struct {
	Response  string `json:"response"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	LatencyMS int64  `json:"latency_ms"`
}

// toGeneration converts either accepted body form into a generation request:
// a bare {prompt} or a {messages:[{role,content}]} conversation whose last
// user turn becomes the prompt.
func (r *aiRequest) toGeneration() (*core.GenerationRequest, error) {
	gen := &core.GenerationRequest{
		SystemPrompt: r.System,
		UserPrompt:   r.Prompt,
		History:      r.History,
		Temperature:  r.Temperature,
		MaxTokens:    r.MaxTokens,
	}

	if strings.TrimSpace(gen.UserPrompt) == "" && len(r.Messages) > 0 {
		var turns []core.Message
		for _, msg := range r.Messages {
			if msg.Role == "system" {
				gen.SystemPrompt = msg.Content
				continue
			}
			turns = append(turns, msg)
		}
		if len(turns) == 0 || turns[len(turns)-1].Role != "user" {
			return nil, core.NewError(core.KindInvalidRequest, "messages must end with a user message", nil)
		}
		gen.UserPrompt = turns[len(turns)-1].Content
		gen.History = turns[:len(turns)-1]
	}

	if strings.TrimSpace(gen.UserPrompt) == "" {
		return nil, core.NewError(core.KindInvalidRequest, "prompt is required", nil)
	}
	return gen, nil
}

// Ask handles POST /api/ai
func (h *Handler) Ask(c echo.Context) error {
	start := time.Now()

	var req aiRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewError(core.KindInvalidRequest, "invalid request body: "+err.Error(), err))
	}
	gen, err := req.toGeneration()
	if err != nil {
		return handleError(c, err)
	}

	specs := h.specs
	if req.Model != "" {
		specs = overrideModel(h.specs, req.Model)
	}

	result, err := h.generator.Generate(c.Request().Context(), gen, specs)
	if err != nil {
		h.recordUsage(c, "/api/ai", start, "", "", outcomeOf(err), len(gen.UserPrompt))
		return handleError(c, err)
	}

	h.recordUsage(c, "/api/ai", start, result.Provider, result.Model, usage.OutcomeSuccess, len(gen.UserPrompt))
	return c.JSON(http.StatusOK, aiResponse{
		Response:  result.Text,
		Provider:  result.Provider,
		Model:     result.Model,
		LatencyMS: result.LatencyMS,
	})
}

// overrideModel returns a copy of specs with every candidate's model replaced.
func overrideModel(specs []providers.Spec, model string) []providers.Spec {
	out := make([]providers.Spec, len(specs))
	copy(out, specs)
	for i := range out {
		out[i].Model = model
	}
	return out
}

type summarizeRequest struct {
	Text string `json:"text"`
}

type summaryMetadata struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Truncated bool   `json:"truncated"`
	Cached    bool   `json:"cached"`
}

type summarizeResponse struct {
	Summary  string          `json:"summary"`
	Metadata summaryMetadata `json:"metadata"`
}

// Summarize handles POST /api/summarize
func (h *Handler) Summarize(c echo.Context) error {
	start := time.Now()

	var req summarizeRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewError(core.KindInvalidRequest, "invalid request body: "+err.Error(), err))
	}
	if strings.TrimSpace(req.Text) == "" {
		return handleError(c, core.NewError(core.KindInvalidRequest, "text is required", nil))
	}

	// Cache lookup uses the truncated text so oversized inputs that agree
	// on their first characters share an entry.
	truncatedText, wasTruncated := notes.Truncate(req.Text, notes.MaxSummarizeChars)
	key := cache.Key(truncatedText)

	if h.summaries != nil {
		if entry, err := h.summaries.Get(c.Request().Context(), key); err != nil {
			slog.Warn("summary cache lookup failed", "error", err)
		} else if entry != nil {
			h.recordUsage(c, "/api/summarize", start, entry.Provider, entry.Model, usage.OutcomeSuccess, len(truncatedText))
			return c.JSON(http.StatusOK, summarizeResponse{
				Summary: entry.Summary,
				Metadata: summaryMetadata{
					Provider:  entry.Provider,
					Model:     entry.Model,
					Truncated: wasTruncated,
					Cached:    true,
				},
			})
		}
	}

	result, err := h.composer.Summarize(c.Request().Context(), req.Text)
	if err != nil {
		h.recordUsage(c, "/api/summarize", start, "", "", outcomeOf(err), len(truncatedText))
		return handleError(c, err)
	}

	if h.summaries != nil {
		if err := h.summaries.Set(c.Request().Context(), key, &cache.Entry{
			Summary:   result.Summary,
			Provider:  result.Provider,
			Model:     result.Model,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			slog.Warn("summary cache store failed", "error", err)
		}
	}

	h.recordUsage(c, "/api/summarize", start, result.Provider, result.Model, usage.OutcomeSuccess, len(truncatedText))
	return c.JSON(http.StatusOK, summarizeResponse{
		Summary: result.Summary,
		Metadata: summaryMetadata{
			Provider:  result.Provider,
			Model:     result.Model,
			Truncated: result.Truncated,
		},
	})
}

type transcribeRequest struct {
	AudioURL string `json:"audio_url"`
}

type transcribeResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

// Transcribe handles POST /api/transcribe
func (h *Handler) Transcribe(c echo.Context) error {
	start := time.Now()

	req, err := bindAudioRequest(c)
	if err != nil {
		return handleError(c, err)
	}

	result, err := h.transcriber.Transcribe(c.Request().Context(), req.AudioURL)
	if err != nil {
		h.recordUsage(c, "/api/transcribe", start, "", "", outcomeOf(err), 0)
		return handleError(c, err)
	}

	h.recordUsage(c, "/api/transcribe", start, "assemblyai", "", usage.OutcomeSuccess, 0)
	return c.JSON(http.StatusOK, transcribeResponse{
		Text:     result.Text,
		Duration: result.Duration,
	})
}

type audioMetadata struct {
	Duration float64 `json:"duration"`
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
}

type audioToNotesResponse struct {
	Notes         string        `json:"notes"`
	Summary       string        `json:"summary"`
	AudioURL      string        `json:"audioUrl"`
	Transcription string        `json:"transcription"`
	Metadata      audioMetadata `json:"metadata"`
}

// AudioToNotes handles POST /api/audio-to-notes: transcription followed by
// note generation. The two stages fail with distinct kinds so a client can
// tell a bad recording from an exhausted provider chain.
func (h *Handler) AudioToNotes(c echo.Context) error {
	start := time.Now()

	req, err := bindAudioRequest(c)
	if err != nil {
		return handleError(c, err)
	}

	transcript, err := h.transcriber.Transcribe(c.Request().Context(), req.AudioURL)
	if err != nil {
		h.recordUsage(c, "/api/audio-to-notes", start, "", "", outcomeOf(err), 0)
		return handleError(c, err)
	}

	material, err := h.composer.FromTranscript(c.Request().Context(), transcript.Text)
	if err != nil {
		h.recordUsage(c, "/api/audio-to-notes", start, "", "", outcomeOf(err), len(transcript.Text))
		return handleError(c, err)
	}

	h.recordUsage(c, "/api/audio-to-notes", start, material.Provider, material.Model, usage.OutcomeSuccess, len(transcript.Text))
	return c.JSON(http.StatusOK, audioToNotesResponse{
		Notes:         material.Notes,
		Summary:       material.Summary,
		AudioURL:      req.AudioURL,
		Transcription: transcript.Text,
		Metadata: audioMetadata{
			Duration: transcript.Duration,
			Provider: material.Provider,
			Model:    material.Model,
		},
	})
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func bindAudioRequest(c echo.Context) (*transcribeRequest, error) {
	var req transcribeRequest
	if err := c.Bind(&req); err != nil {
		return nil, core.NewError(core.KindInvalidRequest, "invalid request body: "+err.Error(), err)
	}
	if strings.TrimSpace(req.AudioURL) == "" {
		return nil, core.NewError(core.KindInvalidRequest, "audio_url is required", nil)
	}
	if !strings.HasPrefix(req.AudioURL, "http://") && !strings.HasPrefix(req.AudioURL, "https://") {
		return nil, core.NewError(core.KindInvalidRequest, "audio_url must be an http(s) URL", nil)
	}
	return &req, nil
}

// recordUsage queues one usage entry for the request.
func (h *Handler) recordUsage(c echo.Context, route string, start time.Time, provider, model, outcome string, inputChars int) {
	entry := usage.NewEntry(core.GetRequestID(c.Request().Context()), route)
	entry.Provider = provider
	entry.Model = model
	entry.Outcome = outcome
	entry.LatencyMS = time.Since(start).Milliseconds()
	entry.InputChars = inputChars
	h.usage.Write(entry)
}

// outcomeOf maps an error to the usage outcome string.
func outcomeOf(err error) string {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return string(coreErr.Kind)
	}
	var aggErr *core.AggregatedError
	if errors.As(err, &aggErr) {
		return string(core.KindAggregatedFailure)
	}
	return "internal_error"
}

// errorResponse is the JSON error body: a human-readable error, the failure
// kind in details, and the per-provider attempt list when every candidate
// failed.
type errorResponse struct {
	Error    string         `json:"error"`
	Details  string         `json:"details,omitempty"`
	Attempts []core.Attempt `json:"attempts,omitempty"`
}

// handleError converts service errors to JSON HTTP responses.
func handleError(c echo.Context, err error) error {
	var aggErr *core.AggregatedError
	if errors.As(err, &aggErr) {
		return c.JSON(aggErr.HTTPStatusCode(), errorResponse{
			Error:    aggErr.Error(),
			Details:  string(core.KindAggregatedFailure),
			Attempts: aggErr.Attempts,
		})
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return c.JSON(coreErr.HTTPStatusCode(), errorResponse{
			Error:   coreErr.Message,
			Details: string(coreErr.Kind),
		})
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, errorResponse{
		Error:   "an unexpected error occurred",
		Details: "internal_error",
	})
}
