package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tutorly/internal/cache"
	"tutorly/internal/core"
	"tutorly/internal/notes"
	"tutorly/internal/providers"
)

type fakeGenerator struct {
	result      *core.GenerationResult
	err         error
	calls       int
	lastRequest *core.GenerationRequest
}

func (f *fakeGenerator) Generate(_ context.Context, req *core.GenerationRequest, _ []providers.Spec) (*core.GenerationResult, error) {
	f.calls++
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeComposer struct {
	summary  *notes.SummaryResult
	material *notes.StudyMaterial
	err      error
	calls    int
}

func (f *fakeComposer) Summarize(_ context.Context, _ string) (*notes.SummaryResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

func (f *fakeComposer) FromTranscript(_ context.Context, _ string) (*notes.StudyMaterial, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.material, nil
}

type fakeTranscriber struct {
	result *core.TranscriptionResult
	err    error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string) (*core.TranscriptionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestServer(deps Deps) *Server {
	return New(NewHandler(deps), nil)
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestAsk(t *testing.T) {
	gen := &fakeGenerator{result: &core.GenerationResult{
		Text: "Photosynthesis converts light into energy.", Provider: "groq", Model: "llama-3.3-70b-versatile", LatencyMS: 80,
	}}
	srv := newTestServer(Deps{Generator: gen})

	rec := doJSON(t, srv, http.MethodPost, "/api/ai", `{"prompt":"What is photosynthesis?"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["response"] != "Photosynthesis converts light into energy." || body["provider"] != "groq" {
		t.Errorf("body = %v", body)
	}
}

func TestAskMessagesBody(t *testing.T) {
	gen := &fakeGenerator{result: &core.GenerationResult{Text: "42", Provider: "gemini"}}
	srv := newTestServer(Deps{Generator: gen})

	rec := doJSON(t, srv, http.MethodPost, "/api/ai",
		`{"messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"},{"role":"assistant","content":"hello"},{"role":"user","content":"what is 6x7?"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}
	req := gen.lastRequest
	if req.SystemPrompt != "be brief" || req.UserPrompt != "what is 6x7?" {
		t.Errorf("request = %+v", req)
	}
	if len(req.History) != 2 || req.History[0].Content != "hi" || req.History[1].Role != "assistant" {
		t.Errorf("history = %v", req.History)
	}
}

func TestAskMessagesWithoutUserTurn(t *testing.T) {
	gen := &fakeGenerator{}
	srv := newTestServer(Deps{Generator: gen})

	rec := doJSON(t, srv, http.MethodPost, "/api/ai",
		`{"messages":[{"role":"system","content":"be brief"}]}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times for invalid request", gen.calls)
	}
}

func TestAskMissingPrompt(t *testing.T) {
	gen := &fakeGenerator{}
	srv := newTestServer(Deps{Generator: gen})

	rec := doJSON(t, srv, http.MethodPost, "/api/ai", `{"prompt":"   "}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times for invalid request", gen.calls)
	}
}

func TestAskAllProvidersFailed(t *testing.T) {
	gen := &fakeGenerator{err: &core.AggregatedError{Attempts: []core.Attempt{
		{Provider: "gemini", Kind: core.KindRateLimited, Message: "quota exceeded"},
		{Provider: "groq", Kind: core.KindProviderUnavailable, Message: "connection refused"},
	}}}
	srv := newTestServer(Deps{Generator: gen})

	rec := doJSON(t, srv, http.MethodPost, "/api/ai", `{"prompt":"hi"}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["details"] != "aggregated_failure" {
		t.Errorf("details = %v", body["details"])
	}
	attempts := body["attempts"].([]any)
	if len(attempts) != 2 {
		t.Fatalf("attempts = %v", attempts)
	}
	first := attempts[0].(map[string]any)
	if first["provider"] != "gemini" || first["kind"] != "rate_limited" {
		t.Errorf("first attempt = %v, want gemini rate_limited first (input order)", first)
	}
}

func TestAskRateLimitStatus(t *testing.T) {
	gen := &fakeGenerator{err: core.NewError(core.KindRateLimited, "slow down", nil)}
	srv := newTestServer(Deps{Generator: gen})

	rec := doJSON(t, srv, http.MethodPost, "/api/ai", `{"prompt":"hi"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestSummarize(t *testing.T) {
	comp := &fakeComposer{summary: &notes.SummaryResult{
		Summary: "A short recap.", Provider: "together", Model: "meta-llama/Llama-3.3-70B-Instruct-Turbo",
	}}
	srv := newTestServer(Deps{Composer: comp})

	rec := doJSON(t, srv, http.MethodPost, "/api/summarize", `{"text":"long lecture text"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	meta := body["metadata"].(map[string]any)
	if body["summary"] != "A short recap." || meta["cached"] != false || meta["provider"] != "together" {
		t.Errorf("body = %v", body)
	}
}

func TestSummarizeCacheHit(t *testing.T) {
	comp := &fakeComposer{summary: &notes.SummaryResult{Summary: "fresh", Provider: "groq"}}
	summaries := cache.NewMemoryCache(0)
	srv := newTestServer(Deps{Composer: comp, Summaries: summaries})

	// First request populates the cache.
	rec := doJSON(t, srv, http.MethodPost, "/api/summarize", `{"text":"same input"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	if comp.calls != 1 {
		t.Fatalf("composer calls = %d, want 1", comp.calls)
	}

	// Second identical request must be served from cache.
	rec = doJSON(t, srv, http.MethodPost, "/api/summarize", `{"text":"same input"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("second status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	meta := body["metadata"].(map[string]any)
	if meta["cached"] != true {
		t.Errorf("cached = %v, want true", meta["cached"])
	}
	if comp.calls != 1 {
		t.Errorf("composer calls = %d, want still 1 after cache hit", comp.calls)
	}
}

func TestTranscribe(t *testing.T) {
	tr := &fakeTranscriber{result: &core.TranscriptionResult{Text: "Lecture about cells...", Duration: 181.25}}
	srv := newTestServer(Deps{Transcriber: tr})

	rec := doJSON(t, srv, http.MethodPost, "/api/transcribe", `{"audio_url":"https://example.com/a.mp3"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["text"] != "Lecture about cells..." || body["duration"] != 181.25 {
		t.Errorf("body = %v", body)
	}
}

func TestTranscribeRejectsNonHTTPURL(t *testing.T) {
	srv := newTestServer(Deps{Transcriber: &fakeTranscriber{}})

	rec := doJSON(t, srv, http.MethodPost, "/api/transcribe", `{"audio_url":"file:///etc/passwd"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTranscribeTimeoutStatus(t *testing.T) {
	tr := &fakeTranscriber{err: core.NewError(core.KindTranscriptionTimeout, "transcription timed out after 120 polls", nil)}
	srv := newTestServer(Deps{Transcriber: tr})

	rec := doJSON(t, srv, http.MethodPost, "/api/transcribe", `{"audio_url":"https://example.com/a.mp3"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["details"] != "transcription_timeout" {
		t.Errorf("details = %v", body["details"])
	}
}

func TestAudioToNotes(t *testing.T) {
	tr := &fakeTranscriber{result: &core.TranscriptionResult{Text: "Today we cover the cell...", Duration: 93.5}}
	comp := &fakeComposer{material: &notes.StudyMaterial{
		Notes: "# Cells\n- membrane", Summary: "Cells recap.", Provider: "groq", Model: "llama-3.3-70b-versatile",
	}}
	srv := newTestServer(Deps{Transcriber: tr, Composer: comp})

	rec := doJSON(t, srv, http.MethodPost, "/api/audio-to-notes", `{"audio_url":"https://example.com/lecture.mp3"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["transcription"] != "Today we cover the cell..." {
		t.Errorf("transcription = %v", body["transcription"])
	}
	if body["notes"] != "# Cells\n- membrane" || body["summary"] != "Cells recap." {
		t.Errorf("body = %v", body)
	}
	if body["audioUrl"] != "https://example.com/lecture.mp3" {
		t.Errorf("audioUrl = %v", body["audioUrl"])
	}
	meta := body["metadata"].(map[string]any)
	if meta["duration"] != 93.5 {
		t.Errorf("duration = %v, want the audio duration passed through", meta["duration"])
	}
	if meta["provider"] != "groq" {
		t.Errorf("provider = %v", meta["provider"])
	}
}

func TestAudioToNotesDistinguishesStageFailures(t *testing.T) {
	// Transcription failure surfaces as transcription_failed.
	srv := newTestServer(Deps{
		Transcriber: &fakeTranscriber{err: core.NewError(core.KindTranscriptionFailed, "download of audio failed", nil)},
		Composer:    &fakeComposer{},
	})
	rec := doJSON(t, srv, http.MethodPost, "/api/audio-to-notes", `{"audio_url":"https://example.com/a.mp3"}`)
	if got := decodeBody(t, rec)["details"]; got != "transcription_failed" {
		t.Errorf("details = %v, want transcription_failed", got)
	}

	// Generation failure after a good transcript surfaces as a provider failure.
	srv = newTestServer(Deps{
		Transcriber: &fakeTranscriber{result: &core.TranscriptionResult{Text: "ok"}},
		Composer:    &fakeComposer{err: &core.AggregatedError{Attempts: []core.Attempt{{Provider: "groq", Kind: core.KindRateLimited}}}},
	})
	rec = doJSON(t, srv, http.MethodPost, "/api/audio-to-notes", `{"audio_url":"https://example.com/a.mp3"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if got := decodeBody(t, rec)["details"]; got != "aggregated_failure" {
		t.Errorf("details = %v, want aggregated_failure", got)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(Deps{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(Deps{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("response missing X-Request-ID")
	}

	// An incoming request id is honored.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "client-supplied" {
		t.Errorf("X-Request-ID = %q, want client-supplied", got)
	}
}
