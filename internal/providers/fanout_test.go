package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tutorly/internal/core"
)

// fakeProvider is an httptest-backed provider that records how many times
// it was called.
type fakeProvider struct {
	server *httptest.Server
	calls  int
	mu     sync.Mutex
}

func newFakeProvider(t *testing.T, statusCode int, responseBody string) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{}
	fp.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fp.mu.Lock()
		fp.calls++
		fp.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_, _ = w.Write([]byte(responseBody))
	}))
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakeProvider) callCount() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.calls
}

func (fp *fakeProvider) spec(name string) Spec {
	return Spec{
		Name:     name,
		Format:   FormatChatCompletion,
		BaseURL:  fp.server.URL,
		Endpoint: "/chat/completions",
		Model:    "test-model",
		APIKey:   "test-key",
		Auth:     AuthBearer,
		TextPath: "choices.0.message.content",
	}
}

const okBody = `{"choices":[{"message":{"content":"Osmosis is the movement of water."}}]}`

func TestGenerateEmptyCandidates(t *testing.T) {
	client := NewClient(nil, nil)

	_, err := client.Generate(context.Background(), &core.GenerationRequest{UserPrompt: "x"}, nil)

	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		t.Fatalf("expected *core.Error, got %T", err)
	}
	if coreErr.Kind != core.KindNoProviderConfigured {
		t.Errorf("Kind = %q, want %q", coreErr.Kind, core.KindNoProviderConfigured)
	}
}

func TestGenerateFirstProviderWins(t *testing.T) {
	first := newFakeProvider(t, http.StatusOK, okBody)
	second := newFakeProvider(t, http.StatusOK, okBody)

	client := NewClient(nil, nil)
	result, err := client.Generate(context.Background(), &core.GenerationRequest{UserPrompt: "Explain osmosis"},
		[]Spec{first.spec("gemini"), second.spec("groq")})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if result.Provider != "gemini" {
		t.Errorf("Provider = %q, want gemini", result.Provider)
	}
	if first.callCount() != 1 {
		t.Errorf("first provider calls = %d, want 1", first.callCount())
	}
	// At-most-one successful call: later candidates are never contacted.
	if second.callCount() != 0 {
		t.Errorf("second provider calls = %d, want 0", second.callCount())
	}
}

func TestGenerateFallsBackOn429(t *testing.T) {
	// The end-to-end scenario: ProviderA fails with 429, ProviderB succeeds.
	rateLimited := newFakeProvider(t, http.StatusTooManyRequests, `{"error":{"message":"quota exceeded"}}`)
	healthy := newFakeProvider(t, http.StatusOK, okBody)

	hooks := &recordingHooks{}
	client := NewClient(nil, hooks)
	result, err := client.Generate(context.Background(), &core.GenerationRequest{UserPrompt: "Explain osmosis"},
		[]Spec{rateLimited.spec("providerA"), healthy.spec("providerB")})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if result.Provider != "providerB" {
		t.Errorf("Provider = %q, want providerB", result.Provider)
	}
	if result.Text != "Osmosis is the movement of water." {
		t.Errorf("Text = %q", result.Text)
	}

	// The 429 is recorded as rate_limited in diagnostics, not surfaced.
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if len(hooks.attempts) != 2 {
		t.Fatalf("observed %d attempts, want 2", len(hooks.attempts))
	}
	if hooks.attempts[0].outcome != string(core.KindRateLimited) {
		t.Errorf("first attempt outcome = %q, want rate_limited", hooks.attempts[0].outcome)
	}
	if hooks.attempts[1].outcome != "success" {
		t.Errorf("second attempt outcome = %q, want success", hooks.attempts[1].outcome)
	}
}

func TestGenerateEmptyTextTreatedAsFailure(t *testing.T) {
	// A 200 with no usable text must advance the fallback exactly like a 500.
	blank := newFakeProvider(t, http.StatusOK, `{"choices":[{"message":{"content":""}}]}`)
	broken := newFakeProvider(t, http.StatusInternalServerError, `{"error":{"message":"boom"}}`)
	healthy := newFakeProvider(t, http.StatusOK, okBody)

	client := NewClient(nil, nil)
	result, err := client.Generate(context.Background(), &core.GenerationRequest{UserPrompt: "x"},
		[]Spec{blank.spec("blank"), broken.spec("broken"), healthy.spec("healthy")})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if result.Provider != "healthy" {
		t.Errorf("Provider = %q, want healthy", result.Provider)
	}
	if blank.callCount() != 1 || broken.callCount() != 1 || healthy.callCount() != 1 {
		t.Errorf("calls = %d/%d/%d, want 1/1/1", blank.callCount(), broken.callCount(), healthy.callCount())
	}
}

func TestGenerateAllFail(t *testing.T) {
	rateLimited := newFakeProvider(t, http.StatusTooManyRequests, `{"error":{"message":"quota"}}`)
	unauthorized := newFakeProvider(t, http.StatusUnauthorized, `{"error":{"message":"bad key"}}`)
	broken := newFakeProvider(t, http.StatusBadGateway, `upstream down`)

	client := NewClient(nil, nil)
	_, err := client.Generate(context.Background(), &core.GenerationRequest{UserPrompt: "x"},
		[]Spec{rateLimited.spec("a"), unauthorized.spec("b"), broken.spec("c")})

	var agg *core.AggregatedError
	if !errors.As(err, &agg) {
		t.Fatalf("expected *core.AggregatedError, got %T: %v", err, err)
	}

	// One classification per candidate, in input order.
	if len(agg.Attempts) != 3 {
		t.Fatalf("len(Attempts) = %d, want 3", len(agg.Attempts))
	}
	want := []struct {
		provider string
		kind     core.FailureKind
	}{
		{"a", core.KindRateLimited},
		{"b", core.KindAuthFailed},
		{"c", core.KindProviderUnavailable},
	}
	for i, w := range want {
		if agg.Attempts[i].Provider != w.provider {
			t.Errorf("Attempts[%d].Provider = %q, want %q", i, agg.Attempts[i].Provider, w.provider)
		}
		if agg.Attempts[i].Kind != w.kind {
			t.Errorf("Attempts[%d].Kind = %q, want %q", i, agg.Attempts[i].Kind, w.kind)
		}
	}
}

func TestGenerateNoRetrySameProvider(t *testing.T) {
	flaky := newFakeProvider(t, http.StatusServiceUnavailable, `{}`)

	client := NewClient(nil, nil)
	_, err := client.Generate(context.Background(), &core.GenerationRequest{UserPrompt: "x"},
		[]Spec{flaky.spec("flaky")})
	if err == nil {
		t.Fatal("expected error")
	}
	if flaky.callCount() != 1 {
		t.Errorf("calls = %d, want exactly 1 (no per-provider retry)", flaky.callCount())
	}
}

func TestGenerateCancellation(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()
	never := newFakeProvider(t, http.StatusOK, okBody)

	slowSpec := Spec{
		Name: "slow", Format: FormatChatCompletion, BaseURL: slow.URL,
		Endpoint: "/chat/completions", Model: "m", APIKey: "k",
		Auth: AuthBearer, TextPath: "choices.0.message.content",
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	client := NewClient(nil, nil)
	_, err := client.Generate(ctx, &core.GenerationRequest{UserPrompt: "x"},
		[]Spec{slowSpec, never.spec("never")})

	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		t.Fatalf("expected *core.Error, got %T: %v", err, err)
	}
	if coreErr.Kind != core.KindCancelled {
		t.Errorf("Kind = %q, want cancelled", coreErr.Kind)
	}
	// Cancellation stops further fallback attempts.
	if never.callCount() != 0 {
		t.Errorf("later provider was called %d times after cancellation", never.callCount())
	}
}

func TestGenerateAuthHeaders(t *testing.T) {
	var gotAuth, gotAPIKey, gotVersion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAPIKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"content":[{"text":"hi"}]}`))
	}))
	defer server.Close()

	spec := Spec{
		Name: "claude", Format: FormatSingleMessage, BaseURL: server.URL,
		Endpoint: "/messages", Model: "claude-3-5-haiku-20241022", APIKey: "sk-ant-test",
		Auth: AuthAPIKeyHeader, TextPath: "content.0.text",
		ExtraHeaders: map[string]string{"anthropic-version": anthropicAPIVersion},
	}

	client := NewClient(nil, nil)
	if _, err := client.Generate(context.Background(), &core.GenerationRequest{UserPrompt: "x"}, []Spec{spec}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if gotAPIKey != "sk-ant-test" {
		t.Errorf("x-api-key = %q, want credential", gotAPIKey)
	}
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want empty for x-api-key auth", gotAuth)
	}
	if gotVersion != anthropicAPIVersion {
		t.Errorf("anthropic-version = %q, want %q", gotVersion, anthropicAPIVersion)
	}
}

type attemptRecord struct {
	provider string
	outcome  string
}

type recordingHooks struct {
	mu       sync.Mutex
	attempts []attemptRecord
}

func (h *recordingHooks) ObserveAttempt(provider, outcome string, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts = append(h.attempts, attemptRecord{provider: provider, outcome: outcome})
}
