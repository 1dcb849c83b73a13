package providers

import (
	"encoding/json"
	"strings"
	"testing"

	"tutorly/internal/core"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func TestBuildBodyChatCompletion(t *testing.T) {
	spec := Spec{Name: "groq", Format: FormatChatCompletion, Model: "llama-3.3-70b-versatile"}
	req := &core.GenerationRequest{
		SystemPrompt: "You are a tutor.",
		UserPrompt:   "Explain osmosis",
		History: []core.Message{
			{Role: "user", Content: "Hi"},
			{Role: "assistant", Content: "Hello! What shall we study?"},
		},
		Temperature: floatPtr(0.7),
		MaxTokens:   intPtr(512),
	}

	body, err := BuildBody(spec, req)
	if err != nil {
		t.Fatalf("BuildBody() error = %v", err)
	}

	var decoded chatCompletionBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}

	if decoded.Model != "llama-3.3-70b-versatile" {
		t.Errorf("Model = %q, want %q", decoded.Model, "llama-3.3-70b-versatile")
	}
	// system + 2 history turns + current user prompt, in order
	wantRoles := []string{"system", "user", "assistant", "user"}
	if len(decoded.Messages) != len(wantRoles) {
		t.Fatalf("len(Messages) = %d, want %d", len(decoded.Messages), len(wantRoles))
	}
	for i, role := range wantRoles {
		if decoded.Messages[i].Role != role {
			t.Errorf("Messages[%d].Role = %q, want %q", i, decoded.Messages[i].Role, role)
		}
	}
	if decoded.Messages[3].Content != "Explain osmosis" {
		t.Errorf("final message = %q, want the user prompt", decoded.Messages[3].Content)
	}
	if decoded.Temperature == nil || *decoded.Temperature != 0.7 {
		t.Error("Temperature not preserved")
	}
	if decoded.MaxTokens == nil || *decoded.MaxTokens != 512 {
		t.Error("MaxTokens not preserved")
	}
}

func TestBuildBodyChatCompletionNoSystem(t *testing.T) {
	spec := Spec{Format: FormatChatCompletion, Model: "gemini-2.0-flash"}
	req := &core.GenerationRequest{UserPrompt: "What is photosynthesis?"}

	body, err := BuildBody(spec, req)
	if err != nil {
		t.Fatalf("BuildBody() error = %v", err)
	}

	var decoded chatCompletionBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(decoded.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(decoded.Messages))
	}
	if decoded.Messages[0].Role != "user" {
		t.Errorf("Role = %q, want user", decoded.Messages[0].Role)
	}
}

func TestBuildBodySingleMessage(t *testing.T) {
	spec := Spec{Name: "claude", Format: FormatSingleMessage, Model: "claude-3-5-haiku-20241022"}
	req := &core.GenerationRequest{
		SystemPrompt: "You are a tutor.",
		UserPrompt:   "Explain osmosis",
		History: []core.Message{
			{Role: "user", Content: "Hi"},
			{Role: "assistant", Content: "Hello!"},
		},
	}

	body, err := BuildBody(spec, req)
	if err != nil {
		t.Fatalf("BuildBody() error = %v", err)
	}

	var decoded singleMessageBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}

	if len(decoded.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1 concatenated message", len(decoded.Messages))
	}
	content := decoded.Messages[0].Content
	// Every turn must survive the flattening.
	for _, fragment := range []string{"You are a tutor.", "Hi", "Hello!", "Explain osmosis"} {
		if !strings.Contains(content, fragment) {
			t.Errorf("flattened prompt missing %q:\n%s", fragment, content)
		}
	}
	if decoded.MaxTokens != defaultMaxTokens {
		t.Errorf("MaxTokens = %d, want default %d", decoded.MaxTokens, defaultMaxTokens)
	}
}

func TestBuildBodySingleMessageExplicitMaxTokens(t *testing.T) {
	spec := Spec{Format: FormatSingleMessage, Model: "claude-3-5-haiku-20241022"}
	req := &core.GenerationRequest{UserPrompt: "hi", MaxTokens: intPtr(100)}

	body, err := BuildBody(spec, req)
	if err != nil {
		t.Fatalf("BuildBody() error = %v", err)
	}
	var decoded singleMessageBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if decoded.MaxTokens != 100 {
		t.Errorf("MaxTokens = %d, want 100", decoded.MaxTokens)
	}
}

func TestBuildBodyBarePrompt(t *testing.T) {
	spec := Spec{Name: "huggingface", Format: FormatBarePrompt, Model: "mistralai/Mistral-7B-Instruct-v0.3"}
	req := &core.GenerationRequest{
		SystemPrompt: "Be concise.",
		UserPrompt:   "Define entropy",
		Temperature:  floatPtr(0.2),
	}

	body, err := BuildBody(spec, req)
	if err != nil {
		t.Fatalf("BuildBody() error = %v", err)
	}

	var decoded barePromptBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !strings.Contains(decoded.Inputs, "Be concise.") || !strings.Contains(decoded.Inputs, "Define entropy") {
		t.Errorf("Inputs missing system or user text: %q", decoded.Inputs)
	}
	if decoded.Parameters == nil || decoded.Parameters.Temperature == nil || *decoded.Parameters.Temperature != 0.2 {
		t.Error("Temperature not mapped into parameters")
	}
}

func TestBuildBodyUnknownFormat(t *testing.T) {
	spec := Spec{Format: Format("embedding-style")}
	if _, err := BuildBody(spec, &core.GenerationRequest{UserPrompt: "x"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestSpecURL(t *testing.T) {
	chat := Spec{BaseURL: "https://api.groq.com/openai/v1", Endpoint: "/chat/completions"}
	if got := chat.URL(); got != "https://api.groq.com/openai/v1/chat/completions" {
		t.Errorf("URL() = %q", got)
	}

	// Bare-prompt providers address the model in the URL.
	hf := Spec{BaseURL: "https://api-inference.huggingface.co/models", Model: "mistralai/Mistral-7B-Instruct-v0.3"}
	if got := hf.URL(); got != "https://api-inference.huggingface.co/models/mistralai/Mistral-7B-Instruct-v0.3" {
		t.Errorf("URL() = %q", got)
	}
}
