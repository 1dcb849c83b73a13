// Package core provides the shared types and error taxonomy for the Tutorly backend.
package core

// Message represents a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest is the normalized request handed to the provider
// fan-out client. It is constructed per incoming call and never mutated
// after construction.
type GenerationRequest struct {
	// SystemPrompt is an optional instruction prepended to the conversation.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// UserPrompt is the current user message.
	UserPrompt string `json:"user_prompt"`

	// History holds prior conversation turns in order, oldest first.
	// It never includes the current UserPrompt.
	History []Message `json:"history,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// GenerationResult is the normalized output of a successful provider call.
type GenerationResult struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// LatencyMS is the wall-clock duration of the winning provider call.
	LatencyMS int64 `json:"latency_ms,omitempty"`
}

// TranscriptionResult is the terminal output of a completed transcription job.
type TranscriptionResult struct {
	Text string `json:"text"`

	// Duration is the audio duration in seconds as reported by the
	// transcription provider. Passed through to callers unchanged.
	Duration float64 `json:"duration"`
}
