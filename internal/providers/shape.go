package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"tutorly/internal/core"
)

// defaultMaxTokens is sent to providers whose API requires an explicit
// max_tokens (Anthropic) when the caller did not set one.
const defaultMaxTokens = 4096

// chatCompletionBody is the OpenAI-style request shape.
type chatCompletionBody struct {
	Model       string         `json:"model"`
	Messages    []core.Message `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
}

// singleMessageBody is the Anthropic-style request shape.
type singleMessageBody struct {
	Model       string         `json:"model"`
	Messages    []core.Message `json:"messages"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature *float64       `json:"temperature,omitempty"`
}

// barePromptBody is the plain inference request shape (HuggingFace style).
type barePromptBody struct {
	Inputs     string            `json:"inputs"`
	Parameters *barePromptParams `json:"parameters,omitempty"`
}

type barePromptParams struct {
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxNewTokens *int     `json:"max_new_tokens,omitempty"`
}

// BuildBody shapes the outbound request body for the spec's capability
// format. Chat-completion preserves every conversation turn; the other
// formats degrade by concatenating the turns into a single prompt so no
// content is lost.
func BuildBody(spec Spec, req *core.GenerationRequest) ([]byte, error) {
	switch spec.Format {
	case FormatChatCompletion:
		messages := make([]core.Message, 0, len(req.History)+2)
		if req.SystemPrompt != "" {
			messages = append(messages, core.Message{Role: "system", Content: req.SystemPrompt})
		}
		messages = append(messages, req.History...)
		messages = append(messages, core.Message{Role: "user", Content: req.UserPrompt})

		return json.Marshal(chatCompletionBody{
			Model:       spec.Model,
			Messages:    messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})

	case FormatSingleMessage:
		maxTokens := defaultMaxTokens
		if req.MaxTokens != nil {
			maxTokens = *req.MaxTokens
		}
		return json.Marshal(singleMessageBody{
			Model: spec.Model,
			Messages: []core.Message{
				{Role: "user", Content: flattenPrompt(req)},
			},
			MaxTokens:   maxTokens,
			Temperature: req.Temperature,
		})

	case FormatBarePrompt:
		var params *barePromptParams
		if req.Temperature != nil || req.MaxTokens != nil {
			params = &barePromptParams{
				Temperature:  req.Temperature,
				MaxNewTokens: req.MaxTokens,
			}
		}
		return json.Marshal(barePromptBody{
			Inputs:     flattenPrompt(req),
			Parameters: params,
		})

	default:
		return nil, fmt.Errorf("unknown capability format: %q", spec.Format)
	}
}

// flattenPrompt concatenates the system prompt, conversation history and
// current user prompt into a single string for formats without multi-turn
// support. Every turn is preserved, labeled by role.
func flattenPrompt(req *core.GenerationRequest) string {
	var b strings.Builder

	if req.SystemPrompt != "" {
		b.WriteString(req.SystemPrompt)
		b.WriteString("\n\n")
	}
	for _, msg := range req.History {
		switch msg.Role {
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	if len(req.History) > 0 {
		b.WriteString("User: ")
	}
	b.WriteString(req.UserPrompt)

	return b.String()
}
