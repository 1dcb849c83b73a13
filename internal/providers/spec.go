// Package providers implements the provider catalog and the ordered
// fallback ("fan-out") client that normalizes heterogeneous LLM APIs
// into one internal contract.
package providers

import (
	"net/http"
	"strings"
)

// Format identifies the request/response shape a provider's API expects.
type Format string

const (
	// FormatChatCompletion is the OpenAI-style chat array with
	// system/user/assistant roles. Supports multi-turn conversations.
	FormatChatCompletion Format = "chat-completion"

	// FormatSingleMessage is the Anthropic-style messages endpoint fed a
	// single concatenated message. History is flattened into one turn.
	FormatSingleMessage Format = "single-message"

	// FormatBarePrompt is a plain inference endpoint taking one prompt
	// string. History and system prompt are concatenated into it.
	FormatBarePrompt Format = "bare-prompt"
)

// AuthStyle identifies how a provider expects its credential.
type AuthStyle string

const (
	// AuthBearer sends "Authorization: Bearer <key>".
	AuthBearer AuthStyle = "bearer"

	// AuthAPIKeyHeader sends the key in an "x-api-key" header.
	AuthAPIKeyHeader AuthStyle = "x-api-key"
)

// Spec fully describes one provider endpoint: how to shape the request,
// authenticate, and extract the generated text from the response.
// Specs are built once at startup and never mutated.
type Spec struct {
	// Name identifies the provider in results, logs and diagnostics.
	Name string `yaml:"name"`

	Format Format `yaml:"format"`

	// BaseURL is the API root, e.g. "https://api.groq.com/openai/v1".
	BaseURL string `yaml:"base_url"`

	// Endpoint is the request path appended to BaseURL. For bare-prompt
	// providers that address the model in the URL, leave it empty and the
	// model id is appended instead.
	Endpoint string `yaml:"endpoint"`

	// Model is the model identifier sent with each request.
	Model string `yaml:"model"`

	// APIKey is the resolved credential. Specs without a key are filtered
	// out before the fan-out client ever sees them.
	APIKey string `yaml:"-"`

	Auth AuthStyle `yaml:"auth"`

	// TextPath is the gjson path that extracts the generated text from a
	// successful response, e.g. "choices.0.message.content".
	TextPath string `yaml:"text_path"`

	// ExtraHeaders are provider-specific headers sent verbatim,
	// e.g. anthropic-version.
	ExtraHeaders map[string]string `yaml:"extra_headers,omitempty"`
}

// URL returns the full request URL for this spec.
func (s Spec) URL() string {
	if s.Endpoint == "" {
		return strings.TrimSuffix(s.BaseURL, "/") + "/" + s.Model
	}
	return strings.TrimSuffix(s.BaseURL, "/") + s.Endpoint
}

// applyAuth sets the credential and any provider-specific headers.
func (s Spec) applyAuth(req *http.Request) {
	switch s.Auth {
	case AuthAPIKeyHeader:
		req.Header.Set("x-api-key", s.APIKey)
	default:
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}
	for k, v := range s.ExtraHeaders {
		req.Header.Set(k, v)
	}
}
