package providers

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

const anthropicAPIVersion = "2023-06-01"

// catalogEntry describes one well-known provider before credential
// resolution. The entry order defines the default fallback priority.
type catalogEntry struct {
	spec      Spec
	apiKeyEnv string
}

// defaultCatalog is the single authoritative provider table. Fallback
// order, default models and extraction paths live here instead of being
// duplicated per route.
var defaultCatalog = []catalogEntry{
	{
		apiKeyEnv: "GEMINI_API_KEY",
		spec: Spec{
			Name:     "gemini",
			Format:   FormatChatCompletion,
			BaseURL:  "https://generativelanguage.googleapis.com/v1beta/openai",
			Endpoint: "/chat/completions",
			Model:    "gemini-2.0-flash",
			Auth:     AuthBearer,
			TextPath: "choices.0.message.content",
		},
	},
	{
		apiKeyEnv: "GROQ_API_KEY",
		spec: Spec{
			Name:     "groq",
			Format:   FormatChatCompletion,
			BaseURL:  "https://api.groq.com/openai/v1",
			Endpoint: "/chat/completions",
			Model:    "llama-3.3-70b-versatile",
			Auth:     AuthBearer,
			TextPath: "choices.0.message.content",
		},
	},
	{
		apiKeyEnv: "TOGETHER_API_KEY",
		spec: Spec{
			Name:     "together",
			Format:   FormatChatCompletion,
			BaseURL:  "https://api.together.xyz/v1",
			Endpoint: "/chat/completions",
			Model:    "meta-llama/Llama-3.3-70B-Instruct-Turbo",
			Auth:     AuthBearer,
			TextPath: "choices.0.message.content",
		},
	},
	{
		apiKeyEnv: "OPENROUTER_API_KEY",
		spec: Spec{
			Name:     "openrouter",
			Format:   FormatChatCompletion,
			BaseURL:  "https://openrouter.ai/api/v1",
			Endpoint: "/chat/completions",
			Model:    "meta-llama/llama-3.3-70b-instruct",
			Auth:     AuthBearer,
			TextPath: "choices.0.message.content",
		},
	},
	{
		apiKeyEnv: "ANTHROPIC_API_KEY",
		spec: Spec{
			Name:     "claude",
			Format:   FormatSingleMessage,
			BaseURL:  "https://api.anthropic.com/v1",
			Endpoint: "/messages",
			Model:    "claude-3-5-haiku-20241022",
			Auth:     AuthAPIKeyHeader,
			TextPath: "content.0.text",
			ExtraHeaders: map[string]string{
				"anthropic-version": anthropicAPIVersion,
			},
		},
	},
	{
		apiKeyEnv: "HF_API_KEY",
		spec: Spec{
			Name:     "huggingface",
			Format:   FormatBarePrompt,
			BaseURL:  "https://api-inference.huggingface.co/models",
			Model:    "mistralai/Mistral-7B-Instruct-v0.3",
			Auth:     AuthBearer,
			TextPath: "0.generated_text",
		},
	},
}

// CatalogOverride customizes a single catalog entry from the optional
// providers.yaml file. Zero-value fields keep the catalog default.
type CatalogOverride struct {
	Name     string `yaml:"name"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	TextPath string `yaml:"text_path"`
}

// catalogFile is the providers.yaml document shape.
type catalogFile struct {
	// Order lists provider names in fallback priority. Names absent from
	// the list are excluded entirely.
	Order     []string          `yaml:"order"`
	Providers []CatalogOverride `yaml:"providers"`
}

// ResolveCatalog builds the ordered candidate list: applies YAML overrides
// when a file is given, resolves credentials via getenv, and filters out
// providers without one. The returned order is the strict fallback priority.
func ResolveCatalog(overridePath string, getenv func(string) string) ([]Spec, error) {
	entries := make([]catalogEntry, len(defaultCatalog))
	copy(entries, defaultCatalog)

	if overridePath != "" {
		var err error
		entries, err = applyOverrides(entries, overridePath)
		if err != nil {
			return nil, err
		}
	}

	specs := make([]Spec, 0, len(entries))
	for _, e := range entries {
		key := getenv(e.apiKeyEnv)
		if key == "" {
			slog.Debug("provider not configured, skipping", "provider", e.spec.Name, "env", e.apiKeyEnv)
			continue
		}
		s := e.spec
		s.APIKey = key
		specs = append(specs, s)
	}

	return specs, nil
}

// applyOverrides loads providers.yaml and applies it to the catalog.
func applyOverrides(entries []catalogEntry, path string) ([]catalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider table %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse provider table %s: %w", path, err)
	}

	byName := make(map[string]catalogEntry, len(entries))
	for _, e := range entries {
		byName[e.spec.Name] = e
	}

	for _, o := range file.Providers {
		e, ok := byName[o.Name]
		if !ok {
			return nil, fmt.Errorf("provider table %s references unknown provider %q", path, o.Name)
		}
		if o.Model != "" {
			e.spec.Model = o.Model
		}
		if o.BaseURL != "" {
			e.spec.BaseURL = o.BaseURL
		}
		if o.TextPath != "" {
			e.spec.TextPath = o.TextPath
		}
		byName[o.Name] = e
	}

	if len(file.Order) == 0 {
		result := make([]catalogEntry, 0, len(entries))
		for _, e := range entries {
			result = append(result, byName[e.spec.Name])
		}
		return result, nil
	}

	result := make([]catalogEntry, 0, len(file.Order))
	for _, name := range file.Order {
		e, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("provider table %s orders unknown provider %q", path, name)
		}
		result = append(result, e)
	}
	return result, nil
}
