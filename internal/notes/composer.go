// Package notes turns raw transcripts and pasted text into structured
// study material by composing the transcription client with the provider
// fan-out client.
package notes

import (
	"context"
	"strings"

	"tutorly/internal/core"
	"tutorly/internal/providers"
)

// MaxSummarizeChars is the character budget applied to summarization input
// before it is sent to any provider.
const MaxSummarizeChars = 12000

const (
	notesTemplate = "You are a study assistant. Convert the following lecture transcript " +
		"into well-structured study notes with headings and bullet points. " +
		"Keep every important fact, definition and example.\n\nTranscript:\n"

	summaryTemplate = "You are a study assistant. Write a concise summary of the following " +
		"text in a few short paragraphs, keeping the key points a student needs to review.\n\nText:\n"
)

// Generator is the slice of the fan-out client the composer needs.
type Generator interface {
	Generate(ctx context.Context, req *core.GenerationRequest, specs []providers.Spec) (*core.GenerationResult, error)
}

// Composer produces notes and summaries through the configured provider
// fallback chain. It is stateless and safe for concurrent use.
type Composer struct {
	gen   Generator
	specs []providers.Spec
}

// NewComposer creates a Composer over the given candidate providers.
func NewComposer(gen Generator, specs []providers.Spec) *Composer {
	return &Composer{gen: gen, specs: specs}
}

// StudyMaterial is the output of FromTranscript.
type StudyMaterial struct {
	Notes    string
	Summary  string
	Provider string
	Model    string
}

// FromTranscript wraps the transcript in the fixed instructional templates
// and produces structured notes plus a summary. A failure here is a
// note-generation failure, reported separately from transcription failure
// by the caller.
func (c *Composer) FromTranscript(ctx context.Context, transcript string) (*StudyMaterial, error) {
	notesResult, err := c.gen.Generate(ctx, &core.GenerationRequest{
		UserPrompt: notesTemplate + transcript,
	}, c.specs)
	if err != nil {
		return nil, err
	}

	summaryResult, err := c.gen.Generate(ctx, &core.GenerationRequest{
		UserPrompt: summaryTemplate + transcript,
	}, c.specs)
	if err != nil {
		return nil, err
	}

	return &StudyMaterial{
		Notes:    notesResult.Text,
		Summary:  summaryResult.Text,
		Provider: notesResult.Provider,
		Model:    notesResult.Model,
	}, nil
}

// SummaryResult is the output of Summarize.
type SummaryResult struct {
	Summary   string
	Provider  string
	Model     string
	Truncated bool
}

// Summarize truncates the input to the character budget and runs it through
// the fallback chain with the summary template.
func (c *Composer) Summarize(ctx context.Context, text string) (*SummaryResult, error) {
	text, truncated := Truncate(text, MaxSummarizeChars)

	result, err := c.gen.Generate(ctx, &core.GenerationRequest{
		UserPrompt: summaryTemplate + text,
	}, c.specs)
	if err != nil {
		return nil, err
	}

	return &SummaryResult{
		Summary:   result.Text,
		Provider:  result.Provider,
		Model:     result.Model,
		Truncated: truncated,
	}, nil
}

// Truncate cuts s to at most max characters (runes, so multi-byte text is
// never split mid-character) and reports whether anything was removed.
func Truncate(s string, max int) (string, bool) {
	if max <= 0 {
		return s, false
	}
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes), false
	}
	return string(runes[:max]), true
}
