// Package transcribe implements the submit → poll-until-terminal workflow
// for external transcription jobs, plus the AssemblyAI client driving it.
package transcribe

import (
	"context"
	"fmt"
	"time"

	"tutorly/internal/core"
)

// Status is the lifecycle state reported by the external job API.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further polling should occur for this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is a snapshot of an external transcription job. It is created on
// submit, updated by successive polls, and discarded once a terminal state
// has been reported to the caller.
type Job struct {
	ID     string
	Status Status

	// Text is present only when Status is StatusCompleted.
	Text string

	// Duration is the audio duration in seconds, present on completion.
	Duration float64

	// ErrorDetail is present only when Status is StatusFailed.
	ErrorDetail string
}

// SubmitFunc submits a job to the external service and returns its id.
type SubmitFunc func(ctx context.Context) (string, error)

// PollFunc queries the current state of a previously submitted job.
type PollFunc func(ctx context.Context, id string) (*Job, error)

// Options bounds the polling loop. Defaults match the historical behavior:
// a 5 second interval and 120 attempts (a 10 minute ceiling).
type Options struct {
	PollInterval time.Duration
	MaxAttempts  int
}

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxAttempts  = 120
)

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	return o
}

// RunJob drives a job to a terminal outcome: submit, then poll at a fixed
// interval until completed, failed, timeout or cancellation. Exactly one
// poll occurs per interval, the full interval is slept between polls, and
// polling stops the instant a terminal status is observed.
//
// Failed and TimedOut are distinct: a failed job surfaces the remote error
// detail; a timeout surfaces only the attempt count. Neither is retried
// here — retrying is the caller's decision.
func RunJob(ctx context.Context, submit SubmitFunc, poll PollFunc, opts Options) (*Job, error) {
	opts = opts.withDefaults()

	id, err := submit(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.NewError(core.KindCancelled, "transcription cancelled during submit", err)
		}
		return nil, core.NewError(core.KindTranscriptionFailed, "failed to submit transcription job: "+err.Error(), err)
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		// Cancellation-aware wait for the full interval.
		select {
		case <-ctx.Done():
			return nil, core.NewError(core.KindCancelled, "transcription cancelled while polling", ctx.Err())
		case <-time.After(opts.PollInterval):
		}

		job, err := poll(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, core.NewError(core.KindCancelled, "transcription cancelled while polling", err)
			}
			// Transient poll failures count against the attempt budget but
			// do not abort a job the service may still complete.
			lastErr = err
			continue
		}

		switch {
		case job.Status == StatusCompleted:
			return job, nil
		case job.Status == StatusFailed:
			return nil, core.NewError(core.KindTranscriptionFailed, job.ErrorDetail, nil)
		}
	}

	msg := fmt.Sprintf("transcription timed out after %d polls", opts.MaxAttempts)
	return nil, core.NewError(core.KindTranscriptionTimeout, msg, lastErr)
}
