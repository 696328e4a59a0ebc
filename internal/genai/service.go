// Package genai holds the clients for the external generation and
// content-retrieval collaborators. Both expose the same start/poll shape so
// the job orchestrator never special-cases either.
package genai

import (
	"context"
	"encoding/json"
)

// StartStatus is the acknowledgment of a launch.
type StartStatus string

const (
	StartStarted   StartStatus = "started"
	StartCompleted StartStatus = "completed" // fast path: result inline, no polling
)

// PollStatus is one poll response state.
type PollStatus string

const (
	PollProcessing PollStatus = "processing"
	PollCompleted  PollStatus = "completed"
	PollFailed     PollStatus = "failed"
)

// Request is the opaque generation request for one artifact.
type Request struct {
	Prompt string          `json:"prompt,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Stage  string          `json:"stage,omitempty"`
}

// StartResult acknowledges a launch. JobRef identifies the upstream job for
// polling; Payload is only set on the inline-completed fast path.
type StartResult struct {
	Status  StartStatus
	JobRef  string
	Payload json.RawMessage
}

// PollResult is one status query answer.
type PollResult struct {
	Status    PollStatus
	Payload   json.RawMessage
	ErrDetail string
}

// Service is the external generation collaborator boundary.
type Service interface {
	Start(ctx context.Context, workflowID, artifactName string, req Request) (StartResult, error)
	Poll(ctx context.Context, jobRef string) (PollResult, error)
}
