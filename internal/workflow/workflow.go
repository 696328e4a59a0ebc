package workflow

import (
	"fmt"
	"strings"
	"time"

	"draftflow/internal/artifact"

	"github.com/google/uuid"
)

// Status is the lifecycle of a whole workflow.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusCompleted  Status = "completed"
	StatusArchived   Status = "archived"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusReview, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// Workflow is one proposal or newsletter instance. Artifacts are keyed by
// canonical name; an artifact missing from the map is absent.
type Workflow struct {
	ID          string                       `json:"id"`
	Code        string                       `json:"code"`
	OwnerID     string                       `json:"owner_id"`
	Status      Status                       `json:"status"`
	CurrentStep int                          `json:"current_step"`
	Artifacts   map[string]artifact.Artifact `json:"artifacts"`
	CreatedAt   time.Time                    `json:"created_at"`
	UpdatedAt   time.Time                    `json:"updated_at"`
}

// Summary is the shape returned by owner listings.
type Summary struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Status      Status    `json:"status"`
	CurrentStep int       `json:"current_step"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// New creates an empty workflow owned by ownerID.
func New(ownerID, code string) (Workflow, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Workflow{}, fmt.Errorf("owner_id is required")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		code = "draft"
	}
	now := time.Now().UTC()
	return Workflow{
		ID:          uuid.NewString(),
		Code:        code,
		OwnerID:     ownerID,
		Status:      StatusDraft,
		CurrentStep: 0,
		Artifacts:   make(map[string]artifact.Artifact),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Artifact returns the named artifact, or an absent placeholder.
func (w Workflow) Artifact(name string) artifact.Artifact {
	if a, ok := w.Artifacts[name]; ok {
		return a
	}
	return artifact.Artifact{Name: name, Status: artifact.StatusAbsent}
}

// Snapshot returns a copy of the artifact map so predicate evaluation never
// observes a half-applied mutation.
func (w Workflow) Snapshot() map[string]artifact.Artifact {
	out := make(map[string]artifact.Artifact, len(w.Artifacts))
	for k, v := range w.Artifacts {
		out[k] = v
	}
	return out
}

// Summarize reduces w to its listing shape.
func (w Workflow) Summarize() Summary {
	return Summary{
		ID:          w.ID,
		Code:        w.Code,
		Status:      w.Status,
		CurrentStep: w.CurrentStep,
		UpdatedAt:   w.UpdatedAt,
	}
}
