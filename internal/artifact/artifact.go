package artifact

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the generation lifecycle of a single artifact.
type Status string

const (
	StatusAbsent     Status = "absent"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAbsent, StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a resting state (no job in flight).
func (s Status) Terminal() bool {
	return s == StatusAbsent || s == StatusCompleted || s == StatusFailed
}

// Canonical artifact names. The dependency graph and the step machine both
// key on these, so they live here rather than in either consumer.
const (
	NameSource        = "source"
	NameAnalysis      = "analysis"
	NameEvaluation    = "evaluation"
	NameConcept       = "concept"
	NameRetrieval     = "retrieval"
	NameStructure     = "structure"
	NameDraftFeedback = "draftfeedback"
)

// Input names. Inputs are user-edited values that artifacts derive from;
// they are graph nodes but never carry generated payloads themselves.
const (
	InputSourceDocument       = "source_document"
	InputEvaluationSelections = "evaluation_selections"
	InputStructureSelections  = "structure_selections"
)

// Names lists every artifact name in pipeline order.
func Names() []string {
	return []string{
		NameSource,
		NameAnalysis,
		NameEvaluation,
		NameConcept,
		NameRetrieval,
		NameStructure,
		NameDraftFeedback,
	}
}

// KnownName reports whether name is a canonical artifact name.
func KnownName(name string) bool {
	name = strings.TrimSpace(name)
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Artifact is one named unit of generated or user-entered content attached
// to a workflow. Inputs are part of the artifact's identity for invalidation:
// editing them clears everything derived from this artifact.
type Artifact struct {
	Name        string            `json:"name"`
	Status      Status            `json:"status"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	Inputs      map[string]string `json:"inputs,omitempty"`
	GeneratedAt time.Time         `json:"generated_at,omitzero"`
	Error       string            `json:"error,omitempty"`
}

// Cleared returns a copy of a reduced to the absent state. Inputs survive a
// clear: re-running generation must not require the user to re-enter them.
func (a Artifact) Cleared() Artifact {
	return Artifact{Name: a.Name, Status: StatusAbsent, Inputs: a.Inputs}
}

// Completed returns a copy of a carrying payload in the completed state.
func (a Artifact) Completed(payload json.RawMessage, at time.Time) Artifact {
	return Artifact{
		Name:        a.Name,
		Status:      StatusCompleted,
		Payload:     append(json.RawMessage(nil), payload...),
		Inputs:      a.Inputs,
		GeneratedAt: at,
	}
}

// Failed returns a copy of a in the failed state with the upstream detail.
func (a Artifact) Failed(detail string) Artifact {
	return Artifact{Name: a.Name, Status: StatusFailed, Inputs: a.Inputs, Error: detail}
}

// SetInput returns a copy of a with one input value replaced.
func (a Artifact) SetInput(key, value string) Artifact {
	inputs := make(map[string]string, len(a.Inputs)+1)
	for k, v := range a.Inputs {
		inputs[k] = v
	}
	inputs[strings.TrimSpace(key)] = value
	a.Inputs = inputs
	return a
}
