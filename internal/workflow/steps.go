package workflow

import (
	"fmt"

	"draftflow/internal/artifact"
)

// Step identifies one wizard step by index.
type Step int

const (
	StepUpload Step = iota
	StepAnalysis
	StepEvaluation
	StepConcept
	StepStructure
	StepDraft
	stepCount
)

var stepLabels = [...]string{
	StepUpload:     "upload",
	StepAnalysis:   "analysis",
	StepEvaluation: "evaluation",
	StepConcept:    "concept",
	StepStructure:  "structure",
	StepDraft:      "draft",
}

func (s Step) String() string {
	if s < 0 || s >= stepCount {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepLabels[s]
}

// StepCount returns the number of wizard steps.
func StepCount() int { return int(stepCount) }

// stepArtifact maps each step to the artifact whose completion gates it.
// Completion is always derived from the artifact snapshot; there is no
// separately tracked "done" flag to drift out of sync.
var stepArtifact = [...]string{
	StepUpload:     artifact.NameSource,
	StepAnalysis:   artifact.NameAnalysis,
	StepEvaluation: artifact.NameEvaluation,
	StepConcept:    artifact.NameConcept,
	StepStructure:  artifact.NameStructure,
	StepDraft:      artifact.NameDraftFeedback,
}

// stepDone is the completion predicate for a single step: a pure function
// of one artifact snapshot, evaluated on demand, never cached.
func stepDone(step Step, snap map[string]artifact.Artifact) bool {
	if step < 0 || step >= stepCount {
		return false
	}
	a, ok := snap[stepArtifact[step]]
	return ok && a.Status == artifact.StatusCompleted
}

// Completion is the derived step state handed to the UI layer.
type Completion struct {
	Done   []bool   `json:"done"`
	Labels []string `json:"labels"`
	Active Step     `json:"active"`
}

// EvaluateSteps computes per-step completion and the active step from a
// single artifact snapshot.
func EvaluateSteps(w Workflow) Completion {
	snap := w.Snapshot()
	done := make([]bool, stepCount)
	labels := make([]string, stepCount)
	for s := Step(0); s < stepCount; s++ {
		done[s] = stepDone(s, snap)
		labels[s] = s.String()
	}
	active := Step(w.CurrentStep)
	if active < 0 {
		active = 0
	}
	if active >= stepCount {
		active = stepCount - 1
	}
	return Completion{Done: done, Labels: labels, Active: active}
}

// CanAdvance reports whether the active step's predicate holds.
func CanAdvance(w Workflow) bool {
	c := EvaluateSteps(w)
	return c.Done[c.Active]
}

// Advance moves the workflow one step forward. It fails when the active
// step's completion predicate is false or the workflow is on the last step.
func Advance(w Workflow) (Workflow, error) {
	if !CanAdvance(w) {
		return w, fmt.Errorf("step %s is not complete", Step(w.CurrentStep))
	}
	if w.CurrentStep >= int(stepCount)-1 {
		return w, fmt.Errorf("already on the last step")
	}
	w.CurrentStep++
	if w.Status == StatusDraft {
		w.Status = StatusInProgress
	}
	return w, nil
}

// Retreat moves the workflow one step back. Always permitted.
func Retreat(w Workflow) Workflow {
	if w.CurrentStep > 0 {
		w.CurrentStep--
	}
	return w
}

// Finish marks the workflow completed. This is an explicit user action; it
// is never inferred from artifact state alone, but it does require the
// terminal step's artifact to be completed.
func Finish(w Workflow) (Workflow, error) {
	snap := w.Snapshot()
	if !stepDone(StepDraft, snap) {
		return w, fmt.Errorf("terminal artifact %s is not completed", artifact.NameDraftFeedback)
	}
	w.Status = StatusCompleted
	return w, nil
}
