// Package wizard is the caller-facing surface of the content wizard. It
// ties the dependency graph, the artifact repository, the job orchestrator
// and the step machine together, and owns the invalidation engine: every
// user edit is applied invalidation-first, before any job can launch.
package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"draftflow/internal/apperr"
	"draftflow/internal/artifact"
	"draftflow/internal/jobs"
	"draftflow/internal/repo"
	"draftflow/internal/store"
	"draftflow/internal/workflow"
)

// Service orchestrates one wizard per workflow.
type Service struct {
	repo  *repo.Repository
	orch  *jobs.Orchestrator
	graph *workflow.Graph
}

func New(r *repo.Repository, orch *jobs.Orchestrator) *Service {
	return &Service{repo: r, orch: orch, graph: workflow.DefaultGraph()}
}

// ---------------------------------------------------------------------------
// workflow lifecycle
// ---------------------------------------------------------------------------

func (s *Service) CreateWorkflow(ctx context.Context, ownerID, code string) (workflow.Workflow, error) {
	wf, err := workflow.New(ownerID, code)
	if err != nil {
		return workflow.Workflow{}, err
	}
	if err := s.repo.PutWorkflow(ctx, wf); err != nil {
		return workflow.Workflow{}, err
	}
	return wf, nil
}

func (s *Service) GetWorkflow(ctx context.Context, workflowID string) (workflow.Workflow, error) {
	return s.repo.GetWorkflow(ctx, workflowID)
}

func (s *Service) ListWorkflows(ctx context.Context, ownerID string) ([]workflow.Summary, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

func (s *Service) DeleteWorkflow(ctx context.Context, workflowID string) error {
	for _, name := range artifact.Names() {
		s.orch.Cancel(workflowID, name)
	}
	return s.repo.DeleteWorkflow(ctx, workflowID)
}

// ---------------------------------------------------------------------------
// invalidation engine
// ---------------------------------------------------------------------------

// ClearSet returns the artifacts an edit to node would clear, in
// deterministic topological order. Exposed for the UI's "this will discard…"
// confirmation.
func (s *Service) ClearSet(node string) []string {
	return s.graph.Downstream(node)
}

// invalidate clears every named artifact: the in-flight job for the pair is
// cancelled first (bumping the generation so a late completion is
// discarded), then the cache entry and durable record are cleared. Inputs
// survive the clear so regeneration needs no re-entry; custom sub-items
// survive via the artifact's inputs as well.
func (s *Service) invalidate(ctx context.Context, workflowID string, names []string) {
	for _, name := range names {
		s.orch.Cancel(workflowID, name)

		prev, err := s.repo.GetArtifact(ctx, workflowID, name)
		if err != nil || len(prev.Inputs) == 0 {
			if err := s.repo.DeleteArtifact(ctx, workflowID, name); err != nil {
				log.Printf("wizard: clear %s/%s: %v", workflowID, name, err)
			}
			continue
		}
		if err := s.repo.PutArtifact(ctx, workflowID, prev.Cleared()); err != nil {
			log.Printf("wizard: clear %s/%s: %v", workflowID, name, err)
		}
	}
}

// OnInputChanged applies a user's input edit. The owning artifact keeps the
// value; everything downstream of the input is cleared synchronously before
// this returns, so no job can launch between the edit and its invalidation.
func (s *Service) OnInputChanged(ctx context.Context, workflowID, inputName, value string) error {
	inputName = strings.TrimSpace(inputName)
	owner, ok := inputOwner[inputName]
	if !ok {
		return fmt.Errorf("unknown input %q", inputName)
	}

	s.invalidate(ctx, workflowID, s.graph.Downstream(inputName))

	art, err := s.repo.GetArtifact(ctx, workflowID, owner)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		art = artifact.Artifact{Name: owner, Status: artifact.StatusAbsent}
	}
	if err := s.repo.PutArtifact(ctx, workflowID, art.SetInput(inputName, value)); err != nil {
		// The input itself is retained in cache; the durable write retries.
		log.Printf("wizard: input write %s/%s deferred: %v", workflowID, owner, err)
	}
	return nil
}

// inputOwner maps each editable input to the artifact that carries it.
var inputOwner = map[string]string{
	artifact.InputSourceDocument:       artifact.NameSource,
	artifact.InputEvaluationSelections: artifact.NameEvaluation,
	artifact.InputStructureSelections:  artifact.NameStructure,
}

// EditPatch is a user edit against an existing artifact.
type EditPatch struct {
	// Inputs replaces selection/comment values on the artifact.
	Inputs map[string]string `json:"inputs,omitempty"`
	// AddSection appends a user-authored custom section (structure only).
	// Custom sections are exempt from invalidation.
	AddSection *artifact.Section `json:"add_section,omitempty"`
}

// OnArtifactEditRequested applies a patch to an artifact. An input patch is
// an explicit invalidation: the artifact itself and everything downstream
// are cleared. Adding a custom section is exempt and clears nothing.
func (s *Service) OnArtifactEditRequested(ctx context.Context, workflowID, artifactName string, patch EditPatch) error {
	artifactName = strings.TrimSpace(artifactName)
	if !artifact.KnownName(artifactName) {
		return fmt.Errorf("unknown artifact %q", artifactName)
	}

	if patch.AddSection != nil {
		if artifactName != artifact.NameStructure {
			return fmt.Errorf("custom sections only apply to %s", artifact.NameStructure)
		}
		return s.addCustomSection(ctx, workflowID, *patch.AddSection)
	}

	if len(patch.Inputs) == 0 {
		return fmt.Errorf("empty patch")
	}

	// Explicit edit: the edited artifact joins its own clear-set.
	s.invalidate(ctx, workflowID, append([]string{artifactName}, s.graph.Downstream(artifactName)...))

	art, err := s.repo.GetArtifact(ctx, workflowID, artifactName)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		art = artifact.Artifact{Name: artifactName, Status: artifact.StatusAbsent}
	}
	for k, v := range patch.Inputs {
		art = art.SetInput(k, v)
	}
	if err := s.repo.PutArtifact(ctx, workflowID, art); err != nil {
		log.Printf("wizard: edit write %s/%s deferred: %v", workflowID, artifactName, err)
	}
	return nil
}

// UploadSource replaces the source document. Everything derived from it is
// cleared first, then the new source is recorded as a completed artifact.
func (s *Service) UploadSource(ctx context.Context, workflowID string, document json.RawMessage) error {
	if len(document) == 0 {
		return apperr.New(apperr.KindValidation, "source document is empty")
	}
	s.invalidate(ctx, workflowID, s.graph.Downstream(artifact.InputSourceDocument))

	prev, err := s.repo.GetArtifact(ctx, workflowID, artifact.NameSource)
	if err != nil {
		prev = artifact.Artifact{Name: artifact.NameSource}
	}
	art := prev.Completed(document, time.Now().UTC())
	if err := s.repo.PutArtifact(ctx, workflowID, art); err != nil {
		log.Printf("wizard: source write %s deferred: %v", workflowID, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// generation
// ---------------------------------------------------------------------------

// GenerateOptions tunes a generation request.
type GenerateOptions struct {
	// Supersede cancels a processing job for the same artifact instead of
	// failing with ConflictingJob.
	Supersede bool
}

// Generate validates preconditions and launches the job for an artifact.
// Downstream artifacts are cleared before launch: a regenerated artifact
// stales everything derived from it, and that clear must land before any
// new job can observe the old state.
func (s *Service) Generate(ctx context.Context, workflowID, artifactName string, opts GenerateOptions) (*jobs.Handle, error) {
	artifactName = strings.TrimSpace(artifactName)
	spec, ok := generationSpecs[artifactName]
	if !ok {
		return nil, apperr.New(apperr.KindValidation, "artifact %q is not generable", artifactName)
	}

	wf, err := s.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	for _, required := range spec.requires {
		if wf.Artifact(required).Status != artifact.StatusCompleted {
			return nil, apperr.New(apperr.KindValidation,
				"%s requires a completed %s", artifactName, required)
		}
	}

	s.invalidate(ctx, workflowID, s.graph.Downstream(artifactName))

	stages, err := spec.buildStages(wf)
	if err != nil {
		return nil, err
	}
	launchOpts := jobs.LaunchOptions{Supersede: opts.Supersede}
	if artifactName == artifact.NameStructure {
		launchOpts.Finalize = s.structureFinalizer(workflowID)
	}
	if len(stages) == 1 {
		return s.orch.Launch(ctx, workflowID, artifactName, stages[0].Request, launchOpts)
	}
	return s.orch.LaunchSequence(ctx, workflowID, artifactName, stages, launchOpts)
}

// Retry resumes polling a timed-out generation on its recorded job
// reference. Upstream preconditions are not re-validated: the launch
// already validated them and the upstream job is still the same one.
func (s *Service) Retry(ctx context.Context, workflowID, artifactName string) (*jobs.Handle, error) {
	return s.orch.Resume(ctx, workflowID, artifactName)
}

// JobStatus reports the active job handle for an artifact, if any.
func (s *Service) JobStatus(workflowID, artifactName string) (*jobs.Handle, bool) {
	return s.orch.Active(workflowID, artifactName)
}

// ---------------------------------------------------------------------------
// custom sections
// ---------------------------------------------------------------------------

const customSectionsInput = "custom_sections"

// addCustomSection records a user-authored section in the structure
// artifact's inputs (where it survives invalidation) and, when the
// structure is currently completed, splices it into the live payload.
func (s *Service) addCustomSection(ctx context.Context, workflowID string, sec artifact.Section) error {
	if strings.TrimSpace(sec.Title) == "" {
		return apperr.New(apperr.KindValidation, "custom section title is required")
	}
	if strings.TrimSpace(sec.ID) == "" {
		sec = artifact.NewCustomSection(sec.Title, sec.Body, sec.AnchorID)
	}
	sec.IsCustom = true

	art, err := s.repo.GetArtifact(ctx, workflowID, artifact.NameStructure)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		art = artifact.Artifact{Name: artifact.NameStructure, Status: artifact.StatusAbsent}
	}

	customs, err := decodeCustomSections(art)
	if err != nil {
		return err
	}
	customs = append(customs, sec)
	raw, err := json.Marshal(customs)
	if err != nil {
		return fmt.Errorf("encode custom sections: %w", err)
	}
	art = art.SetInput(customSectionsInput, string(raw))

	if art.Status == artifact.StatusCompleted {
		payload, err := artifact.DecodeStructure(art.Payload)
		if err != nil {
			return err
		}
		merged := artifact.MergeCustomSections(
			artifact.StructurePayload{Sections: []artifact.Section{sec}}, payload)
		encoded, err := artifact.EncodeStructure(merged)
		if err != nil {
			return err
		}
		art.Payload = encoded
	}
	return s.repo.PutArtifact(ctx, workflowID, art)
}

func decodeCustomSections(art artifact.Artifact) ([]artifact.Section, error) {
	raw := art.Inputs[customSectionsInput]
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var customs []artifact.Section
	if err := json.Unmarshal([]byte(raw), &customs); err != nil {
		return nil, fmt.Errorf("decode custom sections: %w", err)
	}
	return customs, nil
}

// structureFinalizer re-attaches surviving custom sections to a freshly
// generated structure payload by stable id.
func (s *Service) structureFinalizer(workflowID string) func(context.Context, []byte) ([]byte, error) {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		art, err := s.repo.GetArtifact(ctx, workflowID, artifact.NameStructure)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		customs, err := decodeCustomSections(art)
		if err != nil {
			return nil, err
		}
		if len(customs) == 0 {
			return payload, nil
		}
		generated, err := artifact.DecodeStructure(payload)
		if err != nil {
			return nil, err
		}
		merged := artifact.MergeCustomSections(artifact.StructurePayload{Sections: customs}, generated)
		return artifact.EncodeStructure(merged)
	}
}

// ---------------------------------------------------------------------------
// step machine surface
// ---------------------------------------------------------------------------

func (s *Service) StepCompletion(ctx context.Context, workflowID string) (workflow.Completion, error) {
	wf, err := s.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return workflow.Completion{}, err
	}
	return workflow.EvaluateSteps(wf), nil
}

func (s *Service) CanAdvance(ctx context.Context, workflowID string) (bool, error) {
	wf, err := s.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return false, err
	}
	return workflow.CanAdvance(wf), nil
}

func (s *Service) Advance(ctx context.Context, workflowID string) (workflow.Workflow, error) {
	wf, err := s.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return workflow.Workflow{}, err
	}
	next, err := workflow.Advance(wf)
	if err != nil {
		return workflow.Workflow{}, apperr.Wrap(apperr.KindValidation, err, "advance %s", workflowID)
	}
	if err := s.repo.PutWorkflow(ctx, next); err != nil {
		return workflow.Workflow{}, err
	}
	return next, nil
}

func (s *Service) Retreat(ctx context.Context, workflowID string) (workflow.Workflow, error) {
	wf, err := s.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return workflow.Workflow{}, err
	}
	next := workflow.Retreat(wf)
	if err := s.repo.PutWorkflow(ctx, next); err != nil {
		return workflow.Workflow{}, err
	}
	return next, nil
}

// Finish marks the workflow completed; an explicit user action, only legal
// once the terminal artifact is completed.
func (s *Service) Finish(ctx context.Context, workflowID string) (workflow.Workflow, error) {
	wf, err := s.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return workflow.Workflow{}, err
	}
	next, err := workflow.Finish(wf)
	if err != nil {
		return workflow.Workflow{}, apperr.Wrap(apperr.KindValidation, err, "finish %s", workflowID)
	}
	if err := s.repo.PutWorkflow(ctx, next); err != nil {
		return workflow.Workflow{}, err
	}
	return next, nil
}
