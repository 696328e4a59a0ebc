package wizard

import (
	"encoding/json"
	"fmt"

	"draftflow/internal/artifact"
	"draftflow/internal/genai"
	"draftflow/internal/jobs"
	"draftflow/internal/workflow"
)

// generationSpec declares how one artifact is produced: which upstream
// artifacts must be completed before launch, and the stage sequence.
type generationSpec struct {
	requires    []string
	buildStages func(wf workflow.Workflow) ([]jobs.Stage, error)
}

var generationSpecs = map[string]generationSpec{
	artifact.NameAnalysis: {
		requires:    []string{artifact.NameSource},
		buildStages: analysisStages,
	},
	artifact.NameEvaluation: {
		requires:    []string{artifact.NameAnalysis},
		buildStages: singleStage(artifact.NameEvaluation, promptEvaluation, artifact.NameAnalysis),
	},
	artifact.NameConcept: {
		requires:    []string{artifact.NameEvaluation},
		buildStages: conceptStages,
	},
	artifact.NameRetrieval: {
		// Retrieval derives from its own query inputs, not from upstream
		// artifacts; it has no completion preconditions.
		buildStages: retrievalStages,
	},
	artifact.NameStructure: {
		requires:    []string{artifact.NameConcept, artifact.NameRetrieval},
		buildStages: singleStage(artifact.NameStructure, promptStructure, artifact.NameConcept, artifact.NameRetrieval),
	},
	artifact.NameDraftFeedback: {
		requires:    []string{artifact.NameStructure},
		buildStages: singleStage(artifact.NameDraftFeedback, promptDraftFeedback, artifact.NameStructure),
	},
}

// analysisStages is the one multi-stage sequence: extract themes, assess
// them, then summarize. The composite analysis artifact completes only when
// the final stage succeeds.
func analysisStages(wf workflow.Workflow) ([]jobs.Stage, error) {
	input, err := stageInput(wf, artifact.NameSource)
	if err != nil {
		return nil, err
	}
	return []jobs.Stage{
		{Name: "extract", Request: genai.Request{Prompt: promptAnalysisExtract, Input: input, Stage: "extract"}},
		{Name: "assess", Request: genai.Request{Prompt: promptAnalysisAssess, Input: input, Stage: "assess"}},
		{Name: "summarize", Request: genai.Request{Prompt: promptAnalysisSummarize, Input: input, Stage: "summarize"}},
	}, nil
}

func conceptStages(wf workflow.Workflow) ([]jobs.Stage, error) {
	input, err := stageInput(wf, artifact.NameEvaluation)
	if err != nil {
		return nil, err
	}
	// Selections and comments steer the concept document; they ride along
	// as part of the request input.
	eval := wf.Artifact(artifact.NameEvaluation)
	if sel, ok := eval.Inputs[artifact.InputEvaluationSelections]; ok {
		input = mergeInput(input, "selections", sel)
	}
	return []jobs.Stage{{
		Name:    artifact.NameConcept,
		Request: genai.Request{Prompt: promptConcept, Input: input},
	}}, nil
}

func retrievalStages(wf workflow.Workflow) ([]jobs.Stage, error) {
	query := wf.Artifact(artifact.NameRetrieval).Inputs["query"]
	if query == "" {
		// Fall back to the concept title when present; an empty query is
		// still a valid broad retrieval.
		query = wf.Artifact(artifact.NameConcept).Inputs["title"]
	}
	raw, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	return []jobs.Stage{{
		Name:    artifact.NameRetrieval,
		Request: genai.Request{Input: raw},
	}}, nil
}

// singleStage builds a one-stage sequence whose input bundles the payloads
// of the named upstream artifacts.
func singleStage(name, prompt string, upstream ...string) func(workflow.Workflow) ([]jobs.Stage, error) {
	return func(wf workflow.Workflow) ([]jobs.Stage, error) {
		input, err := stageInput(wf, upstream...)
		if err != nil {
			return nil, err
		}
		return []jobs.Stage{{
			Name:    name,
			Request: genai.Request{Prompt: prompt, Input: input},
		}}, nil
	}
}

func stageInput(wf workflow.Workflow, upstream ...string) (json.RawMessage, error) {
	bundle := make(map[string]json.RawMessage, len(upstream))
	for _, name := range upstream {
		art := wf.Artifact(name)
		if len(art.Payload) == 0 {
			return nil, fmt.Errorf("upstream %s has no payload", name)
		}
		bundle[name] = art.Payload
	}
	raw, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("encode stage input: %w", err)
	}
	return raw, nil
}

func mergeInput(input json.RawMessage, key, value string) json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(input, &m); err != nil {
		return input
	}
	enc, err := json.Marshal(value)
	if err != nil {
		return input
	}
	m[key] = enc
	out, err := json.Marshal(m)
	if err != nil {
		return input
	}
	return out
}

const (
	promptAnalysisExtract = `Extract the central themes, claims and supporting evidence from the source document. Respond as JSON: {"themes":[{"title":"","evidence":[""]}]}.`

	promptAnalysisAssess = `Assess the extracted themes of the source document for relevance and strength. Respond as JSON: {"assessments":[{"theme":"","relevance":0.0,"notes":""}]}.`

	promptAnalysisSummarize = `Summarize the source document analysis into key findings. Respond as JSON: {"themes":[""],"summary":""}.`

	promptEvaluation = `From the analysis, propose candidate concepts with a suitability score each. Respond as JSON: {"concepts":[{"title":"","rationale":"","score":0.0}]}.`

	promptConcept = `Write a concept document for the selected concepts, honoring the user's selections and comments. Respond as JSON: {"title":"","body":""}.`

	promptStructure = `Produce a section outline for the concept document, informed by the retrieved source material. Respond as JSON: {"sections":[{"id":"","title":"","body":""}]}.`

	promptDraftFeedback = `Review the outline as a draft and produce actionable feedback notes. Respond as JSON: {"notes":[""]}.`
)
