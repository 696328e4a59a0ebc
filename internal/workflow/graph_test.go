package workflow

import (
	"reflect"
	"testing"

	"draftflow/internal/artifact"
)

func TestDownstreamFromSource(t *testing.T) {
	g := DefaultGraph()

	got := g.Downstream(artifact.NameSource)
	want := []string{
		artifact.NameAnalysis,
		artifact.NameEvaluation,
		artifact.NameConcept,
		artifact.NameStructure,
		artifact.NameDraftFeedback,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Downstream(source) = %v, want %v", got, want)
	}
	for _, name := range got {
		if name == artifact.NameRetrieval {
			t.Fatalf("retrieval must not be downstream of source")
		}
	}
}

func TestDownstreamFromSourceDocumentInput(t *testing.T) {
	g := DefaultGraph()

	got := g.Downstream(artifact.InputSourceDocument)
	want := []string{
		artifact.NameAnalysis,
		artifact.NameEvaluation,
		artifact.NameConcept,
		artifact.NameStructure,
		artifact.NameDraftFeedback,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Downstream(source_document) = %v, want %v", got, want)
	}
}

func TestDownstreamFromEvaluationSelections(t *testing.T) {
	g := DefaultGraph()

	got := g.Downstream(artifact.InputEvaluationSelections)
	want := []string{
		artifact.NameConcept,
		artifact.NameStructure,
		artifact.NameDraftFeedback,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Downstream(evaluation_selections) = %v, want %v", got, want)
	}
	for _, name := range got {
		if name == artifact.NameAnalysis || name == artifact.NameEvaluation {
			t.Fatalf("editing selections must not clear %s", name)
		}
	}
}

func TestDownstreamFromStructure(t *testing.T) {
	g := DefaultGraph()

	got := g.Downstream(artifact.NameStructure)
	want := []string{artifact.NameDraftFeedback}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Downstream(structure) = %v, want %v", got, want)
	}
}

func TestDownstreamFromRetrieval(t *testing.T) {
	g := DefaultGraph()

	got := g.Downstream(artifact.NameRetrieval)
	want := []string{artifact.NameStructure, artifact.NameDraftFeedback}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Downstream(retrieval) = %v, want %v", got, want)
	}
}

func TestDownstreamOfLeafIsEmpty(t *testing.T) {
	g := DefaultGraph()
	if got := g.Downstream(artifact.NameDraftFeedback); len(got) != 0 {
		t.Fatalf("Downstream(draftfeedback) = %v, want empty", got)
	}
}

func TestDownstreamUnknownNode(t *testing.T) {
	g := DefaultGraph()
	if got := g.Downstream("nope"); len(got) != 0 {
		t.Fatalf("Downstream(nope) = %v, want empty", got)
	}
}

func TestNewGraphRejectsCycle(t *testing.T) {
	_, err := NewGraph([]Edge{
		{From: artifact.NameAnalysis, To: artifact.NameEvaluation},
		{From: artifact.NameEvaluation, To: artifact.NameConcept},
		{From: artifact.NameConcept, To: artifact.NameAnalysis},
	})
	if err == nil {
		t.Fatalf("expected cycle error")
	}
}

func TestNewGraphRejectsUnknownTarget(t *testing.T) {
	_, err := NewGraph([]Edge{
		{From: artifact.NameSource, To: "mystery"},
	})
	if err == nil {
		t.Fatalf("expected unknown-target error")
	}
}

func TestKnows(t *testing.T) {
	g := DefaultGraph()
	if !g.Knows(artifact.InputEvaluationSelections) {
		t.Fatalf("expected graph to know input node")
	}
	if !g.Knows(artifact.NameConcept) {
		t.Fatalf("expected graph to know artifact node")
	}
	if g.Knows("mystery") {
		t.Fatalf("did not expect graph to know unknown node")
	}
}
