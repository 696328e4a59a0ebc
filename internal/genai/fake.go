package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"draftflow/internal/artifact"
)

// FakeService returns deterministic canned payloads per artifact for
// offline runs and tests. Poll behavior is scriptable: a job answers
// "processing" PendingPolls times before turning terminal.
type FakeService struct {
	mu sync.Mutex

	// PendingPolls is how many processing answers each job gives before
	// completing. Zero means the first poll completes.
	PendingPolls int
	// FailArtifacts marks artifact names whose jobs terminate failed.
	FailArtifacts map[string]string
	// NeverFinish marks artifact names whose jobs poll processing forever.
	NeverFinish map[string]bool
	// Payloads overrides the canned payload per artifact name.
	Payloads map[string]json.RawMessage

	jobs       map[string]*fakeJob
	seq        int
	startCalls int
	pollCalls  int
}

type fakeJob struct {
	artifactName string
	pollsLeft    int
}

func NewFakeService() *FakeService {
	return &FakeService{
		FailArtifacts: make(map[string]string),
		NeverFinish:   make(map[string]bool),
		Payloads:      make(map[string]json.RawMessage),
		jobs:          make(map[string]*fakeJob),
	}
}

func (f *FakeService) Start(_ context.Context, workflowID, artifactName string, _ Request) (StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	f.seq++
	ref := fmt.Sprintf("fake-%s-%d", artifactName, f.seq)
	f.jobs[ref] = &fakeJob{artifactName: artifactName, pollsLeft: f.PendingPolls}
	return StartResult{Status: StartStarted, JobRef: ref}, nil
}

func (f *FakeService) Poll(_ context.Context, jobRef string) (PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	job, ok := f.jobs[strings.TrimSpace(jobRef)]
	if !ok {
		return PollResult{}, fmt.Errorf("unknown job ref %s", jobRef)
	}
	if f.NeverFinish[job.artifactName] {
		return PollResult{Status: PollProcessing}, nil
	}
	if job.pollsLeft > 0 {
		job.pollsLeft--
		return PollResult{Status: PollProcessing}, nil
	}
	if detail, failed := f.FailArtifacts[job.artifactName]; failed {
		return PollResult{Status: PollFailed, ErrDetail: detail}, nil
	}
	return PollResult{Status: PollCompleted, Payload: f.payloadFor(job.artifactName)}, nil
}

func (f *FakeService) payloadFor(name string) json.RawMessage {
	if p, ok := f.Payloads[name]; ok {
		return append(json.RawMessage(nil), p...)
	}
	switch name {
	case artifact.NameAnalysis:
		return json.RawMessage(`{"themes":["fake theme"],"summary":"fake analysis"}`)
	case artifact.NameEvaluation:
		return json.RawMessage(`{"concepts":[{"title":"fake concept","score":0.8}]}`)
	case artifact.NameConcept:
		return json.RawMessage(`{"title":"fake concept document","body":"fake body"}`)
	case artifact.NameRetrieval:
		return json.RawMessage(`{"sources":[{"title":"fake source","url":"https://example.test"}]}`)
	case artifact.NameStructure:
		return json.RawMessage(`{"sections":[{"id":"gen-1","title":"Intro"},{"id":"gen-2","title":"Body"}]}`)
	case artifact.NameDraftFeedback:
		return json.RawMessage(`{"notes":["fake feedback"]}`)
	}
	return json.RawMessage(fmt.Sprintf(`{"artifact":%q,"fake":true}`, name))
}

// StartCalls reports how many launches were issued.
func (f *FakeService) StartCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls
}

// PollCalls reports how many polls were answered.
func (f *FakeService) PollCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCalls
}
