package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"draftflow/internal/apperr"
	"draftflow/internal/artifact"
	"draftflow/internal/genai"
	"draftflow/internal/repo"
	"draftflow/internal/store"
	"draftflow/internal/workflow"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestOrchestrator(t *testing.T, fake *genai.FakeService, cfg Config) (*Orchestrator, *repo.Repository, workflow.Workflow, *eventLog) {
	t.Helper()
	r := repo.New(store.NewMemoryStore(), nil, repo.CacheConfig{})
	wf, err := workflow.New("owner-1", "proposal")
	if err != nil {
		t.Fatalf("workflow.New: %v", err)
	}
	if err := r.PutWorkflow(context.Background(), wf); err != nil {
		t.Fatalf("seed workflow: %v", err)
	}
	log := &eventLog{}
	router := func(string) genai.Service { return fake }
	return NewOrchestrator(r, router, cfg, log.record), r, wf, log
}

func fastConfig() Config {
	return Config{PollInterval: 2 * time.Millisecond, MaxPollAttempts: 50}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestLaunchCompletesAndCommits(t *testing.T) {
	fake := genai.NewFakeService()
	fake.PendingPolls = 2
	o, r, wf, log := newTestOrchestrator(t, fake, fastConfig())

	h, err := o.Launch(context.Background(), wf.ID, artifact.NameAnalysis, genai.Request{Prompt: "analyze"}, LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	payload, err := h.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(payload) == 0 {
		t.Fatalf("expected a payload")
	}

	art, err := r.GetArtifact(context.Background(), wf.ID, artifact.NameAnalysis)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if art.Status != artifact.StatusCompleted {
		t.Fatalf("status = %v, want completed", art.Status)
	}
	if _, active := o.Active(wf.ID, artifact.NameAnalysis); active {
		t.Fatalf("completed job must leave the active table")
	}

	types := log.types()
	if len(types) < 2 || types[0] != EventStarted || types[len(types)-1] != EventCompleted {
		t.Fatalf("event types = %v", types)
	}
}

func TestLaunchConflictWithoutSupersede(t *testing.T) {
	fake := genai.NewFakeService()
	fake.NeverFinish[artifact.NameConcept] = true
	o, _, wf, _ := newTestOrchestrator(t, fake, fastConfig())

	if _, err := o.Launch(context.Background(), wf.ID, artifact.NameConcept, genai.Request{}, LaunchOptions{}); err != nil {
		t.Fatalf("first Launch: %v", err)
	}
	_, err := o.Launch(context.Background(), wf.ID, artifact.NameConcept, genai.Request{}, LaunchOptions{})
	if !errors.Is(err, apperr.ErrConflictingJob) {
		t.Fatalf("err = %v, want conflicting-job kind", err)
	}
	o.Cancel(wf.ID, artifact.NameConcept)
}

func TestSupersedeCancelsRunningJob(t *testing.T) {
	fake := genai.NewFakeService()
	fake.PendingPolls = 20
	cfg := fastConfig()
	cfg.PollInterval = 20 * time.Millisecond
	o, _, wf, _ := newTestOrchestrator(t, fake, cfg)

	h1, err := o.Launch(context.Background(), wf.ID, artifact.NameEvaluation, genai.Request{}, LaunchOptions{})
	if err != nil {
		t.Fatalf("first Launch: %v", err)
	}
	h2, err := o.Launch(context.Background(), wf.ID, artifact.NameEvaluation, genai.Request{}, LaunchOptions{Supersede: true})
	if err != nil {
		t.Fatalf("superseding Launch: %v", err)
	}
	if h2.Generation() <= h1.Generation() {
		t.Fatalf("generation did not advance: %d then %d", h1.Generation(), h2.Generation())
	}

	if _, err := h1.Wait(waitCtx(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("superseded job err = %v, want canceled", err)
	}
	if _, err := h2.Wait(waitCtx(t)); err != nil {
		t.Fatalf("superseding job: %v", err)
	}
}

func TestCancelDiscardsLateCompletion(t *testing.T) {
	fake := genai.NewFakeService()
	fake.PendingPolls = 3
	o, r, wf, _ := newTestOrchestrator(t, fake, fastConfig())

	h, err := o.Launch(context.Background(), wf.ID, artifact.NameStructure, genai.Request{}, LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !o.Cancel(wf.ID, artifact.NameStructure) {
		t.Fatalf("Cancel reported no active job")
	}
	if _, err := h.Wait(waitCtx(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled job err = %v, want canceled", err)
	}

	// Generation was bumped, so even if the upstream job finished its result
	// must never land in the artifact.
	time.Sleep(50 * time.Millisecond)
	art, err := r.GetArtifact(context.Background(), wf.ID, artifact.NameStructure)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if art.Status == artifact.StatusCompleted {
		t.Fatalf("stale completion overwrote a cancelled pair")
	}
	if o.Generation(wf.ID, artifact.NameStructure) != h.Generation()+1 {
		t.Fatalf("generation = %d, want %d", o.Generation(wf.ID, artifact.NameStructure), h.Generation()+1)
	}
}

func TestTimeoutLeavesProcessingAndResumes(t *testing.T) {
	fake := genai.NewFakeService()
	fake.PendingPolls = 3
	cfg := Config{PollInterval: 2 * time.Millisecond, MaxPollAttempts: 2}
	o, r, wf, _ := newTestOrchestrator(t, fake, cfg)

	h, err := o.Launch(context.Background(), wf.ID, artifact.NameRetrieval, genai.Request{}, LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := h.Wait(waitCtx(t)); !errors.Is(err, apperr.ErrTimeout) {
		t.Fatalf("err = %v, want timeout kind", err)
	}

	// The upstream job may still finish, so the artifact is parked processing
	// and the handle stays addressable for a manual resume.
	art, err := r.GetArtifact(context.Background(), wf.ID, artifact.NameRetrieval)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if art.Status != artifact.StatusProcessing {
		t.Fatalf("status after timeout = %v, want processing", art.Status)
	}
	parked, ok := o.Active(wf.ID, artifact.NameRetrieval)
	if !ok || parked.Processing() {
		t.Fatalf("timed-out handle should be parked and resolved")
	}

	// Resume polls the recorded job ref on the same generation.
	resumed, err := o.Resume(context.Background(), wf.ID, artifact.NameRetrieval)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Generation() != h.Generation() {
		t.Fatalf("resume generation = %d, want %d", resumed.Generation(), h.Generation())
	}
	if _, err := resumed.Wait(waitCtx(t)); err != nil {
		t.Fatalf("resumed Wait: %v", err)
	}
	art, err = r.GetArtifact(context.Background(), wf.ID, artifact.NameRetrieval)
	if err != nil {
		t.Fatalf("GetArtifact after resume: %v", err)
	}
	if art.Status != artifact.StatusCompleted {
		t.Fatalf("status after resume = %v, want completed", art.Status)
	}
}

func TestSequenceTimeoutResumeRunsRemainingStages(t *testing.T) {
	fake := genai.NewFakeService()
	fake.PendingPolls = 3
	cfg := Config{PollInterval: 2 * time.Millisecond, MaxPollAttempts: 2}
	o, r, wf, log := newTestOrchestrator(t, fake, cfg)

	stages := []Stage{
		{Name: "extract", Request: genai.Request{Stage: "extract"}},
		{Name: "assess", Request: genai.Request{Stage: "assess"}},
		{Name: "summarize", Request: genai.Request{Stage: "summarize"}},
	}
	h, err := o.LaunchSequence(context.Background(), wf.ID, artifact.NameAnalysis, stages, LaunchOptions{})
	if err != nil {
		t.Fatalf("LaunchSequence: %v", err)
	}
	if _, err := h.Wait(waitCtx(t)); !errors.Is(err, apperr.ErrTimeout) {
		t.Fatalf("err = %v, want timeout kind", err)
	}
	if fake.StartCalls() != 1 {
		t.Fatalf("StartCalls after timeout = %d, want 1", fake.StartCalls())
	}
	art, err := r.GetArtifact(context.Background(), wf.ID, artifact.NameAnalysis)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if art.Status != artifact.StatusProcessing {
		t.Fatalf("composite status after stage timeout = %v, want processing", art.Status)
	}

	// The stalled stage's upstream job finished out-of-band; the remaining
	// stages answer on their first poll.
	fake.PendingPolls = 0

	resumed, err := o.Resume(context.Background(), wf.ID, artifact.NameAnalysis)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Generation() != h.Generation() {
		t.Fatalf("resume generation = %d, want %d", resumed.Generation(), h.Generation())
	}
	if _, err := resumed.Wait(waitCtx(t)); err != nil {
		t.Fatalf("resumed Wait: %v", err)
	}

	// The stalled stage was re-polled and every stage after it launched.
	if fake.StartCalls() != 3 {
		t.Fatalf("StartCalls after resume = %d, want 3", fake.StartCalls())
	}
	art, err = r.GetArtifact(context.Background(), wf.ID, artifact.NameAnalysis)
	if err != nil {
		t.Fatalf("GetArtifact after resume: %v", err)
	}
	if art.Status != artifact.StatusCompleted {
		t.Fatalf("composite status after resume = %v, want completed", art.Status)
	}
	if len(art.Payload) == 0 {
		t.Fatalf("composite committed without a payload")
	}

	// A resumed poll loop reports progress like a fresh one.
	log.mu.Lock()
	events := append([]Event(nil), log.events...)
	log.mu.Unlock()
	resumeIdx := -1
	for i, ev := range events {
		if ev.Type == EventStarted && ev.Detail == "resume" {
			resumeIdx = i
		}
	}
	if resumeIdx < 0 {
		t.Fatalf("no resume start event in %v", events)
	}
	sawPoll := false
	for _, ev := range events[resumeIdx:] {
		if ev.Type == EventPoll {
			sawPoll = true
		}
	}
	if !sawPoll {
		t.Fatalf("resumed job emitted no poll events: %v", events[resumeIdx:])
	}
}

// commitGateStore blocks the first completed-artifact write until released,
// pinning the commit in flight so a concurrent invalidation can be staged.
type commitGateStore struct {
	*store.MemoryStore
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (s *commitGateStore) PutArtifact(ctx context.Context, workflowID string, art artifact.Artifact) error {
	s.mu.Lock()
	gated := s.armed && art.Status == artifact.StatusCompleted
	if gated {
		s.armed = false
	}
	s.mu.Unlock()
	if gated {
		s.entered <- struct{}{}
		<-s.release
	}
	return s.MemoryStore.PutArtifact(ctx, workflowID, art)
}

func TestInvalidationDuringCommitDoesNotResurrectArtifact(t *testing.T) {
	gate := &commitGateStore{
		MemoryStore: store.NewMemoryStore(),
		armed:       true,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	r := repo.New(gate, nil, repo.CacheConfig{})
	wf, err := workflow.New("owner-1", "proposal")
	if err != nil {
		t.Fatalf("workflow.New: %v", err)
	}
	if err := r.PutWorkflow(context.Background(), wf); err != nil {
		t.Fatalf("seed workflow: %v", err)
	}
	fake := genai.NewFakeService()
	o := NewOrchestrator(r, func(string) genai.Service { return fake }, fastConfig(), nil)

	h, err := o.Launch(context.Background(), wf.ID, artifact.NameAnalysis, genai.Request{}, LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	// The commit's durable write is now in flight, past the first
	// generation check.
	<-gate.entered

	// An upstream edit lands in that window: cancel, then clear.
	if !o.Cancel(wf.ID, artifact.NameAnalysis) {
		t.Fatalf("Cancel found no job during the commit window")
	}
	if err := r.DeleteArtifact(context.Background(), wf.ID, artifact.NameAnalysis); err != nil {
		t.Fatalf("DeleteArtifact: %v", err)
	}
	close(gate.release)

	if _, err := h.Wait(waitCtx(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}

	// The late commit loses the generation race and must be rolled back,
	// never leave the cleared artifact completed.
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := r.GetArtifact(context.Background(), wf.ID, artifact.NameAnalysis)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			art, _ := r.GetArtifact(context.Background(), wf.ID, artifact.NameAnalysis)
			t.Fatalf("cleared artifact resurrected: status=%v payload=%s", art.Status, art.Payload)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// inlineStartService acknowledges starts as already completed but without an
// inline result, so the payload has to come from a poll.
type inlineStartService struct {
	mu        sync.Mutex
	pollCalls int
}

func (s *inlineStartService) Start(context.Context, string, string, genai.Request) (genai.StartResult, error) {
	return genai.StartResult{Status: genai.StartCompleted, JobRef: "inline-1"}, nil
}

func (s *inlineStartService) Poll(_ context.Context, jobRef string) (genai.PollResult, error) {
	s.mu.Lock()
	s.pollCalls++
	s.mu.Unlock()
	if jobRef != "inline-1" {
		return genai.PollResult{}, fmt.Errorf("unknown job ref %s", jobRef)
	}
	return genai.PollResult{Status: genai.PollCompleted, Payload: json.RawMessage(`{"sources":["fetched"]}`)}, nil
}

func (s *inlineStartService) polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollCalls
}

func TestCompletedStartWithoutPayloadFetchesResult(t *testing.T) {
	svc := &inlineStartService{}
	r := repo.New(store.NewMemoryStore(), nil, repo.CacheConfig{})
	wf, err := workflow.New("owner-1", "proposal")
	if err != nil {
		t.Fatalf("workflow.New: %v", err)
	}
	if err := r.PutWorkflow(context.Background(), wf); err != nil {
		t.Fatalf("seed workflow: %v", err)
	}
	o := NewOrchestrator(r, func(string) genai.Service { return svc }, fastConfig(), nil)

	h, err := o.Launch(context.Background(), wf.ID, artifact.NameRetrieval, genai.Request{}, LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	payload, err := h.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(payload) != `{"sources":["fetched"]}` {
		t.Fatalf("payload = %s", payload)
	}
	if svc.polls() != 1 {
		t.Fatalf("polls = %d, want 1", svc.polls())
	}
	art, err := r.GetArtifact(context.Background(), wf.ID, artifact.NameRetrieval)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if art.Status != artifact.StatusCompleted || len(art.Payload) == 0 {
		t.Fatalf("committed artifact: status=%v payload=%s", art.Status, art.Payload)
	}
}

func TestResumeWithoutParkedJob(t *testing.T) {
	fake := genai.NewFakeService()
	o, _, wf, _ := newTestOrchestrator(t, fake, fastConfig())

	_, err := o.Resume(context.Background(), wf.ID, artifact.NameAnalysis)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want validation kind", err)
	}
}

func TestSequenceCommitsCompositeOnlyAtEnd(t *testing.T) {
	fake := genai.NewFakeService()
	o, r, wf, _ := newTestOrchestrator(t, fake, fastConfig())

	stages := []Stage{
		{Name: "extract", Request: genai.Request{Stage: "extract"}},
		{Name: "assess", Request: genai.Request{Stage: "assess"}},
		{Name: "summarize", Request: genai.Request{Stage: "summarize"}},
	}
	h, err := o.LaunchSequence(context.Background(), wf.ID, artifact.NameAnalysis, stages, LaunchOptions{})
	if err != nil {
		t.Fatalf("LaunchSequence: %v", err)
	}
	if _, err := h.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if fake.StartCalls() != 3 {
		t.Fatalf("StartCalls = %d, want 3", fake.StartCalls())
	}
	art, err := r.GetArtifact(context.Background(), wf.ID, artifact.NameAnalysis)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if art.Status != artifact.StatusCompleted {
		t.Fatalf("status = %v, want completed", art.Status)
	}
}

func TestSequenceAbortKeepsEarlyStageCommit(t *testing.T) {
	fake := genai.NewFakeService()
	fake.FailArtifacts[artifact.NameStructure] = "model rejected the outline"
	o, r, wf, _ := newTestOrchestrator(t, fake, fastConfig())

	// The first stage owns its own artifact and commits independently; the
	// failing second stage must abort the composite without undoing it.
	stages := []Stage{
		{Name: "gather", Artifact: artifact.NameRetrieval},
		{Name: "outline"},
	}
	h, err := o.LaunchSequence(context.Background(), wf.ID, artifact.NameStructure, stages, LaunchOptions{})
	if err != nil {
		t.Fatalf("LaunchSequence: %v", err)
	}
	if _, err := h.Wait(waitCtx(t)); !errors.Is(err, apperr.ErrUpstreamGeneration) {
		t.Fatalf("err = %v, want upstream-generation kind", err)
	}

	gathered, err := r.GetArtifact(context.Background(), wf.ID, artifact.NameRetrieval)
	if err != nil {
		t.Fatalf("GetArtifact(retrieval): %v", err)
	}
	if gathered.Status != artifact.StatusCompleted {
		t.Fatalf("early stage commit lost: %v", gathered.Status)
	}
	composite, err := r.GetArtifact(context.Background(), wf.ID, artifact.NameStructure)
	if err != nil {
		t.Fatalf("GetArtifact(structure): %v", err)
	}
	if composite.Status != artifact.StatusFailed {
		t.Fatalf("composite status = %v, want failed", composite.Status)
	}
	if composite.Error == "" {
		t.Fatalf("composite should carry the upstream detail")
	}
}

func TestFinalizeRewritesPayloadBeforeCommit(t *testing.T) {
	fake := genai.NewFakeService()
	o, r, wf, _ := newTestOrchestrator(t, fake, fastConfig())

	h, err := o.Launch(context.Background(), wf.ID, artifact.NameDraftFeedback, genai.Request{}, LaunchOptions{
		Finalize: func(_ context.Context, _ []byte) ([]byte, error) {
			return []byte(`{"rewritten":true}`), nil
		},
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	payload, err := h.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(payload) != `{"rewritten":true}` {
		t.Fatalf("payload = %s", payload)
	}
	art, err := r.GetArtifact(context.Background(), wf.ID, artifact.NameDraftFeedback)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if string(art.Payload) != `{"rewritten":true}` {
		t.Fatalf("committed payload = %s", art.Payload)
	}
}

func TestUpstreamFailureMarksArtifactFailed(t *testing.T) {
	fake := genai.NewFakeService()
	fake.FailArtifacts[artifact.NameConcept] = "safety filter"
	o, r, wf, log := newTestOrchestrator(t, fake, fastConfig())

	h, err := o.Launch(context.Background(), wf.ID, artifact.NameConcept, genai.Request{}, LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := h.Wait(waitCtx(t)); !errors.Is(err, apperr.ErrUpstreamGeneration) {
		t.Fatalf("err = %v, want upstream-generation kind", err)
	}

	art, err := r.GetArtifact(context.Background(), wf.ID, artifact.NameConcept)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if art.Status != artifact.StatusFailed {
		t.Fatalf("status = %v, want failed", art.Status)
	}

	types := log.types()
	if types[len(types)-1] != EventFailed {
		t.Fatalf("last event = %v, want failed", types[len(types)-1])
	}
}
