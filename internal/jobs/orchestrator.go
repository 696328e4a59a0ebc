// Package jobs tracks asynchronous generation jobs: launch, poll until
// terminal or ceiling, cancel, supersede. A monotonically increasing
// generation counter per (workflow, artifact) pair guarantees a stale poll
// response from a superseded job can never overwrite newer artifact state.
package jobs

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"draftflow/internal/apperr"
	"draftflow/internal/artifact"
	"draftflow/internal/genai"
	"draftflow/internal/repo"
)

// Config bounds the polling loop.
type Config struct {
	PollInterval    time.Duration
	MaxPollAttempts int
}

func DefaultConfig() Config {
	return Config{
		PollInterval:    2500 * time.Millisecond,
		MaxPollAttempts: 100,
	}
}

// ServiceRouter picks the collaborator for an artifact. Retrieval and
// generation share one contract, so routing is just a lookup.
type ServiceRouter func(artifactName string) genai.Service

// EventType tags progress events emitted to watchers.
type EventType string

const (
	EventStarted   EventType = "started"
	EventStage     EventType = "stage"
	EventPoll      EventType = "poll"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventTimeout   EventType = "timeout"
	EventCancelled EventType = "cancelled"
)

// Event is one progress notification for a running job.
type Event struct {
	WorkflowID string    `json:"workflow_id"`
	Artifact   string    `json:"artifact"`
	Type       EventType `json:"type"`
	Stage      string    `json:"stage,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Notifier receives progress events. May be nil.
type Notifier func(Event)

type pairKey struct {
	WorkflowID string
	Artifact   string
}

// Orchestrator launches and tracks generation jobs.
type Orchestrator struct {
	repo     *repo.Repository
	services ServiceRouter
	cfg      Config
	notify   Notifier

	mu     sync.Mutex
	active map[pairKey]*Handle
	gens   map[pairKey]uint64
}

func NewOrchestrator(r *repo.Repository, services ServiceRouter, cfg Config, notify Notifier) *Orchestrator {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = def.MaxPollAttempts
	}
	return &Orchestrator{
		repo:     r,
		services: services,
		cfg:      cfg,
		notify:   notify,
		active:   make(map[pairKey]*Handle),
		gens:     make(map[pairKey]uint64),
	}
}

// LaunchOptions tunes a single launch.
type LaunchOptions struct {
	// Supersede cancels a processing job for the same pair instead of
	// failing with ConflictingJob.
	Supersede bool
	// Finalize, when set, rewrites the composite payload before commit.
	// Used to re-attach user-authored sub-items to a regenerated artifact.
	Finalize func(ctx context.Context, payload []byte) ([]byte, error)
}

// Launch starts one generation job for (workflowID, artifactName). It fails
// with ConflictingJob when a job for the pair is still processing, unless
// opts.Supersede is set.
func (o *Orchestrator) Launch(ctx context.Context, workflowID, artifactName string, req genai.Request, opts LaunchOptions) (*Handle, error) {
	return o.launch(ctx, workflowID, artifactName, []Stage{{
		Name:     artifactName,
		Artifact: artifactName,
		Request:  req,
	}}, opts)
}

// LaunchSequence starts a strictly ordered multi-stage job. Intermediate
// stages naming their own artifact commit independently on success; the
// composite artifact completes only when the final stage succeeds.
func (o *Orchestrator) LaunchSequence(ctx context.Context, workflowID, compositeArtifact string, stages []Stage, opts LaunchOptions) (*Handle, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("jobs: sequence needs at least one stage")
	}
	return o.launch(ctx, workflowID, compositeArtifact, stages, opts)
}

func (o *Orchestrator) launch(ctx context.Context, workflowID, artifactName string, stages []Stage, opts LaunchOptions) (*Handle, error) {
	workflowID = strings.TrimSpace(workflowID)
	artifactName = strings.TrimSpace(artifactName)
	if workflowID == "" || artifactName == "" {
		return nil, fmt.Errorf("jobs: workflow_id and artifact name are required")
	}
	if o.services == nil || o.services(artifactName) == nil {
		return nil, fmt.Errorf("jobs: no service routed for artifact %s", artifactName)
	}
	key := pairKey{WorkflowID: workflowID, Artifact: artifactName}

	o.mu.Lock()
	if existing, ok := o.active[key]; ok && existing.Processing() {
		if !opts.Supersede {
			o.mu.Unlock()
			return nil, apperr.New(apperr.KindConflictingJob,
				"a job for %s/%s is already processing", workflowID, artifactName)
		}
		existing.cancelInternal(false)
	}
	o.gens[key]++
	gen := o.gens[key]

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{
		WorkflowID: workflowID,
		Artifact:   artifactName,
		gen:        gen,
		cancel:     cancel,
		done:       make(chan struct{}),
		startedAt:  time.Now(),
		stages:     stages,
		opts:       opts,
	}
	o.active[key] = h
	o.mu.Unlock()

	// The artifact enters pending before any upstream call so a reader never
	// sees completed state for a generation that is about to replace it.
	o.writeStatus(jobCtx, workflowID, artifactName, artifact.StatusPending, "")
	o.emit(Event{WorkflowID: workflowID, Artifact: artifactName, Type: EventStarted})

	go o.run(jobCtx, key, h, 0, false)
	return h, nil
}

// Cancel stops the processing job for a pair, if any, and bumps the pair's
// generation so any in-flight poll response is discarded. Used by the
// invalidation engine when an upstream edit lands mid-generation.
func (o *Orchestrator) Cancel(workflowID, artifactName string) bool {
	key := pairKey{WorkflowID: strings.TrimSpace(workflowID), Artifact: strings.TrimSpace(artifactName)}
	o.mu.Lock()
	h, ok := o.active[key]
	if ok {
		o.gens[key]++ // invalidate any response still in flight
		delete(o.active, key)
	}
	o.mu.Unlock()
	if !ok {
		return false
	}
	h.cancelInternal(true)
	o.emit(Event{WorkflowID: key.WorkflowID, Artifact: key.Artifact, Type: EventCancelled})
	return true
}

// Active returns the handle for a pair while its job is processing.
func (o *Orchestrator) Active(workflowID, artifactName string) (*Handle, bool) {
	key := pairKey{WorkflowID: strings.TrimSpace(workflowID), Artifact: strings.TrimSpace(artifactName)}
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.active[key]
	return h, ok
}

// Generation reports the current generation counter for a pair.
func (o *Orchestrator) Generation(workflowID, artifactName string) uint64 {
	key := pairKey{WorkflowID: strings.TrimSpace(workflowID), Artifact: strings.TrimSpace(artifactName)}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gens[key]
}

// run drives the stage sequence from start to a terminal handle state. On a
// resume the first stage re-polls the recorded upstream job instead of
// starting a new one; the stages after it run as usual.
func (o *Orchestrator) run(ctx context.Context, key pairKey, h *Handle, start int, resume bool) {
	stages := h.stages
	var finalPayload []byte
	for i := start; i < len(stages); i++ {
		stage := stages[i]
		h.setStage(i, stage.Name)
		if len(stages) > 1 {
			o.emit(Event{WorkflowID: key.WorkflowID, Artifact: key.Artifact, Type: EventStage, Stage: stage.Name})
		}

		var payload []byte
		var err error
		if resume && i == start {
			payload, err = o.pollStage(ctx, key, h, stage, h.JobRef())
		} else {
			payload, err = o.runStage(ctx, key, h, stage)
		}
		if err != nil {
			// Abort the remaining sequence. Earlier independent stages have
			// already committed; the composite artifact must not.
			o.settleFailure(ctx, key, h, err)
			return
		}

		// Intermediate stages that own a distinct artifact commit their
		// partial result; the composite only commits at the end.
		if stage.Artifact != "" && stage.Artifact != key.Artifact {
			o.commitArtifact(ctx, key.WorkflowID, stage.Artifact, payload)
		}
		if i == len(stages)-1 {
			finalPayload = payload
		}
	}

	if h.opts.Finalize != nil {
		rewritten, err := h.opts.Finalize(ctx, finalPayload)
		if err != nil {
			o.settleFailure(ctx, key, h, apperr.Wrap(apperr.KindUpstreamGeneration, err, "finalize %s", key.Artifact))
			return
		}
		finalPayload = rewritten
	}

	o.mu.Lock()
	stale := o.gens[key] != h.gen
	o.mu.Unlock()
	if stale {
		log.Printf("jobs: discarding stale completion for %s/%s (gen %d)", key.WorkflowID, key.Artifact, h.gen)
		h.resolve(nil, context.Canceled)
		return
	}

	o.commitArtifact(ctx, key.WorkflowID, key.Artifact, finalPayload)

	// An invalidation can land while the commit write is in flight: its
	// Cancel bumps the generation, so the check must be repeated after the
	// write and the commit rolled back if it lost the race. Otherwise the
	// cleared artifact would reappear as completed.
	o.mu.Lock()
	stale = o.gens[key] != h.gen
	if !stale && o.active[key] == h {
		delete(o.active, key)
	}
	o.mu.Unlock()
	if stale {
		log.Printf("jobs: rolling back commit for invalidated %s/%s (gen %d)", key.WorkflowID, key.Artifact, h.gen)
		// The canceller already tore down the job context; the rollback
		// delete must still reach the store.
		if err := o.repo.DeleteArtifact(context.WithoutCancel(ctx), key.WorkflowID, key.Artifact); err != nil {
			log.Printf("jobs: rollback delete %s/%s: %v", key.WorkflowID, key.Artifact, err)
		}
		h.resolve(nil, context.Canceled)
		return
	}

	o.emit(Event{WorkflowID: key.WorkflowID, Artifact: key.Artifact, Type: EventCompleted})
	h.resolve(finalPayload, nil)
}

// runStage launches one upstream job and polls it to a terminal state.
func (o *Orchestrator) runStage(ctx context.Context, key pairKey, h *Handle, stage Stage) ([]byte, error) {
	svc := o.services(stage.serviceArtifact(key.Artifact))

	started, err := svc.Start(ctx, key.WorkflowID, stage.serviceArtifact(key.Artifact), stage.Request)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamGeneration, err, "start %s", stage.Name)
	}
	if started.Status == genai.StartCompleted && len(started.Payload) > 0 {
		return started.Payload, nil
	}
	// A completed start without an inline payload still goes through the
	// poll path so the result is fetched rather than committed empty.
	h.setJobRef(started.JobRef)

	o.writeStatus(ctx, key.WorkflowID, key.Artifact, artifact.StatusProcessing, "")

	return o.pollStage(ctx, key, h, stage, started.JobRef)
}

// pollStage polls one upstream job ref until terminal or the attempt
// ceiling. Shared by fresh runs and resumes so both emit the same progress
// events.
func (o *Orchestrator) pollStage(ctx context.Context, key pairKey, h *Handle, stage Stage, jobRef string) ([]byte, error) {
	svc := o.services(stage.serviceArtifact(key.Artifact))

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= o.cfg.MaxPollAttempts; attempt++ {
		// Cancellation is cooperative: checked before each poll, never
		// preemptive mid-request.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		h.setAttempts(attempt)
		res, err := svc.Poll(ctx, jobRef)
		if err != nil {
			// A flaky status endpoint burns an attempt but is not terminal.
			log.Printf("jobs: poll %s/%s attempt %d: %v", key.WorkflowID, key.Artifact, attempt, err)
			continue
		}
		switch res.Status {
		case genai.PollProcessing:
			o.emit(Event{WorkflowID: key.WorkflowID, Artifact: key.Artifact, Type: EventPoll, Stage: stage.Name, Attempt: attempt})
		case genai.PollCompleted:
			return res.Payload, nil
		case genai.PollFailed:
			return nil, apperr.New(apperr.KindUpstreamGeneration, "%s", res.ErrDetail)
		default:
			log.Printf("jobs: poll %s/%s: unknown status %q", key.WorkflowID, key.Artifact, res.Status)
		}
	}

	// Ceiling reached. The upstream job may still finish out-of-band, so the
	// artifact stays processing for a manual resume instead of failing.
	return nil, apperr.New(apperr.KindTimeout,
		"no terminal status after %d polls", o.cfg.MaxPollAttempts)
}

// Resume restarts a timed-out job on its recorded upstream job ref, same
// generation, without relaunching the upstream work. The stalled stage is
// re-polled; any stages after it in the sequence then run as usual, so a
// composite artifact still completes only when its final stage succeeds.
func (o *Orchestrator) Resume(ctx context.Context, workflowID, artifactName string) (*Handle, error) {
	key := pairKey{WorkflowID: strings.TrimSpace(workflowID), Artifact: strings.TrimSpace(artifactName)}
	o.mu.Lock()
	prev, ok := o.active[key]
	if !ok || prev.Processing() || prev.JobRef() == "" {
		o.mu.Unlock()
		if ok && prev.Processing() {
			return nil, apperr.New(apperr.KindConflictingJob, "job for %s/%s is still processing", workflowID, artifactName)
		}
		return nil, apperr.New(apperr.KindValidation, "no resumable job for %s/%s", workflowID, artifactName)
	}
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{
		WorkflowID: key.WorkflowID,
		Artifact:   key.Artifact,
		gen:        prev.gen,
		cancel:     cancel,
		done:       make(chan struct{}),
		startedAt:  time.Now(),
		stages:     prev.stages,
		opts:       prev.opts,
	}
	start := prev.stageIndex()
	h.setJobRef(prev.JobRef())
	o.active[key] = h
	o.mu.Unlock()

	o.emit(Event{WorkflowID: key.WorkflowID, Artifact: key.Artifact, Type: EventStarted, Detail: "resume"})
	go o.run(jobCtx, key, h, start, true)
	return h, nil
}

// settleFailure records the terminal failure and resolves the handle. A
// timeout keeps the artifact processing (the upstream job may yet finish);
// anything else marks it failed with the upstream detail.
func (o *Orchestrator) settleFailure(ctx context.Context, key pairKey, h *Handle, err error) {
	o.mu.Lock()
	stale := o.gens[key] != h.gen
	o.mu.Unlock()
	if stale {
		h.resolve(nil, context.Canceled)
		return
	}

	kind, _ := apperr.KindOf(err)
	switch {
	case kind == apperr.KindTimeout:
		o.emit(Event{WorkflowID: key.WorkflowID, Artifact: key.Artifact, Type: EventTimeout, Detail: err.Error()})
	case ctx.Err() != nil:
		// Cancelled mid-flight; artifact state was already handled by the
		// canceller (invalidation or supersede).
	default:
		o.writeStatus(ctx, key.WorkflowID, key.Artifact, artifact.StatusFailed, err.Error())
		o.emit(Event{WorkflowID: key.WorkflowID, Artifact: key.Artifact, Type: EventFailed, Detail: err.Error()})
		o.mu.Lock()
		if o.active[key] == h {
			delete(o.active, key)
		}
		o.mu.Unlock()
	}
	h.resolve(nil, err)
}

// commitArtifact writes a completed payload through the repository. A
// durable-store outage is logged, not fatal: the payload stays cached and on
// the pending list, so the costly generation result is never discarded.
func (o *Orchestrator) commitArtifact(ctx context.Context, workflowID, name string, payload []byte) {
	prev, err := o.repo.GetArtifact(ctx, workflowID, name)
	if err != nil {
		prev = artifact.Artifact{Name: name}
	}
	art := prev.Completed(payload, time.Now().UTC())
	if err := o.repo.PutArtifact(ctx, workflowID, art); err != nil {
		log.Printf("jobs: durable commit %s/%s deferred: %v", workflowID, name, err)
	}
}

func (o *Orchestrator) writeStatus(ctx context.Context, workflowID, name string, status artifact.Status, detail string) {
	prev, err := o.repo.GetArtifact(ctx, workflowID, name)
	if err != nil {
		prev = artifact.Artifact{Name: name}
	}
	prev.Name = name
	prev.Status = status
	prev.Error = detail
	if status != artifact.StatusCompleted {
		prev.Payload = nil
	}
	if err := o.repo.PutArtifact(ctx, workflowID, prev); err != nil {
		log.Printf("jobs: status write %s/%s=%s deferred: %v", workflowID, name, status, err)
	}
}

func (o *Orchestrator) emit(ev Event) {
	if o.notify != nil {
		o.notify(ev)
	}
}
