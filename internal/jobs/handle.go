package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"draftflow/internal/genai"
)

// Stage is one sub-job in a generation sequence. Stages run strictly in
// order; a stage naming an Artifact different from the composite commits its
// own result independently on success.
type Stage struct {
	Name     string
	Artifact string
	Request  genai.Request
}

// serviceArtifact picks the artifact name used for service routing: the
// stage's own artifact when set, otherwise the composite's.
func (s Stage) serviceArtifact(composite string) string {
	if s.Artifact != "" {
		return s.Artifact
	}
	return composite
}

// Handle tracks one launched job until terminal state. Callers wait on it,
// inspect its active stage for progress display, or cancel it.
type Handle struct {
	WorkflowID string
	Artifact   string

	gen       uint64
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	// stages and opts are fixed at launch and carried across a resume so a
	// timed-out sequence can pick up from the stage that stalled.
	stages []Stage
	opts   LaunchOptions

	mu       sync.Mutex
	resolved bool
	payload  json.RawMessage
	err      error
	stage    string
	stageIdx int
	jobRef   string
	attempts int
}

// Wait blocks until the job reaches a terminal state or ctx is done.
func (h *Handle) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.payload, h.err
}

// Cancel stops further polling. Cooperative: an in-flight poll request is
// not interrupted, but its response will be discarded.
func (h *Handle) Cancel() {
	h.cancelInternal(true)
}

// Processing reports whether the job has not yet reached a terminal state.
func (h *Handle) Processing() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.resolved
}

// Stage returns the name of the currently active sub-stage.
func (h *Handle) Stage() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stage
}

// JobRef returns the upstream job reference of the current stage.
func (h *Handle) JobRef() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.jobRef
}

// Attempts returns the poll attempt count of the current stage.
func (h *Handle) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

// StartedAt returns the launch time.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Generation returns the generation counter stamped at launch.
func (h *Handle) Generation() uint64 { return h.gen }

func (h *Handle) setStage(idx int, name string) {
	h.mu.Lock()
	h.stage = name
	h.stageIdx = idx
	h.mu.Unlock()
}

// stageIndex is the index of the stage the job last worked on.
func (h *Handle) stageIndex() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stageIdx
}

func (h *Handle) setJobRef(ref string) {
	h.mu.Lock()
	h.jobRef = ref
	h.mu.Unlock()
}

func (h *Handle) setAttempts(n int) {
	h.mu.Lock()
	h.attempts = n
	h.mu.Unlock()
}

func (h *Handle) resolve(payload json.RawMessage, err error) {
	h.mu.Lock()
	if h.resolved {
		h.mu.Unlock()
		return
	}
	h.resolved = true
	h.payload = payload
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

func (h *Handle) cancelInternal(resolveHandle bool) {
	if h == nil {
		return
	}
	if h.cancel != nil {
		h.cancel()
	}
	if resolveHandle {
		h.resolve(nil, context.Canceled)
	}
}
