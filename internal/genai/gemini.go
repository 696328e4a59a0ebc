package genai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	genai "google.golang.org/genai"
)

// GeminiService adapts the synchronous genai API to the start/poll contract:
// Start launches the model call on a goroutine and Poll reads its recorded
// outcome. Job records are kept briefly after completion so a late poller
// still sees the terminal state.
type GeminiService struct {
	cli   *genai.Client
	model string

	mu   sync.Mutex
	jobs map[string]*geminiJob
}

type geminiJob struct {
	done    bool
	payload []byte
	errText string
}

const geminiJobRetention = 5 * time.Minute

func NewGeminiService(ctx context.Context, model string) (*GeminiService, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	// The client reads GEMINI_API_KEY from the environment.
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	return &GeminiService{cli: cli, model: model, jobs: make(map[string]*geminiJob)}, nil
}

func (g *GeminiService) Start(ctx context.Context, workflowID, artifactName string, req Request) (StartResult, error) {
	if g == nil || g.cli == nil {
		return StartResult{}, fmt.Errorf("gemini service is nil")
	}
	jobRef := uuid.NewString()
	g.mu.Lock()
	g.jobs[jobRef] = &geminiJob{}
	g.mu.Unlock()

	prompt := req.Prompt
	if len(req.Input) > 0 {
		prompt += "\n\n[INPUT JSON]\n" + string(req.Input)
	}

	// Detach from the caller's context: the upstream job outlives the HTTP
	// request that launched it, and cancellation is the orchestrator's
	// concern, not the transport's.
	go g.run(context.WithoutCancel(ctx), jobRef, prompt)

	return StartResult{Status: StartStarted, JobRef: jobRef}, nil
}

func (g *GeminiService) run(ctx context.Context, jobRef, prompt string) {
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)

	g.mu.Lock()
	defer g.mu.Unlock()
	job, ok := g.jobs[jobRef]
	if !ok {
		return
	}
	job.done = true
	switch {
	case err != nil:
		job.errText = err.Error()
	case len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0:
		job.errText = "model returned no candidates"
	default:
		job.payload = []byte(resp.Candidates[0].Content.Parts[0].Text)
	}
	time.AfterFunc(geminiJobRetention, func() {
		g.mu.Lock()
		delete(g.jobs, jobRef)
		g.mu.Unlock()
	})
}

func (g *GeminiService) Poll(_ context.Context, jobRef string) (PollResult, error) {
	if g == nil {
		return PollResult{}, fmt.Errorf("gemini service is nil")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	job, ok := g.jobs[strings.TrimSpace(jobRef)]
	if !ok {
		return PollResult{}, fmt.Errorf("unknown job ref %s", jobRef)
	}
	if !job.done {
		return PollResult{Status: PollProcessing}, nil
	}
	if job.errText != "" {
		return PollResult{Status: PollFailed, ErrDetail: job.errText}, nil
	}
	return PollResult{Status: PollCompleted, Payload: append([]byte(nil), job.payload...)}, nil
}
