package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RetrievalService is the content-retrieval collaborator. It speaks the
// same start/poll contract as the generation service, so the orchestrator
// drives retrieval jobs with no special casing.
type RetrievalService struct {
	baseURL string
	hc      *http.Client
}

func NewRetrievalService(baseURL string) (*RetrievalService, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("retrieval base url is required")
	}
	return &RetrievalService{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type retrievalStartRequest struct {
	WorkflowID string          `json:"workflow_id"`
	Artifact   string          `json:"artifact"`
	Query      json.RawMessage `json:"query,omitempty"`
}

type retrievalStartResponse struct {
	Status  string          `json:"status"`
	JobRef  string          `json:"job_ref"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type retrievalPollResponse struct {
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (s *RetrievalService) Start(ctx context.Context, workflowID, artifactName string, req Request) (StartResult, error) {
	if s == nil {
		return StartResult{}, fmt.Errorf("retrieval service is nil")
	}
	body, err := json.Marshal(retrievalStartRequest{
		WorkflowID: workflowID,
		Artifact:   artifactName,
		Query:      req.Input,
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("encode retrieval start: %w", err)
	}
	var out retrievalStartResponse
	if err := s.post(ctx, "/v1/retrieval/start", body, &out); err != nil {
		return StartResult{}, err
	}
	if strings.TrimSpace(out.JobRef) == "" {
		return StartResult{}, fmt.Errorf("retrieval start returned no job ref")
	}
	status := StartStarted
	if out.Status == string(StartCompleted) {
		status = StartCompleted
	}
	return StartResult{Status: status, JobRef: out.JobRef, Payload: out.Payload}, nil
}

func (s *RetrievalService) Poll(ctx context.Context, jobRef string) (PollResult, error) {
	if s == nil {
		return PollResult{}, fmt.Errorf("retrieval service is nil")
	}
	jobRef = strings.TrimSpace(jobRef)
	if jobRef == "" {
		return PollResult{}, fmt.Errorf("job ref is required")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/v1/retrieval/jobs/"+url.PathEscape(jobRef), nil)
	if err != nil {
		return PollResult{}, err
	}
	resp, err := s.hc.Do(httpReq)
	if err != nil {
		return PollResult{}, fmt.Errorf("retrieval poll: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return PollResult{}, fmt.Errorf("retrieval poll: unexpected status %d", resp.StatusCode)
	}
	var out retrievalPollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PollResult{}, fmt.Errorf("decode retrieval poll: %w", err)
	}
	switch PollStatus(out.Status) {
	case PollProcessing, PollCompleted, PollFailed:
		return PollResult{Status: PollStatus(out.Status), Payload: out.Payload, ErrDetail: out.Error}, nil
	}
	return PollResult{}, fmt.Errorf("retrieval poll: unknown status %q", out.Status)
}

func (s *RetrievalService) post(ctx context.Context, path string, body []byte, target any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := s.hc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("retrieval %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("retrieval %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode retrieval %s: %w", path, err)
	}
	return nil
}
