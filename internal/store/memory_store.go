package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"draftflow/internal/artifact"
	"draftflow/internal/workflow"
)

// MemoryStore is the in-process Store backend, used in tests and local runs.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]workflow.Workflow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]workflow.Workflow)}
}

func (s *MemoryStore) Get(_ context.Context, workflowID string) (workflow.Workflow, error) {
	if s == nil {
		return workflow.Workflow{}, fmt.Errorf("store is nil")
	}
	workflowID = strings.TrimSpace(workflowID)
	if workflowID == "" {
		return workflow.Workflow{}, fmt.Errorf("workflow_id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.byID[workflowID]
	if !ok {
		return workflow.Workflow{}, ErrNotFound
	}
	return copyWorkflow(wf), nil
}

func (s *MemoryStore) Put(_ context.Context, wf workflow.Workflow) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	id := strings.TrimSpace(wf.ID)
	if id == "" {
		return fmt.Errorf("workflow id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = copyWorkflow(wf)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, workflowID string) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, strings.TrimSpace(workflowID))
	return nil
}

func (s *MemoryStore) GetArtifact(ctx context.Context, workflowID, name string) (artifact.Artifact, error) {
	wf, err := s.Get(ctx, workflowID)
	if err != nil {
		return artifact.Artifact{}, err
	}
	a, ok := wf.Artifacts[strings.TrimSpace(name)]
	if !ok {
		return artifact.Artifact{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) PutArtifact(_ context.Context, workflowID string, art artifact.Artifact) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	workflowID = strings.TrimSpace(workflowID)
	name := strings.TrimSpace(art.Name)
	if workflowID == "" {
		return fmt.Errorf("workflow_id is required")
	}
	if name == "" {
		return fmt.Errorf("artifact name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.byID[workflowID]
	if !ok {
		return ErrNotFound
	}
	if wf.Artifacts == nil {
		wf.Artifacts = make(map[string]artifact.Artifact)
	}
	wf.Artifacts[name] = art
	s.byID[workflowID] = wf
	return nil
}

func (s *MemoryStore) DeleteArtifact(_ context.Context, workflowID, name string) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	workflowID = strings.TrimSpace(workflowID)
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.byID[workflowID]
	if !ok {
		return nil
	}
	delete(wf.Artifacts, name)
	s.byID[workflowID] = wf
	return nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]workflow.Summary, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]workflow.Summary, 0, 8)
	for _, wf := range s.byID {
		if wf.OwnerID == ownerID {
			out = append(out, wf.Summarize())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func copyWorkflow(wf workflow.Workflow) workflow.Workflow {
	arts := make(map[string]artifact.Artifact, len(wf.Artifacts))
	for k, v := range wf.Artifacts {
		v.Payload = append([]byte(nil), v.Payload...)
		arts[k] = v
	}
	wf.Artifacts = arts
	return wf
}
