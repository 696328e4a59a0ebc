// Package store holds the durable workflow record adapters. The engine only
// ever sees the Store interface; backends are interchangeable per-deployment.
package store

import (
	"context"
	"errors"

	"draftflow/internal/artifact"
	"draftflow/internal/workflow"
)

// Store persists workflow records with item-level artifact access.
type Store interface {
	Get(ctx context.Context, workflowID string) (workflow.Workflow, error)
	Put(ctx context.Context, wf workflow.Workflow) error
	Delete(ctx context.Context, workflowID string) error

	GetArtifact(ctx context.Context, workflowID, name string) (artifact.Artifact, error)
	PutArtifact(ctx context.Context, workflowID string, art artifact.Artifact) error
	DeleteArtifact(ctx context.Context, workflowID, name string) error

	ListByOwner(ctx context.Context, ownerID string) ([]workflow.Summary, error)
}

// BlobStore holds large artifact payloads out of the record store.
type BlobStore interface {
	Put(ctx context.Context, workflowID, name string, content []byte) error
	Get(ctx context.Context, workflowID, name string) ([]byte, error)
	Delete(ctx context.Context, workflowID, name string) error
}

var ErrNotFound = errors.New("workflow not found")
