package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"draftflow/internal/artifact"
	"draftflow/internal/workflow"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore keeps one row per workflow with artifacts in a jsonb column,
// so item-level artifact writes never rewrite the whole record.
type PostgresStore struct {
	db         *sql.DB
	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureSchema() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db is nil")
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS workflows (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    status TEXT NOT NULL,
    current_step INT NOT NULL DEFAULT 0,
    artifacts JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_workflows_owner_id ON workflows(owner_id);
`)
	})
	return s.schemaErr
}

func (s *PostgresStore) Get(ctx context.Context, workflowID string) (workflow.Workflow, error) {
	if s == nil {
		return workflow.Workflow{}, fmt.Errorf("store is nil")
	}
	workflowID = strings.TrimSpace(workflowID)
	if workflowID == "" {
		return workflow.Workflow{}, fmt.Errorf("workflow_id is required")
	}
	if err := s.ensureSchema(); err != nil {
		return workflow.Workflow{}, err
	}
	var wf workflow.Workflow
	var rawArtifacts []byte
	err := s.db.QueryRowContext(ctx, `
SELECT id, code, owner_id, status, current_step, artifacts, created_at, updated_at
FROM workflows WHERE id=$1`, workflowID).
		Scan(&wf.ID, &wf.Code, &wf.OwnerID, &wf.Status, &wf.CurrentStep, &rawArtifacts, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return workflow.Workflow{}, ErrNotFound
	}
	if err != nil {
		return workflow.Workflow{}, err
	}
	wf.Artifacts = make(map[string]artifact.Artifact)
	if len(rawArtifacts) > 0 {
		if err := json.Unmarshal(rawArtifacts, &wf.Artifacts); err != nil {
			return workflow.Workflow{}, fmt.Errorf("decode artifacts for %s: %w", workflowID, err)
		}
	}
	return wf, nil
}

func (s *PostgresStore) Put(ctx context.Context, wf workflow.Workflow) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	id := strings.TrimSpace(wf.ID)
	if id == "" {
		return fmt.Errorf("workflow id is required")
	}
	if err := s.ensureSchema(); err != nil {
		return err
	}
	rawArtifacts, err := json.Marshal(wf.Artifacts)
	if err != nil {
		return fmt.Errorf("encode artifacts for %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO workflows (id, code, owner_id, status, current_step, artifacts, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id)
DO UPDATE SET code=EXCLUDED.code, status=EXCLUDED.status, current_step=EXCLUDED.current_step,
              artifacts=EXCLUDED.artifacts, updated_at=EXCLUDED.updated_at
`, id, wf.Code, wf.OwnerID, string(wf.Status), wf.CurrentStep, rawArtifacts, wf.CreatedAt, time.Now())
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, workflowID string) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	if err := s.ensureSchema(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id=$1`, strings.TrimSpace(workflowID))
	return err
}

func (s *PostgresStore) GetArtifact(ctx context.Context, workflowID, name string) (artifact.Artifact, error) {
	if s == nil {
		return artifact.Artifact{}, fmt.Errorf("store is nil")
	}
	workflowID = strings.TrimSpace(workflowID)
	name = strings.TrimSpace(name)
	if workflowID == "" || name == "" {
		return artifact.Artifact{}, fmt.Errorf("workflow_id and artifact name are required")
	}
	if err := s.ensureSchema(); err != nil {
		return artifact.Artifact{}, err
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT artifacts -> $2 FROM workflows WHERE id=$1`, workflowID, name).Scan(&raw)
	if err == sql.ErrNoRows {
		return artifact.Artifact{}, ErrNotFound
	}
	if err != nil {
		return artifact.Artifact{}, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return artifact.Artifact{}, ErrNotFound
	}
	var a artifact.Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return artifact.Artifact{}, fmt.Errorf("decode artifact %s/%s: %w", workflowID, name, err)
	}
	return a, nil
}

func (s *PostgresStore) PutArtifact(ctx context.Context, workflowID string, art artifact.Artifact) error {
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
	if err := s.ensureSchema(); err != nil {
		return err
	}
	raw, err := json.Marshal(art)
	if err != nil {
		return fmt.Errorf("encode artifact %s/%s: %w", workflowID, name, err)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE workflows SET artifacts = jsonb_set(artifacts, ARRAY[$2], $3::jsonb, true), updated_at=NOW()
WHERE id=$1`, workflowID, name, raw)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteArtifact(ctx context.Context, workflowID, name string) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	if err := s.ensureSchema(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE workflows SET artifacts = artifacts - $2, updated_at=NOW() WHERE id=$1`,
		strings.TrimSpace(workflowID), strings.TrimSpace(name))
	return err
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]workflow.Summary, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, code, status, current_step, updated_at FROM workflows WHERE owner_id=$1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]workflow.Summary, 0, 8)
	for rows.Next() {
		var sum workflow.Summary
		if err := rows.Scan(&sum.ID, &sum.Code, &sum.Status, &sum.CurrentStep, &sum.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
