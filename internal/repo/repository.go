// Package repo composes the volatile client cache and the durable store
// behind one ArtifactRepository so call sites never dual-write by hand.
package repo

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"draftflow/internal/apperr"
	"draftflow/internal/artifact"
	memcache "draftflow/internal/cache/memory"
	"draftflow/internal/store"
	"draftflow/internal/workflow"

	lru "github.com/hashicorp/golang-lru/v2"
)

type artifactKey struct {
	WorkflowID string
	Name       string
}

type CacheConfig struct {
	ArtifactTTL        time.Duration
	ArtifactMaxEntries int
	ArtifactMaxBytes   int
	SummaryMaxEntries  int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		ArtifactTTL:        10 * time.Minute,
		ArtifactMaxEntries: 2048,
		ArtifactMaxBytes:   128 * 1024 * 1024, // 128MiB
		SummaryMaxEntries:  512,
	}
}

// Repository is the write-through artifact repository. Reads are cache
// first; writes go to the cache and then the durable store. A durable write
// failure never discards a generated payload: the artifact stays cached and
// on the pending list until a later flush succeeds.
type Repository struct {
	origin  store.Store
	blobs   store.BlobStore // optional payload offload
	cache   *memcache.LRUTTL[artifactKey, artifact.Artifact]
	summary *lru.Cache[string, []workflow.Summary]

	pendingMu sync.Mutex
	pending   map[artifactKey]artifact.Artifact

	metrics Metrics

	// BlobThreshold is the payload size above which completed payloads are
	// offloaded to the blob store. Zero disables offload.
	BlobThreshold int
}

func New(origin store.Store, blobs store.BlobStore, cfg CacheConfig) *Repository {
	def := DefaultCacheConfig()
	if cfg.ArtifactTTL <= 0 {
		cfg.ArtifactTTL = def.ArtifactTTL
	}
	if cfg.ArtifactMaxEntries <= 0 {
		cfg.ArtifactMaxEntries = def.ArtifactMaxEntries
	}
	if cfg.ArtifactMaxBytes < 0 {
		cfg.ArtifactMaxBytes = def.ArtifactMaxBytes
	}
	if cfg.SummaryMaxEntries <= 0 {
		cfg.SummaryMaxEntries = def.SummaryMaxEntries
	}
	summary, err := lru.New[string, []workflow.Summary](cfg.SummaryMaxEntries)
	if err != nil {
		panic("repo: summary cache init: " + err.Error())
	}
	return &Repository{
		origin:  origin,
		blobs:   blobs,
		cache:   memcache.NewLRUTTL[artifactKey, artifact.Artifact](cfg.ArtifactMaxEntries, cfg.ArtifactMaxBytes, cfg.ArtifactTTL),
		summary: summary,
		pending: make(map[artifactKey]artifact.Artifact),
	}
}

// GetWorkflow reads the full durable record. Cached artifacts newer than the
// stored record (pending writes) are layered on top so a reader never sees a
// payload regress after a store outage.
func (r *Repository) GetWorkflow(ctx context.Context, workflowID string) (workflow.Workflow, error) {
	wf, err := r.origin.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return workflow.Workflow{}, err
		}
		return workflow.Workflow{}, apperr.Wrap(apperr.KindStoreUnavailable, err, "read workflow %s", workflowID)
	}
	r.pendingMu.Lock()
	for key, art := range r.pending {
		if key.WorkflowID == wf.ID {
			if wf.Artifacts == nil {
				wf.Artifacts = make(map[string]artifact.Artifact)
			}
			wf.Artifacts[key.Name] = art
		}
	}
	r.pendingMu.Unlock()
	return wf, nil
}

func (r *Repository) PutWorkflow(ctx context.Context, wf workflow.Workflow) error {
	if err := r.origin.Put(ctx, wf); err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, err, "write workflow %s", wf.ID)
	}
	r.summary.Remove(strings.TrimSpace(wf.OwnerID))
	return nil
}

func (r *Repository) DeleteWorkflow(ctx context.Context, workflowID string) error {
	r.cache.DeleteFunc(func(k artifactKey) bool { return k.WorkflowID == workflowID })
	r.dropPending(workflowID, "")
	r.summary.Purge()
	if err := r.origin.Delete(ctx, workflowID); err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, err, "delete workflow %s", workflowID)
	}
	return nil
}

// GetArtifact reads cache first, then the durable store.
func (r *Repository) GetArtifact(ctx context.Context, workflowID, name string) (artifact.Artifact, error) {
	key := artifactKey{WorkflowID: strings.TrimSpace(workflowID), Name: strings.TrimSpace(name)}
	if art, ok := r.cache.Get(key); ok {
		r.metrics.hits.Add(1)
		return art, nil
	}
	r.metrics.misses.Add(1)
	r.metrics.originReads.Add(1)

	art, err := r.origin.GetArtifact(ctx, key.WorkflowID, key.Name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return artifact.Artifact{}, err
		}
		r.metrics.originReadErr.Add(1)
		return artifact.Artifact{}, apperr.Wrap(apperr.KindStoreUnavailable, err, "read artifact %s/%s", workflowID, name)
	}
	art = r.inflate(ctx, key, art)
	r.cache.Set(key, art, len(art.Payload))
	return art, nil
}

// PutArtifact writes through: cache always, durable store best effort. On a
// store failure the artifact is queued for a later FlushPending and the
// returned error carries KindStoreUnavailable.
func (r *Repository) PutArtifact(ctx context.Context, workflowID string, art artifact.Artifact) error {
	key := artifactKey{WorkflowID: strings.TrimSpace(workflowID), Name: strings.TrimSpace(art.Name)}
	r.cache.Set(key, art, len(art.Payload))

	stored := r.offload(ctx, key, art)

	r.metrics.originWrites.Add(1)
	if err := r.origin.PutArtifact(ctx, key.WorkflowID, stored); err != nil {
		r.metrics.originWriteErr.Add(1)
		r.pendingMu.Lock()
		r.pending[key] = art
		r.pendingMu.Unlock()
		return apperr.Wrap(apperr.KindStoreUnavailable, err, "write artifact %s/%s", workflowID, art.Name)
	}
	r.dropPending(key.WorkflowID, key.Name)
	return nil
}

// DeleteArtifact clears the cache entry and issues a best-effort durable
// delete. Invalidation must never fail just because the store is down; the
// cache clear alone already prevents a stale read.
func (r *Repository) DeleteArtifact(ctx context.Context, workflowID, name string) error {
	key := artifactKey{WorkflowID: strings.TrimSpace(workflowID), Name: strings.TrimSpace(name)}
	r.cache.Delete(key)
	r.dropPending(key.WorkflowID, key.Name)
	if r.blobs != nil {
		if err := r.blobs.Delete(ctx, key.WorkflowID, key.Name); err != nil {
			log.Printf("repo: blob delete %s/%s: %v", key.WorkflowID, key.Name, err)
		}
	}
	if err := r.origin.DeleteArtifact(ctx, key.WorkflowID, key.Name); err != nil {
		log.Printf("repo: durable delete %s/%s failed (will rely on cache clear): %v", key.WorkflowID, key.Name, err)
		return apperr.Wrap(apperr.KindStoreUnavailable, err, "delete artifact %s/%s", workflowID, name)
	}
	return nil
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]workflow.Summary, error) {
	ownerID = strings.TrimSpace(ownerID)
	if cached, ok := r.summary.Get(ownerID); ok {
		r.metrics.hits.Add(1)
		return append([]workflow.Summary(nil), cached...), nil
	}
	r.metrics.misses.Add(1)
	out, err := r.origin.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, err, "list workflows for %s", ownerID)
	}
	r.summary.Add(ownerID, append([]workflow.Summary(nil), out...))
	return out, nil
}

// FlushPending retries every queued durable write. Returns the number of
// writes that remain queued.
func (r *Repository) FlushPending(ctx context.Context) int {
	r.pendingMu.Lock()
	queued := make(map[artifactKey]artifact.Artifact, len(r.pending))
	for k, v := range r.pending {
		queued[k] = v
	}
	r.pendingMu.Unlock()

	for key, art := range queued {
		stored := r.offload(ctx, key, art)
		r.metrics.originWrites.Add(1)
		if err := r.origin.PutArtifact(ctx, key.WorkflowID, stored); err != nil {
			r.metrics.originWriteErr.Add(1)
			continue
		}
		r.dropPending(key.WorkflowID, key.Name)
	}

	r.pendingMu.Lock()
	n := len(r.pending)
	r.pendingMu.Unlock()
	return n
}

// PendingWrites reports how many durable writes are queued.
func (r *Repository) PendingWrites() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending)
}

func (r *Repository) dropPending(workflowID, name string) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for k := range r.pending {
		if k.WorkflowID != workflowID {
			continue
		}
		if name == "" || k.Name == name {
			delete(r.pending, k)
		}
	}
}

const blobRef = `{"$blob":true}`

// offload moves oversized completed payloads to the blob store, replacing
// the record payload with a marker. Offload failures fall back to inlining.
func (r *Repository) offload(ctx context.Context, key artifactKey, art artifact.Artifact) artifact.Artifact {
	if r.blobs == nil || r.BlobThreshold <= 0 || len(art.Payload) <= r.BlobThreshold {
		return art
	}
	if art.Status != artifact.StatusCompleted {
		return art
	}
	if err := r.blobs.Put(ctx, key.WorkflowID, key.Name, art.Payload); err != nil {
		log.Printf("repo: blob offload %s/%s: %v (inlining payload)", key.WorkflowID, key.Name, err)
		return art
	}
	art.Payload = []byte(blobRef)
	return art
}

// inflate resolves a blob marker back into the real payload.
func (r *Repository) inflate(ctx context.Context, key artifactKey, art artifact.Artifact) artifact.Artifact {
	if r.blobs == nil || string(art.Payload) != blobRef {
		return art
	}
	raw, err := r.blobs.Get(ctx, key.WorkflowID, key.Name)
	if err != nil {
		log.Printf("repo: blob read %s/%s: %v", key.WorkflowID, key.Name, err)
		return art
	}
	art.Payload = raw
	return art
}
