package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"draftflow/internal/artifact"
	"draftflow/internal/gateway/config"
	"draftflow/internal/genai"
	"draftflow/internal/jobs"
	"draftflow/internal/store"
)

func initStores(cfg *config.Config) (store.Store, store.BlobStore, error) {
	var origin store.Store
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		pg, err := store.NewPostgresStore(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open workflow store: %w", err)
		}
		log.Printf("workflow store: postgres")
		origin = pg
	} else {
		log.Printf("workflow store: in-memory")
		origin = store.NewMemoryStore()
	}

	var blobs store.BlobStore
	if cfg.Artifact.Enabled {
		s3, err := store.NewS3Store(store.S3Config{
			Endpoint:  cfg.Artifact.Endpoint,
			Region:    cfg.Artifact.Region,
			AccessKey: cfg.Artifact.AccessKey,
			SecretKey: cfg.Artifact.SecretKey,
			Bucket:    cfg.Artifact.Bucket,
			UseSSL:    cfg.Artifact.UseSSL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize payload blob store: %w", err)
		}
		log.Printf("payload blob store: s3 bucket=%s endpoint=%s", cfg.Artifact.Bucket, cfg.Artifact.Endpoint)
		blobs = s3
	}

	return origin, blobs, nil
}

// initServices builds the router that picks the generation collaborator per
// artifact. Retrieval talks to its own backend; everything else goes to the
// model client. Without a GEMINI_API_KEY the canned fake keeps local
// development working offline.
func initServices(ctx context.Context, cfg *config.Config) (jobs.ServiceRouter, error) {
	var generator genai.Service
	if cfg.GenAI.GeminiAPIKey != "" {
		g, err := genai.NewGeminiService(ctx, cfg.GenAI.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gemini service: %w", err)
		}
		log.Printf("generation service: gemini model=%s", cfg.GenAI.GeminiModel)
		generator = g
	} else {
		log.Printf("generation service: canned fake (GEMINI_API_KEY not set)")
		generator = genai.NewFakeService()
	}

	retrieval := generator
	if base := strings.TrimSpace(cfg.GenAI.RetrievalBaseURL); base != "" {
		r, err := genai.NewRetrievalService(base)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize retrieval service: %w", err)
		}
		log.Printf("retrieval service: %s", base)
		retrieval = r
	}

	return func(artifactName string) genai.Service {
		if artifactName == artifact.NameRetrieval {
			return retrieval
		}
		return generator
	}, nil
}
