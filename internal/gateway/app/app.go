package app

import (
	"context"
	"fmt"

	"draftflow/internal/gateway/config"
	"draftflow/internal/gateway/events"
	"draftflow/internal/gateway/handler"
	"draftflow/internal/gateway/server"
	"draftflow/internal/jobs"
	"draftflow/internal/repo"
	"draftflow/internal/wizard"
)

type App struct {
	server *server.Server
	repo   *repo.Repository
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Dependencies
	origin, blobs, err := initStores(cfg)
	if err != nil {
		return nil, err
	}
	repository := repo.New(origin, blobs, repo.DefaultCacheConfig())

	router, err := initServices(ctx, cfg)
	if err != nil {
		return nil, err
	}

	broker := events.NewBroker()
	orch := jobs.NewOrchestrator(repository, router, jobs.Config{
		PollInterval:    cfg.Poll.Interval,
		MaxPollAttempts: cfg.Poll.MaxAttempts,
	}, broker.Publish)
	svc := wizard.New(repository, orch)

	// Routing & Server
	mux := server.NewMux(handler.New(svc, repository, broker))
	srv := server.New(cfg.Port, mux)

	return &App{
		server: srv,
		repo:   repository,
	}, nil
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.repo.FlushPending(ctx)
	return a.server.Shutdown(ctx)
}
