package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"conductor/internal/config"
	"conductor/internal/executor"
	"conductor/internal/jobs"
	"conductor/internal/ratelimit"
	"conductor/internal/retry"
	"conductor/internal/scheduler"
	"conductor/internal/store"
)

// App wires the orchestration core together: one rate limiter and retry
// policy shared by every worker, a scheduler, a batch store backend and the
// job manager.
type App struct {
	Config     *config.Config
	Limiter    *ratelimit.Limiter
	Retrier    *retry.Executor
	Scheduler  *scheduler.Scheduler
	BatchStore store.BatchStore
	Manager    *jobs.Manager
}

func NewApp(cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	app.Limiter = ratelimit.New(cfg.RateLimit.MaxCalls, cfg.RateLimit.Window)

	app.Retrier = retry.New(app.Limiter)
	if cfg.Retry.MaxRetries > 0 {
		app.Retrier.MaxRetries = cfg.Retry.MaxRetries
	}
	if cfg.Retry.BaseDelay > 0 {
		app.Retrier.BaseDelay = cfg.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay > 0 {
		app.Retrier.MaxDelay = cfg.Retry.MaxDelay
	}

	app.Scheduler = scheduler.New(app.Retrier)

	if err := app.initBatchStore(); err != nil {
		return nil, err
	}

	app.Manager = jobs.NewManager(app.Scheduler, app.BatchStore)
	log.Debugf("Application initialization complete (store backend: %s)", cfg.Store.Backend)
	return app, nil
}

func (a *App) initBatchStore() error {
	switch a.Config.Store.Backend {
	case "file", "":
		s, err := store.NewFileStore(a.Config.Store.Dir)
		if err != nil {
			return fmt.Errorf("init file batch store: %w", err)
		}
		a.BatchStore = s
	case "sqlite":
		s, err := store.NewSQLiteStore(a.Config.Store.DSN)
		if err != nil {
			return fmt.Errorf("init sqlite batch store: %w", err)
		}
		a.BatchStore = s
	default:
		return fmt.Errorf("unknown store backend %q (want \"file\" or \"sqlite\")", a.Config.Store.Backend)
	}
	return nil
}

// NewExecutor builds the configured LLM executor. Errors here are job-fatal:
// a job submitted without a working collaborator fails before any task runs.
func (a *App) NewExecutor(ctx context.Context) (executor.TaskExecutor, error) {
	p := a.Config.Provider
	switch p.Name {
	case "openai", "":
		return executor.NewOpenAIExecutor(p.OpenaiApiKey, p.Model, p.PromptTemplate)
	case "gemini":
		return executor.NewGeminiExecutor(ctx, p.GoogleApiKey, p.Model, p.PromptTemplate)
	default:
		return nil, fmt.Errorf("unknown provider %q (want \"openai\" or \"gemini\")", p.Name)
	}
}

// JobOptions translates the worker configuration into submission options.
func (a *App) JobOptions() jobs.Options {
	return jobs.Options{
		Concurrency:   a.Config.Worker.Concurrency,
		PriorityOrder: a.Config.Worker.PriorityOrder,
	}
}
