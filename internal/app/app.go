// Package app wires configuration, stores, collaborators and the query
// service into a runnable HTTP application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"duck-ask/internal/config"
	"duck-ask/internal/db"
	"duck-ask/internal/db/repository"
	"duck-ask/internal/domain"
	"duck-ask/internal/executor"
	"duck-ask/internal/interpreter"
	"duck-ask/internal/observability"
	"duck-ask/internal/service/query"
)

const (
	readPoolSize        = 4
	historyDrainTimeout = 5 * time.Second
)

// App holds the fully wired application. Close releases everything New
// opened, in reverse order.
type App struct {
	Config  *config.Config
	Metrics *observability.Metrics
	Sources *executor.Registry
	History *repository.HistoryRepo
	Queries *query.Service
	Interp  domain.Interpreter
	Router  http.Handler
	// Interrupted counts history rows failed at startup because the
	// previous process stopped while they were in flight.
	Interrupted int

	logger     *slog.Logger
	store      *db.Store
	dispatcher *query.HistoryDispatcher
	sweeper    *query.Sweeper
}

// New builds the application. ctx bounds background helpers such as the
// rate limiter cleanup; cancel it before calling Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = observability.NewMetrics(reg)

	// === Data sources ===
	srcCfg, found, err := executor.LoadConfig(cfg.DataSourcesPath)
	if err != nil {
		return nil, fmt.Errorf("data sources: %w", err)
	}
	if !found {
		logger.Info("no data source file, using the built-in demo source", "path", cfg.DataSourcesPath)
		srcCfg = executor.DemoConfig()
	}
	a.Sources, err = executor.NewRegistry(srcCfg, cfg.ResultMaxRows, logger.With("component", "executor"))
	if err != nil {
		return nil, fmt.Errorf("data sources: %w", err)
	}

	// === Interpreter ===
	a.Interp, err = newInterpreter(cfg, a.Sources, logger)
	if err != nil {
		return nil, fmt.Errorf("interpreter: %w", err)
	}

	// === History ===
	a.store, err = db.Open(cfg.HistoryDBPath, readPoolSize)
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	a.History = repository.NewHistoryRepo(a.store.Write, a.store.Read)
	a.Interrupted, err = failInterrupted(ctx, a.History, time.Now().UTC(), logger)
	if err != nil {
		logger.Warn("could not close out interrupted history records", "error", err)
	}
	a.dispatcher, err = query.NewHistoryDispatcher(a.History, cfg.HistoryWorkers, logger, a.Metrics)
	if err != nil {
		return nil, fmt.Errorf("history dispatcher: %w", err)
	}

	// === Coordinator ===
	a.Queries = query.NewService(a.Interp, a.Sources, a.Sources, a.dispatcher, query.Options{
		InterpretTimeout:       cfg.InterpretTimeout,
		ExecuteTimeout:         cfg.ExecuteTimeout,
		MaxClarificationRounds: cfg.MaxClarificationRounds,
		Retention:              cfg.RecordRetention,
		ClarificationIdle:      cfg.ClarificationIdle,
		Archive:                a.History,
		Logger:                 logger,
		Metrics:                a.Metrics,
	})
	a.sweeper, err = query.NewSweeper(a.Queries, query.DefaultSweepSchedule, logger)
	if err != nil {
		return nil, err
	}
	a.sweeper.Start()

	a.Router = newRouter(ctx, a)
	return a, nil
}

func newInterpreter(cfg *config.Config, sources interpreter.Describer, logger *slog.Logger) (domain.Interpreter, error) {
	switch cfg.Interpreter {
	case config.InterpreterOpenAI:
		return interpreter.NewOpenAI(interpreter.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		}, sources, logger)
	default:
		if cfg.InterpreterCatalogPath == "" {
			return interpreter.DemoCatalog(), nil
		}
		return interpreter.LoadCatalog(cfg.InterpreterCatalogPath)
	}
}

// Close stops the sweeper, fails in-flight records, drains pending history
// writes and closes the stores. It is safe on a partially built App.
func (a *App) Close() error {
	var errs []error
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.Queries != nil {
		a.Queries.Close()
	}
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(historyDrainTimeout); err != nil {
			errs = append(errs, fmt.Errorf("drain history: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history store: %w", err))
		}
	}
	if a.Sources != nil {
		if err := a.Sources.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close data sources: %w", err))
		}
	}
	return errors.Join(errs...)
}
