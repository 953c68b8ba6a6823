package main

import (
	"context"
	"time"

	"skb/internal/config"
	"skb/internal/embedding"
	"skb/internal/guard"
	"skb/internal/llm"
	"skb/internal/logging"
	"skb/internal/pipeline"
	"skb/internal/recall"
	"skb/internal/scheduler"
	"skb/internal/storage"
	"skb/internal/tracker"
	"skb/internal/vectorstore"
)

// engine wires the full component graph for a project. Commands build
// one, use what they need and Close it.
type engine struct {
	cfg      *config.Config
	logger   *logging.Logger
	db       *storage.DB
	tracker  *tracker.Tracker
	store    *vectorstore.Store
	llm      *llm.Client
	embedder *embedding.Client
	pipeline *pipeline.Pipeline
	recaller *recall.Recaller
	guard    *guard.Guard
}

func newEngine(repoRoot string) (*engine, error) {
	cfg, err := config.Load(repoRoot)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	logger := logging.New(logging.Config{
		Format: logging.Format(cfg.Logging.Format),
		Level:  logging.Level(level),
	})

	db, err := storage.Open(repoRoot, logger)
	if err != nil {
		return nil, err
	}

	store, err := vectorstore.New(db, cfg.Store, cfg.ProjectKey, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	tr := tracker.New(repoRoot, logger)
	if err := tr.Load(); err != nil {
		_ = db.Close()
		return nil, err
	}

	g, err := guard.New(cfg.Guard, cfg.ProjectKey, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	llmClient := llm.NewClient(cfg.Llm, logger)
	embedder := embedding.NewClient(cfg.Embedding, logger)

	var reranker recall.Reranker
	if rr := embedding.NewReranker(cfg.Rerank, logger); rr != nil {
		reranker = rr
	}

	return &engine{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		tracker:  tr,
		store:    store,
		llm:      llmClient,
		embedder: embedder,
		pipeline: pipeline.New(cfg, tr, llmClient, embedder, store, db, logger),
		recaller: recall.New(recall.NewRepository(db), store, embedder, reranker, logger),
		guard:    g,
	}, nil
}

func (e *engine) Close() {
	e.guard.Close()
	if err := e.tracker.Flush(); err != nil {
		e.logger.Warn("failed to flush snapshot cache on shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := e.db.Close(); err != nil {
		e.logger.Warn("failed to close database", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// newScheduler builds the background refresh loop over this engine
func (e *engine) newScheduler() *scheduler.Scheduler {
	interval := time.Duration(e.cfg.Scheduler.IntervalMinutes) * time.Minute
	s := scheduler.New(interval, e.logger)
	s.Register("vectorize", func(ctx context.Context) error {
		_, err := e.pipeline.VectorizeProject(ctx, false)
		return err
	})
	return s
}
