// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/agent"
	"github.com/xkilldash9x/scalpel-contract/internal/cache"
	"github.com/xkilldash9x/scalpel-contract/internal/config"
	"github.com/xkilldash9x/scalpel-contract/internal/engine"
	"github.com/xkilldash9x/scalpel-contract/internal/knowledge"
	"github.com/xkilldash9x/scalpel-contract/internal/orchestrator"
	"github.com/xkilldash9x/scalpel-contract/internal/store"
)

const cacheJanitorInterval = 10 * time.Minute

// ComponentFactory creates the set of components needed for an analysis. The
// abstraction keeps the command layer testable.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires the engine and, when a reasoning backend is available, the agent
// pipeline with its cache and knowledge service. A missing or broken backend is not
// an error: the engine then produces deterministic-only reports.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	components := &Components{}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Database, only when something needs it.
	needsDB := cfg.Cache().Persistent || cfg.Knowledge().Source == "postgres"
	if needsDB {
		pool, err := InitializeDBPool(ctx, cfg.Database().URL, logger)
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.DBPool = pool

		dbStore, err := store.New(ctx, pool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize database store: %w", err)
			return nil, initializationErr
		}
		components.Store = dbStore
		logger.Debug("Store service initialized.")
	}

	opts := engine.Options{MaxVulnerabilities: cfg.Orchestrator().MaxVulnerabilities}
	if components.Store != nil {
		opts.Persister = components.Store
	}

	// 2. Reasoning backend.
	if f.reasoningAvailable(cfg, logger) {
		llm, err := InitializeLLMClient(ctx, cfg.Agent(), logger)
		if err != nil {
			logger.Warn("Continuing without reasoning backend.", zap.Error(err))
		} else {
			components.LLM = llm
		}
	}

	if components.LLM != nil {
		// 3. Knowledge retrieval. Agents run without context if it is unavailable.
		var querier knowledge.Querier
		if components.DBPool != nil {
			querier = components.DBPool
		}
		var retriever schemas.KnowledgeRetriever
		svc, err := InitializeKnowledge(ctx, cfg.Knowledge(), cfg.Agent(), querier, logger)
		if err != nil {
			logger.Warn("Knowledge retrieval unavailable, agents will run without retrieved context.", zap.Error(err))
		} else {
			components.Knowledge = svc
			retriever = svc
		}

		// 4. Agents and orchestrator.
		topK := cfg.Knowledge().TopK
		orch, err := orchestrator.New(
			agent.NewScanner(logger, cfg.Orchestrator().MaxVulnerabilities),
			agent.NewThreatModeler(components.LLM, retriever, topK, logger),
			agent.NewReporter(components.LLM, retriever, topK, logger),
			orchestrator.OptionsFromConfig(cfg.Orchestrator()),
			logger,
		)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create orchestrator: %w", err)
			return nil, initializationErr
		}
		components.Orchestrator = orch
		opts.Reasoner = orch

		// 5. Attack chain cache.
		var reportStore schemas.ReportStore
		if components.Store != nil && cfg.Cache().Persistent {
			reportStore = components.Store
			janitorCtx, cancel := context.WithCancel(context.Background())
			components.stopJanitor = cancel
			components.janitorWG = &sync.WaitGroup{}
			StartCacheJanitor(janitorCtx, components.janitorWG, components.Store, cacheJanitorInterval, logger)
		}
		components.Cache = cache.New(cfg.Cache(), reportStore, logger)
		opts.Cache = components.Cache
	}

	// 6. Engine.
	components.Engine = engine.New(logger, cfg.Analysis(), opts)
	logger.Info("Components initialized.",
		zap.Bool("reasoning", components.Engine.ReasoningEnabled()),
		zap.Bool("persistent_store", components.Store != nil))
	return components, nil
}

func (f *concreteFactory) reasoningAvailable(cfg config.Interface, logger *zap.Logger) bool {
	if !cfg.Orchestrator().Enabled {
		logger.Info("Reasoning disabled by configuration.")
		return false
	}
	llm := cfg.Agent().LLM
	if llm.ModelConfig(llm.DefaultPowerfulModel).APIKey == "" {
		logger.Info("No LLM API key configured, reasoning disabled (hint: set SCALPEL_LLM_API_KEY).")
		return false
	}
	return true
}
