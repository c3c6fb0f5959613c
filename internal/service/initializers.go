// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/config"
	"github.com/xkilldash9x/scalpel-contract/internal/knowledge"
	"github.com/xkilldash9x/scalpel-contract/internal/llmclient"
)

// InitializeDBPool creates and verifies a PostgreSQL connection pool.
func InitializeDBPool(ctx context.Context, url string, logger *zap.Logger) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("database URL is not configured (hint: check SCALPEL_DATABASE_URL)")
	}
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	logger.Debug("Database connection pool initialized.")
	return pool, nil
}

// InitializeLLMClient creates the reasoning backend from the agent configuration.
func InitializeLLMClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	llmClient, err := llmclient.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client. Reports will be deterministic only.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return llmClient, nil
}

// InitializeEmbedder selects the query embedder. The Gemini embedder borrows the
// credentials of the agent configuration.
func InitializeEmbedder(ctx context.Context, cfg config.KnowledgeConfig, agentCfg config.AgentConfig) (schemas.Embedder, error) {
	switch cfg.Embedder {
	case "", "hashing":
		return knowledge.NewHashingEmbedder(cfg.Dimension), nil
	case "gemini":
		client, err := llmclient.NewGenAIClient(ctx, agentCfg.LLM.ModelConfig(cfg.EmbeddingModel))
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding client: %w", err)
		}
		return knowledge.NewGeminiEmbedder(client, cfg.EmbeddingModel, cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedder: %s", cfg.Embedder)
	}
}

// InitializeKnowledge builds and loads the retrieval service. pool is only used by
// the postgres source.
func InitializeKnowledge(ctx context.Context, cfg config.KnowledgeConfig, agentCfg config.AgentConfig, pool knowledge.Querier, logger *zap.Logger) (*knowledge.Service, error) {
	embedder, err := InitializeEmbedder(ctx, cfg, agentCfg)
	if err != nil {
		return nil, err
	}

	var src knowledge.Source
	switch cfg.Source {
	case "", "memory":
		src, err = knowledge.DefaultSource()
	case "file":
		src, err = knowledge.FileSource(cfg.File)
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("knowledge source postgres requires a database connection")
		}
		src = knowledge.NewPostgresSource(pool)
	default:
		err = fmt.Errorf("unsupported knowledge source: %s", cfg.Source)
	}
	if err != nil {
		return nil, err
	}

	svc := knowledge.NewService(logger, embedder, cfg.TopK)
	if err := svc.Load(ctx, src); err != nil {
		return nil, fmt.Errorf("failed to load knowledge corpora: %w", err)
	}
	logger.Info("Knowledge corpora loaded.",
		zap.String("source", cfg.Source),
		zap.Int("attacker_chunks", svc.Size(schemas.CorpusAttacker)),
		zap.Int("governance_chunks", svc.Size(schemas.CorpusGovernance)))
	return svc, nil
}

// ExpiredEntryPurger is the part of the store the cache janitor needs.
type ExpiredEntryPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// StartCacheJanitor launches a goroutine that deletes expired persistent cache
// entries once immediately and then on every interval tick. It manages its
// lifecycle using the provided WaitGroup and exits when ctx is done.
func StartCacheJanitor(ctx context.Context, wg *sync.WaitGroup, purger ExpiredEntryPurger, interval time.Duration, logger *zap.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Debug("Starting cache janitor.", zap.Duration("interval", interval))
		defer logger.Debug("Cache janitor shut down.")

		purge := func() {
			// Detached from ctx so a purge in progress completes during shutdown.
			purgeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			n, err := purger.PurgeExpired(purgeCtx, time.Now())
			if err != nil {
				logger.Warn("Failed to purge expired cache entries.", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("Purged expired cache entries.", zap.Int64("count", n))
			}
		}

		purge()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				purge()
			case <-ctx.Done():
				return
			}
		}
	}()
}
