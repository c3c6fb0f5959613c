// File: internal/service/components.go
package service

import (
	"io"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/cache"
	"github.com/xkilldash9x/scalpel-contract/internal/engine"
	"github.com/xkilldash9x/scalpel-contract/internal/knowledge"
	"github.com/xkilldash9x/scalpel-contract/internal/observability"
	"github.com/xkilldash9x/scalpel-contract/internal/orchestrator"
	"github.com/xkilldash9x/scalpel-contract/internal/store"
)

// Components holds all the initialized services required for an analysis run and
// centralizes their lifecycle.
type Components struct {
	Engine       *engine.Engine
	Orchestrator *orchestrator.Orchestrator
	Cache        *cache.Cache
	Knowledge    *knowledge.Service
	LLM          schemas.LLMClient
	Store        *store.Store
	DBPool       *pgxpool.Pool

	// stopJanitor cancels the cache janitor; janitorWG waits for it to exit.
	stopJanitor func()
	janitorWG   *sync.WaitGroup
}

// Shutdown releases resources in reverse order of creation. It is safe to call on
// partially initialized components.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	if c.stopJanitor != nil {
		c.stopJanitor()
	}
	if c.janitorWG != nil {
		c.janitorWG.Wait()
		logger.Debug("Cache janitor stopped.")
	}

	if closer, ok := c.LLM.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
		}
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}
	logger.Debug("All components shut down.")
}
