package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store is the PostgreSQL persistence layer: the second tier of the attack chain
// cache and an archive of analysis runs.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.ReportStore = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const (
	sqlLoadCacheEntry = `
        SELECT signature, report, created_at, ttl_seconds
        FROM attack_chain_cache
        WHERE signature = $1;
    `
	sqlSaveCacheEntry = `
        INSERT INTO attack_chain_cache (signature, report, created_at, ttl_seconds)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (signature) DO UPDATE SET
            report = EXCLUDED.report,
            created_at = EXCLUDED.created_at,
            ttl_seconds = EXCLUDED.ttl_seconds;
    `
	sqlDeleteCacheEntry = `DELETE FROM attack_chain_cache WHERE signature = $1;`
	sqlPurgeExpired     = `
        DELETE FROM attack_chain_cache
        WHERE ttl_seconds > 0 AND created_at + make_interval(secs => ttl_seconds) < $1;
    `
	sqlInsertRun = `
        INSERT INTO analysis_runs (run_id, signature, status, degraded, cache_hit, overall_risk_score, report, generated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	sqlInsertChain = `
        INSERT INTO attack_chains (id, run_id, name, severity, likelihood, complexity, risk_score, chain)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	sqlFindingsByRun = `
        SELECT id, kind, location, description, metadata
        FROM contract_findings
        WHERE run_id = $1
        ORDER BY kind ASC, location ASC, id ASC;
    `
)

// findingColumns is the CopyFrom column list for contract_findings.
var findingColumns = []string{"id", "run_id", "kind", "location", "description", "metadata"}

// LoadCacheEntry fetches a cache entry by signature. A missing row yields (nil, nil).
func (s *Store) LoadCacheEntry(ctx context.Context, signature string) (*schemas.CacheEntry, error) {
	var (
		entry   schemas.CacheEntry
		payload []byte
		ttlSecs int64
	)
	err := s.pool.QueryRow(ctx, sqlLoadCacheEntry, signature).Scan(&entry.Signature, &payload, &entry.CreatedAt, &ttlSecs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entry: %w", err)
	}
	entry.TTL = time.Duration(ttlSecs) * time.Second
	entry.Report = &schemas.ChainReport{}
	if err := json.Unmarshal(payload, entry.Report); err != nil {
		return nil, fmt.Errorf("failed to decode cached report: %w", err)
	}
	return &entry, nil
}

// SaveCacheEntry upserts a cache entry.
func (s *Store) SaveCacheEntry(ctx context.Context, entry schemas.CacheEntry) error {
	payload, err := json.Marshal(entry.Report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	// Ensure the timestamp is in UTC before insertion to prevent ambiguity.
	if _, err := s.pool.Exec(ctx, sqlSaveCacheEntry, entry.Signature, payload, entry.CreatedAt.UTC(), int64(entry.TTL/time.Second)); err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	return nil
}

// DeleteCacheEntry removes a cache entry. Deleting a missing entry is not an error.
func (s *Store) DeleteCacheEntry(ctx context.Context, signature string) error {
	if _, err := s.pool.Exec(ctx, sqlDeleteCacheEntry, signature); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// PurgeExpired deletes entries whose TTL elapsed before now and returns the count.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, sqlPurgeExpired, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PersistReport archives an analysis run, its findings and its attack chains in a
// single transaction.
func (s *Store) PersistReport(ctx context.Context, report *schemas.Report) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit returns pgx.ErrTxClosed; that is expected.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if _, err := tx.Exec(ctx, sqlInsertRun,
		report.RunID, report.Signature, string(report.Status), report.Degraded, report.CacheHit,
		report.OverallRiskScore, payload, report.GeneratedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert analysis run: %w", err)
	}

	if len(report.Findings) > 0 {
		if err := s.persistFindings(ctx, tx, report.RunID, report.Findings); err != nil {
			return err
		}
	}
	if len(report.AttackChains) > 0 {
		if err := s.persistChains(ctx, tx, report.RunID, report.AttackChains); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistFindings(ctx context.Context, tx pgx.Tx, runID string, findings []schemas.Finding) error {
	rows := make([][]interface{}, len(findings))
	for i, f := range findings {
		metadata, err := json.Marshal(f.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for finding %s: %w", f.ID, err)
		}
		rows[i] = []interface{}{f.ID, runID, string(f.Kind), f.Location, f.Description, metadata}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"contract_findings"}, findingColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(copyCount) != len(findings) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), copyCount)
	}
	return nil
}

func (s *Store) persistChains(ctx context.Context, tx pgx.Tx, runID string, chains []schemas.AttackChain) error {
	batch := &pgx.Batch{}
	for _, c := range chains {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to encode chain %s: %w", c.ID, err)
		}
		batch.Queue(sqlInsertChain, c.ID, runID, c.Name, string(c.Severity), string(c.Likelihood), string(c.Complexity), c.RiskScore, payload)
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	defer func() {
		_ = br.Close()
	}()
	for i := range chains {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert attack chain %s: %w", chains[i].ID, err)
		}
	}
	return nil
}

// GetFindingsByRunID retrieves the findings archived for a run, in canonical order.
func (s *Store) GetFindingsByRunID(ctx context.Context, runID string) ([]schemas.Finding, error) {
	rows, err := s.pool.Query(ctx, sqlFindingsByRun, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []schemas.Finding
	for rows.Next() {
		var (
			f        schemas.Finding
			kind     string
			metadata []byte
		)
		if err := rows.Scan(&f.ID, &kind, &f.Location, &f.Description, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}
		f.Kind = schemas.FindingKind(kind)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &f.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for finding %s: %w", f.ID, err)
			}
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return findings, nil
}
