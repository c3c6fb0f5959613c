package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	json "github.com/json-iterator/go"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

// utcTime accepts any time.Time that has already been normalized to UTC.
var utcTime = ArgumentMatcherFunc(func(v interface{}) bool {
	ts, ok := v.(time.Time)
	return ok && ts.Location() == time.UTC
})

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	store, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return store, mockPool
}

func sampleChainReport() *schemas.ChainReport {
	return &schemas.ChainReport{
		State:            "DONE",
		OverallRiskScore: 7.5,
		ExecutiveSummary: "Public endpoint leaks SSNs.",
		AttackChains: []schemas.AttackChain{{
			ID:       "chain-1",
			Name:     "SSN harvest",
			Severity: schemas.SeverityCritical,
			Steps:    []schemas.AttackStep{{Order: 1, Action: "enumerate ids", References: []string{"V-1"}}},
		}},
	}
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should tolerate a nil logger", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		s, err := New(context.Background(), mockPool, nil)
		require.NoError(t, err)
		assert.NotNil(t, s.log)
	})
}

func TestCacheEntries(t *testing.T) {
	ctx := context.Background()

	t.Run("should round trip a cache entry", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		report := sampleChainReport()
		payload, err := json.Marshal(report)
		require.NoError(t, err)
		created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlLoadCacheEntry)).
			WithArgs("sig-1").
			WillReturnRows(pgxmock.NewRows([]string{"signature", "report", "created_at", "ttl_seconds"}).
				AddRow("sig-1", payload, created, int64(3600)))

		entry, err := store.LoadCacheEntry(ctx, "sig-1")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, "sig-1", entry.Signature)
		assert.Equal(t, time.Hour, entry.TTL)
		assert.True(t, created.Equal(entry.CreatedAt))
		require.Len(t, entry.Report.AttackChains, 1)
		assert.Equal(t, "SSN harvest", entry.Report.AttackChains[0].Name)
		assert.Equal(t, 7.5, entry.Report.OverallRiskScore)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should return nil for a missing entry", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlLoadCacheEntry)).
			WithArgs("missing").
			WillReturnRows(pgxmock.NewRows([]string{"signature", "report", "created_at", "ttl_seconds"}))

		entry, err := store.LoadCacheEntry(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, entry)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should surface query errors", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		queryErr := errors.New("connection reset")
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlLoadCacheEntry)).
			WithArgs("sig-1").
			WillReturnError(queryErr)

		_, err := store.LoadCacheEntry(ctx, "sig-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, queryErr)
	})

	t.Run("should upsert with a UTC timestamp and TTL in seconds", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		loc, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)
		entry := schemas.CacheEntry{
			Signature: "sig-2",
			Report:    sampleChainReport(),
			CreatedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, loc),
			TTL:       90 * time.Minute,
		}

		mockPool.ExpectExec(flexibleSQLMatcher(sqlSaveCacheEntry)).
			WithArgs("sig-2", pgxmock.AnyArg(), utcTime, int64(5400)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.SaveCacheEntry(ctx, entry))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should delete an entry", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlDeleteCacheEntry)).
			WithArgs("sig-3").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		require.NoError(t, store.DeleteCacheEntry(ctx, "sig-3"))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report purged rows", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlPurgeExpired)).
			WithArgs(utcTime).
			WillReturnResult(pgxmock.NewResult("DELETE", 3))

		n, err := store.PurgeExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func sampleReport() *schemas.Report {
	return &schemas.Report{
		RunID:       uuid.NewString(),
		Signature:   "sig-run",
		Status:      schemas.StatusComplete,
		GeneratedAt: time.Now(),
		Findings: []schemas.Finding{{
			ID:          "F-1",
			Kind:        schemas.KindSensitiveField,
			Location:    "Person.ssn",
			Description: "ssn is a credential-tier field",
			Metadata:    schemas.FindingMetadata{Schema: "Person", Field: "ssn", Tier: schemas.TierCredential},
		}},
		AttackChains: []schemas.AttackChain{{
			ID:         "chain-1",
			Name:       "SSN harvest",
			Severity:   schemas.SeverityCritical,
			Likelihood: schemas.LikelihoodHigh,
			Complexity: schemas.ComplexityLow,
			RiskScore:  10,
		}},
		OverallRiskScore: 10,
	}
}

func TestPersistReport(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist a full report successfully without rollback errors", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		mockPool.ExpectPing()
		store, err := New(ctx, mockPool, zap.New(observedZapCore))
		require.NoError(t, err)

		report := sampleReport()
		chain := report.AttackChains[0]

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(report.RunID, "sig-run", "COMPLETE", false, false, 10.0, pgxmock.AnyArg(), utcTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"contract_findings"}, findingColumns).
			WillReturnResult(1)

		batchExp := mockPool.ExpectBatch()
		batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertChain)).
			WithArgs(chain.ID, report.RunID, chain.Name, "critical", "high", "low", 10.0, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		// Expect Commit AND the subsequent Rollback (which returns ErrTxClosed)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, store.PersistReport(ctx, report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should skip copy and batch for an empty report", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		report := &schemas.Report{RunID: uuid.NewString(), Status: schemas.StatusDeterministicOnly, GeneratedAt: time.Now()}

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(report.RunID, "", "DETERMINISTIC_ONLY", false, false, 0.0, pgxmock.AnyArg(), utcTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, store.PersistReport(ctx, report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should handle transaction begin failure", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		beginErr := errors.New("cannot begin tx")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		err := store.PersistReport(ctx, sampleReport())
		require.Error(t, err)
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback if persisting findings fails", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		copyErr := errors.New("copy from failed")
		report := sampleReport()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(report.RunID, "sig-run", "COMPLETE", false, false, 10.0, pgxmock.AnyArg(), utcTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"contract_findings"}, findingColumns).
			WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err := store.PersistReport(ctx, report)
		require.Error(t, err)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback if the chain batch fails", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		batchErr := errors.New("batch execution failed")
		report := sampleReport()
		chain := report.AttackChains[0]

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(report.RunID, "sig-run", "COMPLETE", false, false, 10.0, pgxmock.AnyArg(), utcTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"contract_findings"}, findingColumns).
			WillReturnResult(1)
		batchExp := mockPool.ExpectBatch()
		batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertChain)).
			WithArgs(chain.ID, report.RunID, chain.Name, "critical", "high", "low", 10.0, pgxmock.AnyArg()).
			WillReturnError(batchErr)
		mockPool.ExpectRollback()

		err := store.PersistReport(ctx, report)
		require.Error(t, err)
		assert.ErrorIs(t, err, batchErr)
		assert.Contains(t, err.Error(), "failed to insert attack chain chain-1")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestGetFindingsByRunID(t *testing.T) {
	ctx := context.Background()

	t.Run("should decode rows in order", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		runID := uuid.NewString()
		meta, err := json.Marshal(schemas.FindingMetadata{Schema: "Person", Field: "ssn", Tier: schemas.TierCredential})
		require.NoError(t, err)

		rows := pgxmock.NewRows([]string{"id", "kind", "location", "description", "metadata"}).
			AddRow("F-1", "SENSITIVE_FIELD", "Person.ssn", "ssn", meta).
			AddRow("F-2", "PUBLIC_ENDPOINT", "GET /people/{id}", "public", []byte(nil))
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlFindingsByRun)).
			WithArgs(runID).
			WillReturnRows(rows)

		findings, err := store.GetFindingsByRunID(ctx, runID)
		require.NoError(t, err)
		require.Len(t, findings, 2)
		assert.Equal(t, schemas.KindSensitiveField, findings[0].Kind)
		assert.Equal(t, schemas.TierCredential, findings[0].Metadata.Tier)
		assert.Equal(t, "Person", findings[0].Metadata.Schema)
		assert.Equal(t, schemas.KindPublicEndpoint, findings[1].Kind)
		assert.Empty(t, findings[1].Metadata.Schema)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should surface row errors", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		rowErr := errors.New("row decode failed")
		rows := pgxmock.NewRows([]string{"id", "kind", "location", "description", "metadata"}).
			AddRow("F-1", "SENSITIVE_FIELD", "Person.ssn", "ssn", []byte("{}")).
			RowError(0, rowErr)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlFindingsByRun)).
			WithArgs("run").
			WillReturnRows(rows)

		_, err := store.GetFindingsByRunID(ctx, "run")
		require.Error(t, err)
	})
}
