package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// Querier is the read-only subset of pgxpool.Pool the Postgres source needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

const sqlSelectChunks = `
    SELECT id, corpus, title, content, embedding
    FROM knowledge_chunks
    ORDER BY corpus ASC, id ASC;
`

// PostgresSource reads pre-embedded chunks populated by an external batch job.
type PostgresSource struct {
	pool Querier
}

func NewPostgresSource(pool Querier) *PostgresSource {
	return &PostgresSource{pool: pool}
}

func (p *PostgresSource) Chunks(ctx context.Context) ([]schemas.KnowledgeChunk, error) {
	rows, err := p.pool.Query(ctx, sqlSelectChunks)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge chunks: %w", err)
	}
	defer rows.Close()

	var chunks []schemas.KnowledgeChunk
	for rows.Next() {
		var (
			c      schemas.KnowledgeChunk
			corpus string
		)
		if err := rows.Scan(&c.ID, &corpus, &c.Title, &c.Content, &c.Embedding); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge chunk: %w", err)
		}
		c.Corpus = schemas.Corpus(corpus)
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return chunks, nil
}
