package retrieval

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/asetia/portfolio-assistant/internal/model/rag"
)

// PgIndex runs similarity search against the pgvector-backed chunk table.
// The API server only reads; writes come from the ingest tool.
type PgIndex struct {
	db *sqlx.DB
}

func NewPgIndex(db *sqlx.DB) *PgIndex {
	return &PgIndex{db: db}
}

type chunkRow struct {
	ID       string  `db:"id"`
	Content  string  `db:"content"`
	Source   string  `db:"source"`
	Section  string  `db:"section"`
	Category string  `db:"category"`
	Score    float64 `db:"score"`
}

const searchQuery = `
	SELECT id, content, source, section, category,
	       1 - (embedding <=> $1) AS score
	FROM portfolio_chunks
	WHERE ($2 = '' OR category = $2)
	ORDER BY embedding <=> $1
	LIMIT $3
`

// Query returns the closest chunks to the supplied embedding, optionally
// constrained to one metadata category. Cosine distance is mapped to a
// similarity in [0, 1].
func (p *PgIndex) Query(ctx context.Context, vec []float32, category string, limit int) ([]rag.Match, error) {
	if p.db == nil {
		return nil, nil
	}

	var rows []chunkRow
	if err := p.db.SelectContext(ctx, &rows, searchQuery, pgvector.NewVector(vec), category, limit); err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	matches := make([]rag.Match, 0, len(rows))
	for _, row := range rows {
		matches = append(matches, rag.Match{
			Chunk: rag.Chunk{
				ID:       row.ID,
				Content:  row.Content,
				Source:   row.Source,
				Section:  row.Section,
				Category: row.Category,
			},
			Score: row.Score,
		})
	}
	return matches, nil
}

const schemaDDL = `
	CREATE EXTENSION IF NOT EXISTS vector;
	CREATE TABLE IF NOT EXISTS portfolio_chunks (
		id        TEXT PRIMARY KEY,
		content   TEXT NOT NULL,
		source    TEXT NOT NULL,
		section   TEXT NOT NULL DEFAULT '',
		category  TEXT NOT NULL DEFAULT '',
		embedding vector(%d) NOT NULL
	);
	CREATE INDEX IF NOT EXISTS portfolio_chunks_category_idx ON portfolio_chunks (category);
`

// EnsureSchema creates the chunk table when it does not exist yet.
func (p *PgIndex) EnsureSchema(ctx context.Context, dimensions int) error {
	if p.db == nil {
		return fmt.Errorf("no database configured")
	}
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(schemaDDL, dimensions))
	return err
}

// ReplaceSource swaps all chunks of one source document in a single
// transaction, so re-ingesting a file never leaves stale sections behind.
func (p *PgIndex) ReplaceSource(ctx context.Context, source string, chunks []rag.Chunk, vectors [][]float32) error {
	if p.db == nil {
		return fmt.Errorf("no database configured")
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk and vector counts differ: %d vs %d", len(chunks), len(vectors))
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM portfolio_chunks WHERE source = $1`, source); err != nil {
		return fmt.Errorf("clear source %s: %w", source, err)
	}

	const insert = `
		INSERT INTO portfolio_chunks (id, content, source, section, category, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for i, c := range chunks {
		if _, err := tx.ExecContext(ctx, insert,
			c.ID, c.Content, c.Source, c.Section, c.Category, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}
