package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/cooperage/internal/config"
	"github.com/cooperage/pkg/models"
)

// PostgresStore implements MaltStore and the settings stores on Postgres
// with the pgvector extension
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database, verifies connectivity and ensures
// the schema exists
func NewPostgresStore(cfg config.PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initializeSchema(ctx); err != nil {
		log.Printf("Warning: failed to initialize postgres schema: %v", err)
	}

	return store, nil
}

func (s *PostgresStore) initializeSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS malts (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			maltster_id UUID NOT NULL,
			local_id TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'DISTILLED_READY',
			summary TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			memo TEXT NOT NULL DEFAULT '',
			embedding vector(%d),
			synced_at BIGINT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			UNIQUE (maltster_id, local_id)
		)`, models.EmbeddingDimensions),
		`CREATE INDEX IF NOT EXISTS malts_status_idx ON malts (status)`,
		`CREATE INDEX IF NOT EXISTS malts_embedding_idx ON malts
			USING hnsw (embedding vector_cosine_ops)`,
		`CREATE TABLE IF NOT EXISTS pipeline_settings (
			singleton_key TEXT PRIMARY KEY DEFAULT 'default',
			interval_minutes INT NOT NULL DEFAULT 30,
			similarity_threshold REAL NOT NULL DEFAULT 0.75,
			top_k INT NOT NULL DEFAULT 5,
			updated_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ai_settings (
			singleton_key TEXT PRIMARY KEY DEFAULT 'default',
			embedding_model TEXT NOT NULL DEFAULT 'text-embedding-3-small',
			chat_provider TEXT NOT NULL DEFAULT 'openai',
			chat_model TEXT NOT NULL DEFAULT 'gpt-4o-mini',
			updated_at TIMESTAMPTZ DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// nullableVector scans a possibly-NULL pgvector column
type nullableVector struct {
	vec   pgvector.Vector
	valid bool
}

func (n *nullableVector) Scan(src interface{}) error {
	if src == nil {
		n.valid = false
		return nil
	}
	n.valid = true
	return n.vec.Scan(src)
}

func vectorParam(embedding []float32) interface{} {
	if embedding == nil {
		return nil
	}
	return pgvector.NewVector(embedding)
}

// CreateMalt inserts a malt. A re-ingest of the same (maltster_id, local_id)
// refreshes the text fields, clears the embedding and re-queues the malt for
// distillation.
func (s *PostgresStore) CreateMalt(ctx context.Context, malt models.Malt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO malts (id, maltster_id, local_id, type, status, summary, context, memo, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (maltster_id, local_id) DO UPDATE
		SET type = EXCLUDED.type, status = EXCLUDED.status,
		    summary = EXCLUDED.summary, context = EXCLUDED.context,
		    memo = EXCLUDED.memo, embedding = NULL,
		    updated_at = EXCLUDED.updated_at
	`, malt.ID, malt.MaltsterID, malt.LocalID, malt.Type, string(malt.Status),
		malt.Summary, malt.Context, malt.Memo, malt.CreatedAt, malt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create malt: %w", err)
	}
	return nil
}

// ListByStatus returns malts in the given pipeline state
func (s *PostgresStore) ListByStatus(ctx context.Context, status models.MaltStatus) ([]models.Malt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, maltster_id, local_id, type, status, summary, context, memo, embedding, created_at, updated_at
		FROM malts
		WHERE status = $1
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list malts by status: %w", err)
	}
	defer rows.Close()

	return scanMalts(rows)
}

func scanMalts(rows *sql.Rows) ([]models.Malt, error) {
	var malts []models.Malt
	for rows.Next() {
		var m models.Malt
		var embedding nullableVector
		if err := rows.Scan(&m.ID, &m.MaltsterID, &m.LocalID, &m.Type, &m.Status,
			&m.Summary, &m.Context, &m.Memo, &embedding, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan malt: %w", err)
		}
		if embedding.valid {
			m.Embedding = embedding.vec.Slice()
		}
		malts = append(malts, m)
	}
	return malts, rows.Err()
}

// MarkDistilled sets status to DISTILLED and stores embeddings in one transaction
func (s *PostgresStore) MarkDistilled(ctx context.Context, updates []EmbeddingUpdate) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	count := 0
	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `
			UPDATE malts SET status = $1, embedding = $2, updated_at = $3 WHERE id = $4
		`, string(models.StatusDistilled), vectorParam(u.Embedding), now, u.ID); err != nil {
			return 0, fmt.Errorf("failed to mark malt %s distilled: %w", u.ID, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit distill updates: %w", err)
	}
	return count, nil
}

// PromoteToCasked sets every listed malt's status to CASKED in one transaction
func (s *PostgresStore) PromoteToCasked(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	count := 0
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE malts SET status = $1, updated_at = $2 WHERE id = $3
		`, string(models.StatusCasked), now, id); err != nil {
			return 0, fmt.Errorf("failed to promote malt %s: %w", id, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit status promotion: %w", err)
	}
	return count, nil
}

// GetSummaries resolves summaries for the given malt ids
func (s *PostgresStore) GetSummaries(ctx context.Context, ids []string) (map[string]string, error) {
	summaries := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return summaries, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, summary FROM malts WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, summary string
		if err := rows.Scan(&id, &summary); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries[id] = summary
	}
	return summaries, rows.Err()
}

// GetByIDs returns id, summary and embedding for the given malt ids
func (s *PostgresStore) GetByIDs(ctx context.Context, ids []string) ([]models.Malt, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, maltster_id, local_id, type, status, summary, context, memo, embedding, created_at, updated_at
		FROM malts
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load malts by ids: %w", err)
	}
	defer rows.Close()

	return scanMalts(rows)
}

// FindSimilarCasked runs a pgvector cosine-distance search against casked
// malts. Results are ordered by ascending distance (descending similarity).
func (s *PostgresStore) FindSimilarCasked(ctx context.Context, sourceID string, embedding []float32, topK int, threshold float64) ([]models.SimilarPair, error) {
	// cosine distance <= 1 - threshold is similarity >= threshold
	maxDistance := 1 - threshold

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, embedding <=> $1 AS distance
		FROM malts
		WHERE status = $2
		  AND id <> $3
		  AND embedding IS NOT NULL
		  AND embedding <=> $1 <= $4
		ORDER BY distance
		LIMIT $5
	`, pgvector.NewVector(embedding), string(models.StatusCasked), sourceID, maxDistance, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var pairs []models.SimilarPair
	for rows.Next() {
		var targetID string
		var distance float64
		if err := rows.Scan(&targetID, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan similarity row: %w", err)
		}
		pairs = append(pairs, models.SimilarPair{
			SourceID:   sourceID,
			TargetID:   targetID,
			Similarity: 1 - distance,
		})
	}
	return pairs, rows.Err()
}

// SearchCasked runs a pgvector cosine-distance search for a query embedding
// against casked malts
func (s *PostgresStore) SearchCasked(ctx context.Context, embedding []float32, topK int, threshold float64) ([]models.SimilarMatch, error) {
	maxDistance := 1 - threshold

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, embedding <=> $1 AS distance
		FROM malts
		WHERE status = $2
		  AND embedding IS NOT NULL
		  AND embedding <=> $1 <= $3
		ORDER BY distance
		LIMIT $4
	`, pgvector.NewVector(embedding), string(models.StatusCasked), maxDistance, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var matches []models.SimilarMatch
	for rows.Next() {
		var m models.SimilarMatch
		var distance float64
		if err := rows.Scan(&m.ID, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan vector search row: %w", err)
		}
		m.Similarity = 1 - distance
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// ResetForReEmbed moves casked malts back to the pre-distillation state,
// clearing embeddings. Graph edges are left untouched.
func (s *PostgresStore) ResetForReEmbed(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE malts SET status = $1, embedding = NULL, updated_at = $2 WHERE status = $3
	`, string(models.StatusDistilledReady), time.Now().UnixMilli(), string(models.StatusCasked))
	if err != nil {
		return 0, fmt.Errorf("re-embed reset failed: %w", err)
	}

	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// ResetForReExtract moves casked malts back to DISTILLED, keeping embeddings
func (s *PostgresStore) ResetForReExtract(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE malts SET status = $1, updated_at = $2 WHERE status = $3
	`, string(models.StatusDistilled), time.Now().UnixMilli(), string(models.StatusCasked))
	if err != nil {
		return 0, fmt.Errorf("re-extract reset failed: %w", err)
	}

	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
