package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"knowledge-rag/internal/config"
	"knowledge-rag/internal/models"
)

// Collection records a named partition so that empty ones can still be listed.
type Collection struct {
	bun.BaseModel `bun:"table:collections,alias:col"`
	Name          string `bun:"name,pk"`
	Dimension     int    `bun:"dimension,notnull"`
}

type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`
	Collection    string            `bun:"collection,pk"`
	ID            string            `bun:"id,pk"`
	DocumentID    string            `bun:"document_id,notnull"`
	Content       string            `bun:"content,notnull"`
	Metadata      map[string]string `bun:"metadata,type:jsonb"`
	Embedding     pgvector.Vector   `bun:"embedding,type:vector,notnull"`
}

type scoredChunk struct {
	ID       string            `bun:"id"`
	Content  string            `bun:"content"`
	Metadata map[string]string `bun:"metadata,type:jsonb"`
	Score    float64           `bun:"score"`
}

// Store keeps every collection in one chunks table keyed by (collection, id)
// and ranks by pgvector cosine distance.
type Store struct {
	db *bun.DB
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is required")
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

// Open connects, installs the vector extension and creates the tables.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: NewDB(sqldb, cfg.Debug)}
	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("%w: %v", models.ErrVectorStoreUnavailable, err)
	}
	if err := InitDB(ctx, s.db); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Collection)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create collections table: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Chunk)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}
	_, err := db.NewCreateIndex().Model((*Chunk)(nil)).
		Index("chunks_document_idx").
		Column("collection", "document_id").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create chunks index: %w", err)
	}
	return nil
}

func (s *Store) EnsureCollection(ctx context.Context, name string, dimension int) error {
	_, err := s.db.NewInsert().
		Model(&Collection{Name: name, Dimension: dimension}).
		On("CONFLICT (name) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: ensure collection %s: %v", models.ErrVectorStoreUnavailable, name, err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx, collection, len(records[0].Embedding)); err != nil {
		return err
	}
	if _, err := upsertQuery(s.db, collection, records).Exec(ctx); err != nil {
		return fmt.Errorf("%w: upsert into %s: %v", models.ErrVectorStoreUnavailable, collection, err)
	}
	return nil
}

func upsertQuery(db bun.IDB, collection string, records []models.Record) *bun.InsertQuery {
	rows := make([]Chunk, len(records))
	for i, r := range records {
		rows[i] = Chunk{
			Collection: collection,
			ID:         r.ID,
			DocumentID: r.Metadata[models.MetaDocumentID],
			Content:    r.Text,
			Metadata:   r.Metadata,
			Embedding:  pgvector.NewVector(r.Embedding),
		}
	}
	return db.NewInsert().
		Model(&rows).
		On("CONFLICT (collection, id) DO UPDATE").
		Set("document_id = EXCLUDED.document_id").
		Set("content = EXCLUDED.content").
		Set("metadata = EXCLUDED.metadata").
		Set("embedding = EXCLUDED.embedding")
}

func (s *Store) Search(ctx context.Context, collection string, vector []float32, topK int) ([]models.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	var rows []scoredChunk
	if err := searchQuery(s.db, collection, vector, topK).Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", models.ErrVectorStoreUnavailable, collection, err)
	}
	matches := make([]models.Match, len(rows))
	for i, r := range rows {
		matches[i] = models.Match{ID: r.ID, Score: r.Score, Text: r.Content, Metadata: r.Metadata}
	}
	return matches, nil
}

func searchQuery(db bun.IDB, collection string, vector []float32, topK int) *bun.SelectQuery {
	vec := pgvector.NewVector(vector)
	return db.NewSelect().
		Model((*Chunk)(nil)).
		Column("id", "content", "metadata").
		ColumnExpr("1 - (embedding <=> ?) AS score", vec).
		Where("collection = ?", collection).
		OrderExpr("embedding <=> ?", vec).
		OrderExpr("id").
		Limit(topK)
}

func (s *Store) Get(ctx context.Context, collection string, ids []string) ([]models.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []Chunk
	err := s.db.NewSelect().
		Model(&rows).
		Where("collection = ?", collection).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: get from %s: %v", models.ErrVectorStoreUnavailable, collection, err)
	}
	out := make([]models.Record, len(rows))
	for i, r := range rows {
		out[i] = models.Record{ID: r.ID, Text: r.Content, Embedding: r.Embedding.Slice(), Metadata: r.Metadata}
	}
	return out, nil
}

func (s *Store) DeleteDocument(ctx context.Context, collection, documentID string, keep ...string) error {
	if _, err := deleteQuery(s.db, collection, documentID, keep).Exec(ctx); err != nil {
		return fmt.Errorf("%w: delete %s from %s: %v", models.ErrVectorStoreUnavailable, documentID, collection, err)
	}
	return nil
}

func deleteQuery(db bun.IDB, collection, documentID string, keep []string) *bun.DeleteQuery {
	q := db.NewDelete().
		Model((*Chunk)(nil)).
		Where("collection = ?", collection).
		Where("document_id = ?", documentID)
	if len(keep) > 0 {
		q = q.Where("id NOT IN (?)", bun.In(keep))
	}
	return q
}

// DropCollection deletes the collection's chunks and its registry row together.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Chunk)(nil)).Where("collection = ?", name).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model((*Collection)(nil)).Where("name = ?", name).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: drop %s: %v", models.ErrVectorStoreUnavailable, name, err)
	}
	return nil
}

func (s *Store) Collections(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.NewSelect().Model((*Collection)(nil)).Column("name").Order("name").Scan(ctx, &names)
	if err != nil {
		return nil, fmt.Errorf("%w: list collections: %v", models.ErrVectorStoreUnavailable, err)
	}
	return names, nil
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	n, err := s.db.NewSelect().Model((*Chunk)(nil)).Where("collection = ?", collection).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %v", models.ErrVectorStoreUnavailable, collection, err)
	}
	return n, nil
}

func (s *Store) Close() error { return s.db.Close() }
