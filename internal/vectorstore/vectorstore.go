// Package vectorstore defines the index contract shared by the chromem, qdrant
// and pgvector backends and converts chunks to and from stored records.
package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"knowledge-rag/internal/chromemdb"
	"knowledge-rag/internal/config"
	"knowledge-rag/internal/db"
	"knowledge-rag/internal/models"
	"knowledge-rag/internal/qdrant"
)

// Store is a set of named collections holding one vector per chunk.
type Store interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, name string, dimension int) error
	// Upsert writes records by id. Writing the same record twice leaves one copy.
	Upsert(ctx context.Context, collection string, records []models.Record) error
	// Search returns at most topK matches by descending similarity. A missing or
	// empty collection yields no matches and no error.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]models.Match, error)
	// Get returns the stored records among ids. Unknown ids are omitted.
	Get(ctx context.Context, collection string, ids []string) ([]models.Record, error)
	// DeleteDocument removes the records of one document, except those whose
	// ids are listed in keep. With no keep ids the whole document goes.
	DeleteDocument(ctx context.Context, collection, documentID string, keep ...string) error
	// DropCollection removes a collection and its records. Dropping a missing
	// collection is not an error.
	DropCollection(ctx context.Context, name string) error
	Collections(ctx context.Context) ([]string, error)
	Count(ctx context.Context, collection string) (int, error)
	Close() error
}

var (
	_ Store = (*chromemdb.VectorDBManager)(nil)
	_ Store = (*qdrant.Client)(nil)
	_ Store = (*db.Store)(nil)
)

// Open connects to the backend selected by cfg.VectorDB.Provider.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.VectorDB.Provider {
	case "", "chromem":
		m, err := chromemdb.NewVectorDBManager(cfg.VectorDB.Path, cfg.VectorDB.InMemory, cfg.VectorDB.Compress, cfg.RAG.EncryptionKey)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "qdrant":
		return qdrant.New(qdrant.Config{
			URL:     cfg.VectorDB.URL,
			APIKey:  cfg.VectorDB.APIKey,
			Metric:  cfg.VectorDB.Metric,
			Timeout: cfg.VectorDB.Timeout,
		}), nil
	case "pgvector":
		s, err := db.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown vector store provider %q", cfg.VectorDB.Provider)
	}
}

// CollectionName is the collection holding chunks of category c.
func CollectionName(prefix string, c models.Category) string {
	return prefix + string(c)
}

// EnsureCollections creates one collection per category.
func EnsureCollections(ctx context.Context, s Store, prefix string, dimension int) error {
	for _, c := range models.AllCategories {
		if err := s.EnsureCollection(ctx, CollectionName(prefix, c), dimension); err != nil {
			return err
		}
	}
	return nil
}

// NewRecord converts a categorized chunk and its vector into a stored record.
func NewRecord(ch models.Chunk, vec []float32, fm *models.Frontmatter) models.Record {
	meta := map[string]string{
		models.MetaDocumentID:  ch.DocumentID,
		models.MetaChunkIndex:  strconv.Itoa(ch.Index),
		models.MetaContentHash: ch.ContentHash,
		models.MetaCategory:    string(ch.Category),
		models.MetaHasCode:     strconv.FormatBool(ch.HasCode),
	}
	if len(ch.Technologies) > 0 {
		meta[models.MetaTechnologies] = strings.Join(ch.Technologies, ",")
	}
	if ch.Oversized {
		meta[models.MetaOversized] = "true"
	}
	if fm != nil {
		if len(fm.Tags) > 0 {
			meta[models.MetaTags] = strings.Join(fm.Tags, ",")
		}
		if fm.Domain != "" {
			meta[models.MetaDomain] = fm.Domain
		}
		if fm.Version != "" {
			meta[models.MetaVersion] = fm.Version
		}
	}
	return models.Record{ID: ch.ID, Text: ch.Text, Embedding: vec, Metadata: meta}
}

// ChunkFromMatch rebuilds the chunk fields carried in a match payload.
func ChunkFromMatch(m models.Match) models.ScoredChunk {
	ch := models.Chunk{
		ID:          m.ID,
		Text:        m.Text,
		DocumentID:  m.Metadata[models.MetaDocumentID],
		ContentHash: m.Metadata[models.MetaContentHash],
		Category:    models.Category(m.Metadata[models.MetaCategory]),
		HasCode:     m.Metadata[models.MetaHasCode] == "true",
		Oversized:   m.Metadata[models.MetaOversized] == "true",
	}
	ch.Index, _ = strconv.Atoi(m.Metadata[models.MetaChunkIndex])
	if tech := m.Metadata[models.MetaTechnologies]; tech != "" {
		ch.Technologies = strings.Split(tech, ",")
		ch.MentionsTech = true
	}
	ch.Size = len([]rune(ch.Text))
	return models.ScoredChunk{Chunk: ch, Score: m.Score}
}
