package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"knowledge-rag/internal/helper"
	"knowledge-rag/internal/models"
)

const exportFile = "index.chromem"

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	db            *chromem.DB
	deleteMu      sync.Mutex // count, query and delete must see the same collection
	dbPath        string
	inMemory      bool
	compress      bool
	encryptionKey string
}

// NewVectorDBManager opens a persistent database at dbPath, or an in-memory one
// seeded from a previous export when inMemory is set.
func NewVectorDBManager(dbPath string, inMemory, compress bool, encryptionKey string) (*VectorDBManager, error) {
	m := &VectorDBManager{
		dbPath:        dbPath,
		inMemory:      inMemory,
		compress:      compress,
		encryptionKey: encryptionKey,
	}
	if inMemory {
		m.db = chromem.NewDB()
		if dbPath != "" {
			if err := m.Import(); err != nil {
				return nil, err
			}
		}
		return m, nil
	}

	db, err := chromem.NewPersistentDB(dbPath, compress)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create database: %v", models.ErrVectorStoreUnavailable, err)
	}
	m.db = db
	return m, nil
}

// NewInMemory is a throwaway database, used by tests and dry runs.
func NewInMemory() *VectorDBManager {
	return &VectorDBManager{db: chromem.NewDB(), inMemory: true}
}

func (m *VectorDBManager) EnsureCollection(_ context.Context, name string, _ int) error {
	if _, err := m.db.GetOrCreateCollection(name, nil, nil); err != nil {
		return fmt.Errorf("failed to create/get collection %s: %w", name, err)
	}
	return nil
}

func (m *VectorDBManager) Upsert(ctx context.Context, collection string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	c, err := m.db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to create/get collection %s: %w", collection, err)
	}
	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Metadata:  cloneMeta(r.Metadata),
			Embedding: r.Embedding,
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents to %s: %w", collection, err)
	}
	return nil
}

func (m *VectorDBManager) Search(ctx context.Context, collection string, vector []float32, topK int) ([]models.Match, error) {
	c := m.db.GetCollection(collection, nil)
	if c == nil {
		return nil, nil
	}
	n := min(topK, c.Count())
	if n <= 0 {
		return nil, nil
	}
	results, err := c.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by similarity: %w", collection, err)
	}
	matches := make([]models.Match, len(results))
	for i, r := range results {
		matches[i] = models.Match{
			ID:       r.ID,
			Score:    float64(r.Similarity),
			Text:     r.Content,
			Metadata: r.Metadata,
		}
	}
	return matches, nil
}

func (m *VectorDBManager) Get(ctx context.Context, collection string, ids []string) ([]models.Record, error) {
	c := m.db.GetCollection(collection, nil)
	if c == nil {
		return nil, nil
	}
	var out []models.Record
	for _, id := range ids {
		doc, err := c.GetByID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, models.Record{
			ID:        doc.ID,
			Text:      doc.Content,
			Embedding: doc.Embedding,
			Metadata:  doc.Metadata,
		})
	}
	return out, nil
}

func (m *VectorDBManager) DeleteDocument(ctx context.Context, collection, documentID string, keep ...string) error {
	c := m.db.GetCollection(collection, nil)
	if c == nil {
		return nil
	}
	m.deleteMu.Lock()
	defer m.deleteMu.Unlock()

	where := map[string]string{models.MetaDocumentID: documentID}
	stale, all, err := staleIDs(ctx, c, where, keep)
	if err != nil {
		return fmt.Errorf("failed to list %s in %s: %w", documentID, collection, err)
	}
	if all {
		err = c.Delete(ctx, where, nil)
	} else if len(stale) > 0 {
		err = c.Delete(ctx, nil, nil, stale...)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s from %s: %w", documentID, collection, err)
	}
	return nil
}

// staleIDs lists the document's records that are not in keep. chromem cannot
// scan by metadata, so the listing is a filtered query over the whole
// collection anchored on the vector of a kept record. all is set when no kept
// record exists and every record of the document is stale.
func staleIDs(ctx context.Context, c *chromem.Collection, where map[string]string, keep []string) (stale []string, all bool, err error) {
	var anchor []float32
	for _, id := range keep {
		if doc, err := c.GetByID(ctx, id); err == nil && len(doc.Embedding) > 0 {
			anchor = doc.Embedding
			break
		}
	}
	if anchor == nil {
		return nil, true, nil
	}
	results, err := c.QueryEmbedding(ctx, anchor, c.Count(), where, nil)
	if err != nil {
		return nil, false, err
	}
	kept := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		kept[id] = struct{}{}
	}
	for _, r := range results {
		if _, ok := kept[r.ID]; !ok {
			stale = append(stale, r.ID)
		}
	}
	return stale, false, nil
}

// DropCollection removes a collection and, when persistent, its files.
func (m *VectorDBManager) DropCollection(_ context.Context, name string) error {
	if err := m.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	return nil
}

func (m *VectorDBManager) Collections(_ context.Context) ([]string, error) {
	var names []string
	for name := range m.db.ListCollections() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *VectorDBManager) Count(_ context.Context, collection string) (int, error) {
	c := m.db.GetCollection(collection, nil)
	if c == nil {
		return 0, nil
	}
	return c.Count(), nil
}

// Close exports an in-memory database so the next run can import it.
func (m *VectorDBManager) Close() error {
	if m.inMemory && m.dbPath != "" {
		return m.Export()
	}
	return nil
}

func (m *VectorDBManager) exportPath() string {
	return filepath.Join(m.dbPath, exportFile)
}

// export to file
func (m *VectorDBManager) Export() error {
	if m.dbPath == "" {
		return errors.New("db path is required")
	}
	if err := helper.CreateFolder(m.dbPath); err != nil {
		return err
	}
	log.Debug().Str("file", m.exportPath()).Bool("compress", m.compress).Bool("encrypted", m.encryptionKey != "").Msg("Exporting vector database")
	if err := m.db.ExportToFile(m.exportPath(), m.compress, m.encryptionKey); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// import from file
func (m *VectorDBManager) Import() error {
	if _, err := os.Stat(m.exportPath()); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := m.db.ImportFromFile(m.exportPath(), m.encryptionKey); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	log.Debug().Str("file", m.exportPath()).Int("collections", len(m.db.ListCollections())).Msg("Imported vector database")
	return nil
}

func cloneMeta(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
