// Package ingest runs the write path: load, chunk, categorize, embed and index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/sync/errgroup"

	"knowledge-rag/internal/categorizer"
	"knowledge-rag/internal/chunker"
	"knowledge-rag/internal/loader"
	"knowledge-rag/internal/models"
	"knowledge-rag/internal/vectorstore"
)

// Summary reports one ingestion run.
type Summary struct {
	Documents int           `json:"documents"`
	Skipped   int           `json:"skipped"`
	Failures  int           `json:"failures"`
	Chunks    int           `json:"chunks"`
	Embedded  int           `json:"embedded"`
	Reused    int           `json:"reused"`
	Duration  time.Duration `json:"duration"`
}

func (s Summary) String() string {
	return fmt.Sprintf("%d documents processed, %d chunks embedded, %d failures (see log)", s.Documents, s.Embedded, s.Failures)
}

func (s *Summary) add(r result) {
	s.Documents++
	s.Chunks += r.chunks
	s.Embedded += r.embedded
	s.Reused += r.reused
}

type result struct {
	chunks   int
	embedded int
	reused   int
}

// DryRunFunc receives the categorized chunks of each document instead of the index.
type DryRunFunc func(doc models.Document, chunks []models.Chunk)

type Pipeline struct {
	loader   *loader.Loader
	chunker  *chunker.Chunker
	embedder embeddings.Embedder
	store    vectorstore.Store
	prefix   string
	workers  int
	attempts int
	backoff  time.Duration
	dryRun   DryRunFunc
}

type Option func(*Pipeline)

func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithCollectionPrefix(prefix string) Option {
	return func(p *Pipeline) { p.prefix = prefix }
}

// WithRetry sets the attempts and base backoff for vector store writes.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(p *Pipeline) {
		if attempts > 0 {
			p.attempts = attempts
		}
		if backoff > 0 {
			p.backoff = backoff
		}
	}
}

// WithDryRun skips embedding and indexing and hands chunks to fn.
func WithDryRun(fn DryRunFunc) Option {
	return func(p *Pipeline) { p.dryRun = fn }
}

func New(l *loader.Loader, c *chunker.Chunker, embedder embeddings.Embedder, store vectorstore.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		loader:   l,
		chunker:  c,
		embedder: embedder,
		store:    store,
		prefix:   "kb_",
		workers:  4,
		attempts: 3,
		backoff:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run ingests every document under the loader root. A failing document is
// logged and counted; only an unreadable root or a cancelled context fails the run.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	sum := &Summary{}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(p.workers)
	stats, err := p.loader.Load(ctx, func(doc models.Document) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.Go(func() error {
			res, err := p.ingest(ctx, doc)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failures++
				log.Error().Err(err).Str("document", doc.ID).Msg("Failed to ingest document")
				return nil
			}
			sum.add(res)
			log.Debug().Str("document", doc.ID).Int("chunks", res.chunks).Int("embedded", res.embedded).Int("reused", res.reused).Msg("Ingested document")
			return nil
		})
		return nil
	})
	_ = g.Wait()

	sum.Skipped = stats.Skipped
	sum.Duration = time.Since(start)
	if err != nil {
		return sum, err
	}
	log.Info().Int("documents", sum.Documents).Int("chunks", sum.Chunks).Int("embedded", sum.Embedded).Int("reused", sum.Reused).Int("failures", sum.Failures).Dur("took", sum.Duration).Msg("Ingestion finished")
	return sum, nil
}

// IngestFile re-ingests one document, replacing its previous revision.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*Summary, error) {
	start := time.Now()
	doc, err := p.loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	res, err := p.ingest(ctx, doc)
	if err != nil {
		return &Summary{Failures: 1, Duration: time.Since(start)}, err
	}
	sum := &Summary{Duration: time.Since(start)}
	sum.add(res)
	return sum, nil
}

// RemoveDocument purges a document from every collection.
func (p *Pipeline) RemoveDocument(ctx context.Context, path string) error {
	id, ok := p.loader.DocumentID(path)
	if !ok {
		return fmt.Errorf("%s is outside %s", path, p.loader.Root())
	}
	return p.deleteStale(ctx, id, nil)
}

func (p *Pipeline) ingest(ctx context.Context, doc models.Document) (result, error) {
	chunks := p.chunker.Split(doc)
	override := frontmatterCategory(doc)
	for i := range chunks {
		if override != "" {
			chunks[i].Category = override
		} else {
			chunks[i].Category = categorizer.Categorize(chunks[i].Text)
		}
	}
	res := result{chunks: len(chunks)}
	if p.dryRun != nil {
		p.dryRun(doc, chunks)
		return res, nil
	}

	byCategory := make(map[models.Category][]int)
	for i, ch := range chunks {
		byCategory[ch.Category] = append(byCategory[ch.Category], i)
	}

	vectors := make([][]float32, len(chunks))
	for c, idxs := range byCategory {
		ids := make([]string, len(idxs))
		pos := make(map[string]int, len(idxs))
		for j, i := range idxs {
			ids[j] = chunks[i].ID
			pos[chunks[i].ID] = i
		}
		existing, err := p.store.Get(ctx, vectorstore.CollectionName(p.prefix, c), ids)
		if err != nil {
			// reuse is an optimization; embed everything instead
			log.Warn().Err(err).Str("document", doc.ID).Msg("Could not look up existing vectors")
			continue
		}
		for _, rec := range existing {
			if i, ok := pos[rec.ID]; ok && len(rec.Embedding) > 0 {
				vectors[i] = rec.Embedding
			}
		}
	}

	var missing []int
	for i := range chunks {
		if vectors[i] == nil {
			missing = append(missing, i)
		}
	}
	res.reused = len(chunks) - len(missing)
	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = chunks[i].Text
		}
		embedded, err := p.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return res, fmt.Errorf("embed %s: %w", doc.ID, err)
		}
		if len(embedded) != len(texts) {
			return res, fmt.Errorf("embed %s: got %d vectors for %d chunks", doc.ID, len(embedded), len(texts))
		}
		for j, i := range missing {
			vectors[i] = embedded[j]
		}
		res.embedded = len(missing)
	}

	categories := make([]models.Category, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	keep := make(map[models.Category][]string, len(byCategory))
	for _, c := range categories {
		records := make([]models.Record, 0, len(byCategory[c]))
		for _, i := range byCategory[c] {
			records = append(records, vectorstore.NewRecord(chunks[i], vectors[i], doc.Frontmatter))
			keep[c] = append(keep[c], chunks[i].ID)
		}
		name := vectorstore.CollectionName(p.prefix, c)
		if err := p.withRetry(ctx, func(ctx context.Context) error {
			return p.store.Upsert(ctx, name, records)
		}); err != nil {
			return res, fmt.Errorf("upsert %s into %s: %w", doc.ID, name, err)
		}
	}
	// the previous revision goes only once the new one is fully written
	if err := p.deleteStale(ctx, doc.ID, keep); err != nil {
		return res, err
	}
	return res, nil
}

// deleteStale removes the document's records in every collection except the
// ids in keep. A nil keep purges the document.
func (p *Pipeline) deleteStale(ctx context.Context, documentID string, keep map[models.Category][]string) error {
	for _, c := range models.AllCategories {
		name := vectorstore.CollectionName(p.prefix, c)
		ids := keep[c]
		if err := p.withRetry(ctx, func(ctx context.Context) error {
			return p.store.DeleteDocument(ctx, name, documentID, ids...)
		}); err != nil {
			return fmt.Errorf("delete %s from %s: %w", documentID, name, err)
		}
	}
	return nil
}

// withRetry retries transport failures of the vector store.
func (p *Pipeline) withRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(p.attempts-1), retry.NewExponential(p.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, models.ErrVectorStoreUnavailable) {
			log.Warn().Err(err).Msg("Vector store unavailable, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
}

func frontmatterCategory(doc models.Document) models.Category {
	if doc.Frontmatter == nil || doc.Frontmatter.Category == "" {
		return ""
	}
	c, err := categorizer.Parse(doc.Frontmatter.Category)
	if err != nil {
		log.Warn().Err(err).Str("document", doc.ID).Msg("Ignoring frontmatter category")
		return ""
	}
	return c
}
