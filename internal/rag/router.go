package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"knowledge-rag/internal/categorizer"
	"knowledge-rag/internal/chunker"
	"knowledge-rag/internal/config"
	"knowledge-rag/internal/models"
	"knowledge-rag/internal/vectorstore"
)

var tracer = otel.Tracer("knowledge-rag/rag")

// Router sends a question to the category collections likely to answer it and
// merges what comes back.
type Router struct {
	store       vectorstore.Store
	embedder    embeddings.Embedder
	prefix      string
	topK        int
	dedupPrefix int
}

func NewRouter(store vectorstore.Store, embedder embeddings.Embedder, cfg config.RAGConfig) *Router {
	return &Router{
		store:       store,
		embedder:    embedder,
		prefix:      cfg.CollectionPrefix,
		topK:        cfg.TopK,
		dedupPrefix: cfg.DedupPrefix,
	}
}

// Route picks the categories to search. An explicit category must be valid and
// is used alone; otherwise every category whose keywords occur in the question
// is searched, falling back to all of them.
func (r *Router) Route(category, question string) ([]models.Category, error) {
	if strings.TrimSpace(category) != "" {
		c, err := categorizer.Parse(category)
		if err != nil {
			return nil, err
		}
		return []models.Category{c}, nil
	}
	if matched := categorizer.Matches(question); len(matched) > 0 {
		return matched, nil
	}
	return models.AllCategories, nil
}

// Retrieve returns up to TopK chunks ordered by descending score, deduplicated
// by chunk id and by normalized text prefix.
func (r *Router) Retrieve(ctx context.Context, q models.Query) ([]models.ScoredChunk, error) {
	question := strings.TrimSpace(q.Question)
	if question == "" {
		return nil, models.ErrEmptyQuestion
	}
	targets, err := r.Route(q.Category, question)
	if err != nil {
		return nil, err
	}
	topK := q.TopK
	if topK <= 0 {
		topK = r.topK
	}

	ctx, span := tracer.Start(ctx, "rag.retrieve", trace.WithAttributes(
		attribute.Int("rag.top_k", topK),
		attribute.Int("rag.collections", len(targets)),
	))
	defer span.End()

	vec, err := r.embedQuestion(ctx, question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return nil, err
	}

	perCollection := make([][]models.Match, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range targets {
		i, c := i, c
		g.Go(func() error {
			name := vectorstore.CollectionName(r.prefix, c)
			_, sp := tracer.Start(gctx, "rag.search", trace.WithAttributes(attribute.String("rag.collection", name)))
			defer sp.End()
			matches, err := r.store.Search(gctx, name, vec, topK)
			if err != nil {
				sp.RecordError(err)
				return fmt.Errorf("search %s: %w", name, err)
			}
			sp.SetAttributes(attribute.Int("rag.matches", len(matches)))
			perCollection[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, err
	}

	var all []models.ScoredChunk
	for _, matches := range perCollection {
		for _, m := range matches {
			all = append(all, vectorstore.ChunkFromMatch(m))
		}
	}
	results := Merge(all, topK, r.dedupPrefix)
	log.Debug().Str("question", question).Interface("collections", targets).Int("candidates", len(all)).Int("results", len(results)).Msg("Retrieved context")
	return results, nil
}

func (r *Router) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "rag.embed_query")
	defer span.End()
	return r.embedder.EmbedQuery(ctx, question)
}

// Merge sorts candidates by score (ties by chunk id), drops repeats of an id or
// of a normalized text prefix, and keeps the first topK.
func Merge(candidates []models.ScoredChunk, topK, prefixRunes int) []models.ScoredChunk {
	topK = max(topK, 0)
	sorted := make([]models.ScoredChunk, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Chunk.ID < sorted[j].Chunk.ID
	})

	seenIDs := make(map[string]struct{}, len(sorted))
	seenText := make(map[string]struct{}, len(sorted))
	out := make([]models.ScoredChunk, 0, min(topK, len(sorted)))
	for _, sc := range sorted {
		if len(out) == topK {
			break
		}
		key := chunker.HashText(dedupKey(sc.Chunk.Text, prefixRunes))
		if _, ok := seenIDs[sc.Chunk.ID]; ok {
			continue
		}
		if _, ok := seenText[key]; ok {
			continue
		}
		seenIDs[sc.Chunk.ID] = struct{}{}
		seenText[key] = struct{}{}
		out = append(out, sc)
	}
	return out
}

// dedupKey lowercases text, collapses whitespace runs and keeps n runes.
func dedupKey(text string, n int) string {
	var b strings.Builder
	count := 0
	space := false
	for _, r := range strings.TrimSpace(text) {
		if count == n {
			break
		}
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			count++
			space = false
			if count == n {
				break
			}
		}
		b.WriteRune(unicode.ToLower(r))
		count++
	}
	return b.String()
}
