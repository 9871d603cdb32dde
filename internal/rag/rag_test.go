package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-rag/internal/chromemdb"
	"knowledge-rag/internal/config"
	"knowledge-rag/internal/embedding"
	"knowledge-rag/internal/models"
	"knowledge-rag/internal/vectorstore"
)

type fixture struct {
	store    *chromemdb.VectorDBManager
	embedder *embedding.HashEmbedder
	router   *Router
}

func newFixture(t *testing.T) *fixture {
	cfg := config.Default().RAG
	store := chromemdb.NewInMemory()
	embedder := embedding.NewHashEmbedder(128)
	return &fixture{store: store, embedder: embedder, router: NewRouter(store, embedder, cfg)}
}

func (f *fixture) add(t *testing.T, c models.Category, id, doc, text string) {
	vec, err := f.embedder.EmbedQuery(context.Background(), text)
	require.NoError(t, err)
	ch := models.Chunk{ID: id, DocumentID: doc, Text: text, Category: c}
	require.NoError(t, f.store.Upsert(context.Background(), vectorstore.CollectionName("kb_", c),
		[]models.Record{vectorstore.NewRecord(ch, vec, nil)}))
}

func TestRoute(t *testing.T) {
	r := newFixture(t).router

	t.Run("Should route mixed questions to every matching category", func(t *testing.T) {
		got, err := r.Route("", "security vulnerability in validator")
		require.NoError(t, err)
		assert.Contains(t, got, models.CategorySecurity)
		assert.Equal(t, models.CategorySecurity, got[0])
	})

	t.Run("Should fall back to all categories", func(t *testing.T) {
		got, err := r.Route("", "hello")
		require.NoError(t, err)
		assert.Equal(t, models.AllCategories, got)
	})

	t.Run("Should honor an explicit category", func(t *testing.T) {
		got, err := r.Route("deployment", "validator audit")
		require.NoError(t, err)
		assert.Equal(t, []models.Category{models.CategoryDeployment}, got)
	})

	t.Run("Should reject an unknown category", func(t *testing.T) {
		_, err := r.Route("defi", "hello")
		assert.ErrorIs(t, err, models.ErrInvalidCategoryFilter)
	})
}

func TestRetrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("Should return the stored chunk first for its own text", func(t *testing.T) {
		f := newFixture(t)
		f.add(t, models.CategoryGeneral, "a", "one.md", "The quick brown fox jumps over the lazy dog")
		f.add(t, models.CategoryGeneral, "b", "two.md", "Lorem ipsum dolor sit amet consectetur")
		f.add(t, models.CategoryGeneral, "c", "three.md", "Bread needs flour water salt and time")

		got, err := f.router.Retrieve(ctx, models.Query{Question: "Lorem ipsum dolor sit amet consectetur", TopK: 3})
		require.NoError(t, err)
		require.NotEmpty(t, got)
		assert.Equal(t, "b", got[0].Chunk.ID)
		assert.InDelta(t, 1.0, got[0].Score, 1e-4)
		assert.Equal(t, "two.md", got[0].Chunk.DocumentID)
		assert.Equal(t, models.CategoryGeneral, got[0].Chunk.Category)
	})

	t.Run("Should drop duplicate text found in two categories", func(t *testing.T) {
		f := newFixture(t)
		text := "Audit every validator for double satisfaction"
		f.add(t, models.CategorySecurity, "s1", "sec.md", text)
		f.add(t, models.CategoryCore, "c1", "core.md", "  audit every   validator for double satisfaction")

		got, err := f.router.Retrieve(ctx, models.Query{Question: "audit the validator"})
		require.NoError(t, err)
		require.Len(t, got, 1)
	})

	t.Run("Should return nothing from empty collections", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, vectorstore.EnsureCollections(ctx, f.store, "kb_", 128))

		got, err := f.router.Retrieve(ctx, models.Query{Question: "what is a datum?"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Should reject an empty question", func(t *testing.T) {
		_, err := newFixture(t).router.Retrieve(ctx, models.Query{Question: "  "})
		assert.ErrorIs(t, err, models.ErrEmptyQuestion)
	})

	t.Run("Should reject an invalid category filter", func(t *testing.T) {
		_, err := newFixture(t).router.Retrieve(ctx, models.Query{Question: "q", Category: "nft"})
		assert.ErrorIs(t, err, models.ErrInvalidCategoryFilter)
	})
}

func scored(id, doc, text string, score float64) models.ScoredChunk {
	return models.ScoredChunk{Chunk: models.Chunk{ID: id, DocumentID: doc, Text: text}, Score: score}
}

func TestMerge(t *testing.T) {
	t.Run("Should keep the highest scoring copy of an id", func(t *testing.T) {
		got := Merge([]models.ScoredChunk{
			scored("a", "d", "alpha", 0.5),
			scored("a", "d", "alpha", 0.9),
			scored("b", "d", "beta", 0.7),
		}, 10, 200)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].Chunk.ID)
		assert.Equal(t, 0.9, got[0].Score)
	})

	t.Run("Should break ties by id and cut to top k", func(t *testing.T) {
		got := Merge([]models.ScoredChunk{
			scored("z", "d", "one", 0.5),
			scored("m", "d", "two", 0.5),
			scored("a", "d", "three", 0.5),
		}, 2, 200)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].Chunk.ID)
		assert.Equal(t, "m", got[1].Chunk.ID)
	})

	t.Run("Should return nothing for a non-positive top k", func(t *testing.T) {
		candidates := []models.ScoredChunk{scored("a", "d", "alpha", 0.5)}
		assert.Empty(t, Merge(candidates, 0, 200))
		assert.Empty(t, Merge(candidates, -3, 200))
	})

	t.Run("Should treat texts sharing a normalized prefix as duplicates", func(t *testing.T) {
		got := Merge([]models.ScoredChunk{
			scored("a", "d1", "Hello   World and more", 0.8),
			scored("b", "d2", "hello world and LESS", 0.9),
		}, 10, 11)
		require.Len(t, got, 1)
		assert.Equal(t, "b", got[0].Chunk.ID)
	})
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "a b c", dedupKey("  A\n\tB   C  ", 10))
	assert.Equal(t, "a b", dedupKey("A B C", 3))
	assert.Equal(t, "", dedupKey("", 5))
}

func TestCompose(t *testing.T) {
	t.Run("Should list unique sources in rank order", func(t *testing.T) {
		resp := Compose("q", []models.ScoredChunk{
			scored("1", "b.md", "first", 0.9),
			scored("2", "a.md", "second", 0.8),
			scored("3", "b.md", "third", 0.7),
		})
		assert.Equal(t, []string{"b.md", "a.md"}, resp.Sources)
		assert.Len(t, resp.AnswerContext, 3)
		assert.Contains(t, resp.Context, "[1] b.md")
		assert.Contains(t, resp.Context, "first"+models.ContextSeparator+"[2] a.md")
	})

	t.Run("Should return empty slices for no results", func(t *testing.T) {
		resp := Compose("q", nil)
		assert.NotNil(t, resp.Sources)
		assert.NotNil(t, resp.AnswerContext)
		assert.Empty(t, resp.Context)
	})
}

type stubGenerator struct {
	prompt string
	answer string
	err    error
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.answer, g.err
}

func TestQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("Should answer from context and strip thinking", func(t *testing.T) {
		f := newFixture(t)
		f.add(t, models.CategoryCore, "a", "datum.md", "A datum is data attached to a UTxO")
		gen := &stubGenerator{answer: "<think>hmm\nok</think>\nA datum is attached data."}

		resp, err := NewRAG(f.router, gen).Query(ctx, models.Query{Question: "what is a datum?"})
		require.NoError(t, err)
		assert.Equal(t, "A datum is attached data.", resp.Answer)
		assert.Contains(t, gen.prompt, "A datum is data attached to a UTxO")
		assert.Contains(t, gen.prompt, "Question: what is a datum?")
		assert.Equal(t, []string{"datum.md"}, resp.Sources)
	})

	t.Run("Should keep context when generation fails", func(t *testing.T) {
		f := newFixture(t)
		f.add(t, models.CategoryCore, "a", "datum.md", "A datum is data attached to a UTxO")
		gen := &stubGenerator{err: errors.New("model offline")}

		resp, err := NewRAG(f.router, gen).Query(ctx, models.Query{Question: "datum"})
		require.NoError(t, err)
		assert.Empty(t, resp.Answer)
		assert.Len(t, resp.AnswerContext, 1)
	})

	t.Run("Should skip generation without a generator", func(t *testing.T) {
		f := newFixture(t)
		resp, err := NewRAG(f.router, nil).Query(ctx, models.Query{Question: "datum"})
		require.NoError(t, err)
		assert.Empty(t, resp.Answer)
	})
}
