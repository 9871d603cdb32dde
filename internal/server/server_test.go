package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-rag/internal/chromemdb"
	"knowledge-rag/internal/models"
)

type stubQuerier struct {
	got  models.Query
	resp *models.Response
	err  error
}

func (s *stubQuerier) Query(_ context.Context, q models.Query) (*models.Response, error) {
	s.got = q
	return s.resp, s.err
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestQuery(t *testing.T) {
	t.Run("Should return the response as JSON", func(t *testing.T) {
		stub := &stubQuerier{resp: &models.Response{
			Question: "what is a datum?",
			Sources:  []string{"core/datum.md"},
			AnswerContext: []models.ScoredChunk{{
				Chunk: models.Chunk{ID: "x", DocumentID: "core/datum.md", Text: "A datum..."},
				Score: 0.9,
			}},
			Context: "hidden",
		}}
		w := do(t, New(stub, chromemdb.NewInMemory()), http.MethodPost, "/query",
			`{"question":"what is a datum?","category":"core","top_k":3}`)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.Query{Question: "what is a datum?", Category: "core", TopK: 3}, stub.got)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, []any{"core/datum.md"}, body["sources"])
		assert.NotContains(t, body, "Context")
	})

	cases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"missing question", `{"category":"core"}`, nil, http.StatusBadRequest},
		{"invalid category", `{"question":"q","category":"x"}`, fmt.Errorf("wrap: %w", models.ErrInvalidCategoryFilter), http.StatusBadRequest},
		{"provider down", `{"question":"q"}`, models.ErrEmbeddingProviderUnavailable, http.StatusServiceUnavailable},
		{"store down", `{"question":"q"}`, models.ErrVectorStoreUnavailable, http.StatusServiceUnavailable},
		{"unexpected", `{"question":"q"}`, fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run("Should map "+tc.name, func(t *testing.T) {
			stub := &stubQuerier{err: tc.err}
			w := do(t, New(stub, chromemdb.NewInMemory()), http.MethodPost, "/query", tc.body)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestCollections(t *testing.T) {
	store := chromemdb.NewInMemory()
	require.NoError(t, store.Upsert(context.Background(), "kb_core", []models.Record{
		{ID: "a", Text: "a", Embedding: []float32{1, 0}, Metadata: map[string]string{}},
	}))
	require.NoError(t, store.EnsureCollection(context.Background(), "kb_security", 2))

	w := do(t, New(&stubQuerier{}, store), http.MethodGet, "/collections", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Collections map[string]int `json:"collections"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]int{"kb_core": 1, "kb_security": 0}, body.Collections)
}

func TestHealth(t *testing.T) {
	w := do(t, New(&stubQuerier{}, chromemdb.NewInMemory()), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
