package rag

import (
	"fmt"
	"strings"

	"knowledge-rag/internal/models"
)

// Compose turns ranked chunks into a response. Sources are unique document ids
// in rank order; Context is the numbered chunk texts ready for a prompt.
func Compose(question string, results []models.ScoredChunk) *models.Response {
	resp := &models.Response{
		Question:      question,
		AnswerContext: results,
		Sources:       []string{},
	}
	if resp.AnswerContext == nil {
		resp.AnswerContext = []models.ScoredChunk{}
	}

	seen := make(map[string]struct{})
	blocks := make([]string, 0, len(results))
	for i, sc := range results {
		if _, ok := seen[sc.Chunk.DocumentID]; !ok {
			seen[sc.Chunk.DocumentID] = struct{}{}
			resp.Sources = append(resp.Sources, sc.Chunk.DocumentID)
		}
		blocks = append(blocks, fmt.Sprintf("[%d] %s (%s, score %.3f)\n%s",
			i+1, sc.Chunk.DocumentID, sc.Chunk.Category, sc.Score, strings.TrimSpace(sc.Chunk.Text)))
	}
	resp.Context = strings.Join(blocks, models.ContextSeparator)
	return resp
}
