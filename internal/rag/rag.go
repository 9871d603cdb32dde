package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"knowledge-rag/internal/llmservice"
	"knowledge-rag/internal/models"
)

var thinkTag = regexp.MustCompile(models.ThinkTag)

type RAG struct {
	router    *Router
	generator llmservice.Generator
}

// NewRAG wires retrieval to an optional answer generator. A nil generator
// returns context only.
func NewRAG(router *Router, generator llmservice.Generator) *RAG {
	return &RAG{router: router, generator: generator}
}

func (r *RAG) Router() *Router { return r.router }

// Query retrieves context for q and, when a generator is configured, asks it
// for an answer grounded on that context. A failed generation is logged and
// the retrieval result is still returned.
func (r *RAG) Query(ctx context.Context, q models.Query) (*models.Response, error) {
	results, err := r.router.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	resp := Compose(strings.TrimSpace(q.Question), results)
	if r.generator == nil || len(results) == 0 {
		return resp, nil
	}

	prompt := fmt.Sprintf(models.AnswerPromptTemplate, resp.Context, resp.Question)
	answer, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		log.Warn().Err(err).Msg("Answer generation failed, returning context only")
		return resp, nil
	}
	resp.Answer = StripThinking(answer)
	return resp, nil
}

// StripThinking removes <think>...</think> sections some models emit.
func StripThinking(s string) string {
	return strings.TrimSpace(thinkTag.ReplaceAllString(s, ""))
}
