package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/time/rate"

	"knowledge-rag/internal/cache"
	"knowledge-rag/internal/config"
	"knowledge-rag/internal/models"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Service wraps a provider embedder with rate limiting, a circuit breaker,
// bounded retries and an optional vector cache.
type Service struct {
	embedder embeddings.Embedder
	model    string
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	cache    cache.Cache
	attempts int
	backoff  time.Duration

	mu        sync.RWMutex
	dimension int
}

var _ embeddings.Embedder = (*Service)(nil)

type Option func(*Service)

func WithModel(model string) Option { return func(s *Service) { s.model = model } }

// WithDimension fixes the expected vector size. Zero learns it from the first response.
func WithDimension(dim int) Option { return func(s *Service) { s.dimension = dim } }

func WithCache(c cache.Cache) Option { return func(s *Service) { s.cache = c } }

// WithRateLimit caps provider calls per second. Zero disables the limiter.
func WithRateLimit(rps float64) Option {
	return func(s *Service) {
		if rps > 0 {
			burst := int(rps)
			if burst < 1 {
				burst = 1
			}
			s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func WithRetry(attempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if backoff > 0 {
			s.backoff = backoff
		}
	}
}

func NewService(embedder embeddings.Embedder, opts ...Option) *Service {
	s := &Service{
		embedder: embedder,
		attempts: 3,
		backoff:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding:" + s.model,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})
	return s
}

// NewFromConfig builds the configured provider and wraps it.
func NewFromConfig(cfg *config.Config, c cache.Cache) (*Service, error) {
	embedder, err := NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	dim := cfg.EmbedLLM.Dimension
	if h, ok := embedder.(*HashEmbedder); ok {
		dim = h.Dimension()
	}
	return NewService(embedder,
		WithModel(cfg.EmbedLLM.Provider+"/"+cfg.EmbedLLM.Model),
		WithDimension(dim),
		WithCache(c),
		WithRateLimit(cfg.EmbedLLM.RequestsPerSecond),
		WithRetry(cfg.RAG.RetryCount, cfg.RAG.RetryBackoff),
	), nil
}

func (s *Service) Model() string { return s.model }

// Dimension returns the vector size, or zero before the first vector is seen.
func (s *Service) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments returns one vector per text, in order. Cached vectors are not
// requested again and identical texts are sent once.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	pending := make(map[string][]int)
	var missing []string
	for i, text := range texts {
		if s.cache != nil {
			if vec, ok := s.cache.Get(ctx, s.cacheKey(text)); ok && s.checkDimension(vec) == nil {
				out[i] = vec
				continue
			}
		}
		if _, seen := pending[text]; !seen {
			missing = append(missing, text)
		}
		pending[text] = append(pending[text], i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := s.call(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("received %d embeddings for %d texts", len(vecs), len(missing))
	}
	for i, vec := range vecs {
		if err := s.checkDimension(vec); err != nil {
			return nil, err
		}
		for _, idx := range pending[missing[i]] {
			out[idx] = vec
		}
		if s.cache != nil {
			s.cache.Set(ctx, s.cacheKey(missing[i]), vec)
		}
	}
	return out, nil
}

func (s *Service) call(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	backoff := retry.WithMaxRetries(uint64(s.attempts-1), retry.NewExponential(s.backoff))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		res, err := s.breaker.Execute(func() (interface{}, error) {
			return s.embedder.EmbedDocuments(ctx, texts)
		})
		switch {
		case err == nil:
			vecs = res.([][]float32)
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("texts", len(texts)).Msg("Embedding request failed")
		return retry.RetryableError(err)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingProviderUnavailable, err)
	}
	return vecs, nil
}

func (s *Service) checkDimension(vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		s.dimension = len(vec)
		return nil
	}
	if len(vec) != s.dimension {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), s.dimension)
	}
	return nil
}

func (s *Service) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cache.Key(s.model, hex.EncodeToString(sum[:16]))
}
