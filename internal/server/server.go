// Package server exposes retrieval over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"knowledge-rag/internal/models"
	"knowledge-rag/internal/vectorstore"
)

// Querier answers a retrieval query.
type Querier interface {
	Query(ctx context.Context, q models.Query) (*models.Response, error)
}

type QueryRequest struct {
	Question string `json:"question" binding:"required"`
	Category string `json:"category"`
	TopK     int    `json:"top_k" binding:"gte=0,lte=100"`
}

type Server struct {
	querier Querier
	store   vectorstore.Store
	engine  *gin.Engine
}

func New(querier Querier, store vectorstore.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{querier: querier, store: store, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.engine.GET("/healthz", s.health)
	s.engine.POST("/query", s.query)
	s.engine.GET("/collections", s.collections)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := s.querier.Query(c.Request.Context(), models.Query{
		Question: req.Question,
		Category: req.Category,
		TopK:     req.TopK,
	})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Msg("Query failed")
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) collections(c *gin.Context) {
	ctx := c.Request.Context()
	names, err := s.store.Collections(ctx)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	counts := make(map[string]int, len(names))
	for _, name := range names {
		n, err := s.store.Count(ctx, name)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		counts[name] = n
	}
	c.JSON(http.StatusOK, gin.H{"collections": counts})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidCategoryFilter), errors.Is(err, models.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrEmbeddingProviderUnavailable), errors.Is(err, models.ErrVectorStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	}
}
