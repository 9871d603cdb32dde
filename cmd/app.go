package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"knowledge-rag/internal/cache"
	"knowledge-rag/internal/config"
	"knowledge-rag/internal/embedding"
	"knowledge-rag/internal/helper"
	"knowledge-rag/internal/llmservice"
	"knowledge-rag/internal/logger"
	"knowledge-rag/internal/rag"
	"knowledge-rag/internal/vectorstore"
)

// app holds the long-lived clients shared by the subcommands.
type app struct {
	cfg      *config.Config
	store    vectorstore.Store
	embedder *embedding.Service
	cache    cache.Cache
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Pretty)
	log.Debug().Str("config", opts.configPath).Str("vector_db", cfg.VectorDB.Provider).Str("embedder", cfg.EmbedLLM.Provider).Msg("Loaded config")
	return cfg, nil
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.VectorDB.Provider == "chromem" && cfg.VectorDB.Path != "" {
		if err := helper.CreateFolder(cfg.VectorDB.Path); err != nil {
			return nil, err
		}
	}
	c, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, err
	}
	svc, err := embedding.NewFromConfig(cfg, c)
	if err != nil {
		return nil, err
	}
	store, err := vectorstore.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	return &app{cfg: cfg, store: store, embedder: svc, cache: c}, nil
}

// ensureCollections creates every category collection, probing the embedder
// for its dimension when the config does not state it.
func (a *app) ensureCollections(ctx context.Context) error {
	dim := a.embedder.Dimension()
	if dim == 0 {
		vec, err := a.embedder.EmbedQuery(ctx, "dimension probe")
		if err != nil {
			return err
		}
		dim = len(vec)
	}
	return vectorstore.EnsureCollections(ctx, a.store, a.cfg.RAG.CollectionPrefix, dim)
}

func (a *app) newRAG() (*rag.RAG, error) {
	router := rag.NewRouter(a.store, a.embedder, a.cfg.RAG)
	client, err := llmservice.New(&a.cfg.LLM)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return rag.NewRAG(router, nil), nil
	}
	return rag.NewRAG(router, client), nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close vector store")
	}
	if closer, ok := a.cache.(io.Closer); ok {
		_ = closer.Close()
	}
}
