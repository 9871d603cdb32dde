package models

import "errors"

var (
	// ErrIO marks an unreadable file or directory.
	ErrIO = errors.New("io error")
	// ErrEmbeddingProviderUnavailable marks a transient embedding failure that outlived its retries.
	ErrEmbeddingProviderUnavailable = errors.New("embedding provider unavailable")
	// ErrVectorStoreUnavailable marks a vector store transport failure.
	ErrVectorStoreUnavailable = errors.New("vector store unavailable")
	// ErrInvalidCategoryFilter is returned for a category outside the fixed set.
	ErrInvalidCategoryFilter = errors.New("invalid category filter")
	ErrEmptyQuestion         = errors.New("question is required")
)
