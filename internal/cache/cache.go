// Package cache stores embedding vectors keyed by model and content hash.
package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"knowledge-rag/internal/config"
)

// Cache is a best-effort vector cache. A failing backend behaves like a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vec []float32)
}

// New builds the cache described by cfg. It returns nil for type "none".
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		m, err := NewMemory(cfg.Size)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedis(client, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}

// Key builds the cache key for a vector produced by model for the given content hash.
func Key(model, contentHash string) string {
	return model + ":" + contentHash
}

type Memory struct {
	lru *lru.Cache[string, []float32]
}

func NewMemory(size int) (*Memory, error) {
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("init memory cache: %w", err)
	}
	return &Memory{lru: c}, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]float32, bool) {
	v, ok := m.lru.Get(key)
	if !ok {
		return nil, false
	}
	return clone(v), true
}

func (m *Memory) Set(_ context.Context, key string, vec []float32) {
	m.lru.Add(key, clone(vec))
}

func (m *Memory) Len() int { return m.lru.Len() }

const redisKeyPrefix = "embedding:"

// Redis keeps vectors as little-endian float32 bytes.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) ([]float32, bool) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Embedding cache read failed")
		return nil, false
	}
	vec, err := decode(data)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Discarding corrupt cache entry")
		return nil, false
	}
	return vec, true
}

func (r *Redis) Set(ctx context.Context, key string, vec []float32) {
	if err := r.client.Set(ctx, redisKeyPrefix+key, encode(vec), r.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Embedding cache write failed")
	}
}

func (r *Redis) Close() error { return r.client.Close() }

func encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decode(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector payload length %d is not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
