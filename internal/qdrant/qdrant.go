// Package qdrant is a REST client for a Qdrant vector database.
package qdrant

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"knowledge-rag/internal/models"
)

// payload keys reserved by this client
const (
	payloadChunkID = "chunk_id"
	payloadText    = "text"
)

type Config struct {
	URL     string
	APIKey  string
	Metric  string
	Timeout time.Duration
}

// Client stores each collection as a Qdrant collection with a single unnamed vector.
// Point ids are UUIDv5 values derived from the chunk id; the chunk id itself
// travels in the payload.
type Client struct {
	http   *resty.Client
	metric string
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	metric := cfg.Metric
	if metric == "" {
		metric = "Cosine"
	}
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("api-key", cfg.APIKey)
	}
	return &Client{http: client, metric: metric}
}

// PointID maps a chunk id to the UUID used as the Qdrant point id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

type apiError struct {
	Status any `json:"status"`
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float32      `json:"vector"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx).SetError(&apiError{})
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant %s %s: %v", models.ErrVectorStoreUnavailable, method, path, err)
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return resp, fmt.Errorf("%w: qdrant %s %s: %s", models.ErrVectorStoreUnavailable, method, path, resp.Status())
	}
	return resp, nil
}

func (c *Client) EnsureCollection(ctx context.Context, name string, dimension int) error {
	resp, err := c.do(ctx, http.MethodGet, "/collections/"+name, nil, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode() == http.StatusOK {
		return nil
	}
	if resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("qdrant get collection %s: %s", name, resp.Status())
	}
	if dimension <= 0 {
		return fmt.Errorf("qdrant collection %s: invalid dimension %d", name, dimension)
	}
	body := map[string]any{
		"vectors": map[string]any{"size": dimension, "distance": c.metric},
	}
	resp, err = c.do(ctx, http.MethodPut, "/collections/"+name, body, nil)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("qdrant create collection %s: %s", name, resp.Status())
	}
	if err := c.indexDocumentID(ctx, name); err != nil {
		return err
	}
	return nil
}

// indexDocumentID adds a keyword payload index used by DeleteDocument.
func (c *Client) indexDocumentID(ctx context.Context, name string) error {
	body := map[string]any{"field_name": models.MetaDocumentID, "field_schema": "keyword"}
	resp, err := c.do(ctx, http.MethodPut, "/collections/"+name+"/index?wait=true", body, nil)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("qdrant index %s: %s", name, resp.Status())
	}
	return nil
}

func (c *Client) Upsert(ctx context.Context, collection string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := c.EnsureCollection(ctx, collection, len(records[0].Embedding)); err != nil {
		return err
	}
	points := make([]point, len(records))
	for i, r := range records {
		payload := make(map[string]any, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload[payloadChunkID] = r.ID
		payload[payloadText] = r.Text
		points[i] = point{ID: PointID(r.ID), Vector: r.Embedding, Payload: payload}
	}
	resp, err := c.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", map[string]any{"points": points}, nil)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("qdrant upsert %s: %s", collection, resp.Status())
	}
	return nil
}

func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK int) ([]models.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var out struct {
		Result []scoredPoint `json:"result"`
	}
	resp, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body, &out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("qdrant search %s: %s", collection, resp.Status())
	}
	matches := make([]models.Match, 0, len(out.Result))
	for _, p := range out.Result {
		id, text, meta := splitPayload(p.Payload)
		matches = append(matches, models.Match{ID: id, Score: p.Score, Text: text, Metadata: meta})
	}
	return matches, nil
}

func (c *Client) Get(ctx context.Context, collection string, ids []string) ([]models.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pointIDs := make([]string, len(ids))
	for i, id := range ids {
		pointIDs[i] = PointID(id)
	}
	body := map[string]any{"ids": pointIDs, "with_payload": true, "with_vector": true}
	var out struct {
		Result []scoredPoint `json:"result"`
	}
	resp, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points", body, &out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("qdrant get points %s: %s", collection, resp.Status())
	}
	records := make([]models.Record, 0, len(out.Result))
	for _, p := range out.Result {
		id, text, meta := splitPayload(p.Payload)
		records = append(records, models.Record{ID: id, Text: text, Embedding: p.Vector, Metadata: meta})
	}
	return records, nil
}

func (c *Client) DeleteDocument(ctx context.Context, collection, documentID string, keep ...string) error {
	filter := map[string]any{
		"must": []map[string]any{
			{"key": models.MetaDocumentID, "match": map[string]any{"value": documentID}},
		},
	}
	if len(keep) > 0 {
		ids := make([]string, len(keep))
		for i, id := range keep {
			ids[i] = PointID(id)
		}
		filter["must_not"] = []map[string]any{{"has_id": ids}}
	}
	resp, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", map[string]any{"filter": filter}, nil)
	if err != nil {
		return err
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("qdrant delete %s from %s: %s", documentID, collection, resp.Status())
	}
	return nil
}

func (c *Client) DropCollection(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/collections/"+name, nil, nil)
	if err != nil {
		return err
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("qdrant drop collection %s: %s", name, resp.Status())
	}
	return nil
}

func (c *Client) Collections(ctx context.Context) ([]string, error) {
	var out struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	resp, err := c.do(ctx, http.MethodGet, "/collections", nil, &out)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("qdrant list collections: %s", resp.Status())
	}
	names := make([]string, 0, len(out.Result.Collections))
	for _, col := range out.Result.Collections {
		names = append(names, col.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) Count(ctx context.Context, collection string) (int, error) {
	var out struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	resp, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/count", map[string]any{"exact": true}, &out)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return 0, nil
	}
	if resp.IsError() {
		return 0, fmt.Errorf("qdrant count %s: %s", collection, resp.Status())
	}
	return out.Result.Count, nil
}

func (c *Client) Close() error { return nil }

func splitPayload(payload map[string]any) (id, text string, meta map[string]string) {
	meta = make(map[string]string, len(payload))
	for k, v := range payload {
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		switch k {
		case payloadChunkID:
			id = s
		case payloadText:
			text = s
		default:
			meta[k] = s
		}
	}
	return id, text, meta
}
