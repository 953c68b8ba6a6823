// Package embedding talks to the embedding and rerank HTTP services.
// Embedding failures degrade to empty results so an offline service
// never blocks the pipeline; rerank failures propagate so the caller
// can fall back to the unreranked order.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"skb/internal/config"
	"skb/internal/logging"
)

// Client embeds text batches via an OpenAI-compatible embeddings API
type Client struct {
	baseURL   string
	model     string
	batchSize int
	http      *http.Client
	logger    *logging.Logger
}

// NewClient creates an embedding client from configuration
func NewClient(cfg config.EmbeddingConfig, logger *logging.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
		logger: logger.With("embedding"),
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedBatch returns one vector per input text, preserving order. Any
// failure returns an empty slice rather than an error: callers skip the
// affected fragments and the next pipeline run picks them up again.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 {
		return nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embed(ctx, texts[start:end])
		if err != nil {
			c.logger.Warn("embedding batch failed", map[string]interface{}{
				"offset": start,
				"size":   end - start,
				"error":  err.Error(),
			})
			return nil
		}
		vectors = append(vectors, batch...)
	}
	return vectors
}

// Embed embeds a single text, returning nil on failure
func (c *Client) Embed(ctx context.Context, text string) []float32 {
	vectors := c.EmbedBatch(ctx, []string{text})
	if len(vectors) == 0 {
		return nil
	}
	return vectors[0]
}

func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 100<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from embedding service", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unexpected embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Healthy probes the service health endpoint
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
