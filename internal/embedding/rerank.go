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

// Reranker scores query/document pairs via a cross-encoder service.
// Unlike embedding, rerank errors propagate: the caller decides whether
// to degrade to the original ordering.
type Reranker struct {
	baseURL string
	model   string
	http    *http.Client
	logger  *logging.Logger
}

// NewReranker creates a reranker from configuration, or nil when the
// rerank stage is disabled
func NewReranker(cfg config.RerankConfig, logger *logging.Logger) *Reranker {
	if !cfg.Enabled {
		return nil
	}
	return &Reranker{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
		logger: logger.With("rerank"),
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []RankedDocument `json:"results"`
}

// RankedDocument is one rerank result referencing the input by index
type RankedDocument struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// Rerank scores documents against the query. Results come back in the
// service's relevance order, each pointing at an input index.
func (r *Reranker) Rerank(ctx context.Context, query string, documents []string) ([]RankedDocument, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: documents})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from rerank service", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unexpected rerank response: %w", err)
	}
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(documents) {
			return nil, fmt.Errorf("rerank index %d out of range", res.Index)
		}
	}
	return parsed.Results, nil
}
