package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
	"github.com/kirillkom/multihop-rag/internal/core/ports"
)

// Client talks to the Pinecone data plane. A client without credentials or
// index host is deliberately usable: queries return empty results with a
// warning so the caller can fall back to the no-knowledge path.
type Client struct {
	indexHost  string
	apiKey     string
	indexName  string
	embedder   ports.Embedder
	httpClient *http.Client
}

func New(indexHost, apiKey, indexName string, embedder ports.Embedder) *Client {
	return &Client{
		indexHost:  strings.TrimRight(indexHost, "/"),
		apiKey:     apiKey,
		indexName:  indexName,
		embedder:   embedder,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) configured() bool {
	return c.indexHost != "" && c.apiKey != ""
}

func (c *Client) Query(ctx context.Context, queryText string, topK int) ([]domain.Match, error) {
	if !c.configured() {
		slog.Warn("vector_index_not_configured", "index", c.indexName)
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	vector, err := c.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	reqBody := map[string]any{
		"vector":          vector,
		"topK":            topK,
		"includeMetadata": true,
	}

	var queryResp struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float64        `json:"score"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}
	if err := c.postJSON(ctx, "/query", reqBody, &queryResp, "query"); err != nil {
		return nil, err
	}

	out := make([]domain.Match, 0, len(queryResp.Matches))
	for _, m := range queryResp.Matches {
		out = append(out, domain.Match{
			ID:       m.ID,
			Score:    clampUnit(m.Score),
			Metadata: m.Metadata,
		})
	}
	return out, nil
}

func (c *Client) Upsert(ctx context.Context, items []domain.UpsertItem) error {
	if len(items) == 0 {
		return nil
	}
	if !c.configured() {
		return domain.WrapError(domain.ErrRetrievalUnavailable, "upsert", fmt.Errorf("pinecone index %q is not configured", c.indexName))
	}

	type vectorPayload struct {
		ID       string         `json:"id"`
		Values   []float32      `json:"values"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}
	vectors := make([]vectorPayload, 0, len(items))
	for _, item := range items {
		vectors = append(vectors, vectorPayload{
			ID:       item.ID,
			Values:   item.Vector,
			Metadata: item.Metadata,
		})
	}

	var upsertResp struct {
		UpsertedCount int `json:"upsertedCount"`
	}
	return c.postJSON(ctx, "/vectors/upsert", map[string]any{"vectors": vectors}, &upsertResp, "upsert")
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.indexHost+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pinecone %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(raw)); msg != "" {
			return fmt.Errorf("pinecone %s status: %s: %s", operation, resp.Status, msg)
		}
		return fmt.Errorf("pinecone %s status: %s", operation, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func clampUnit(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
