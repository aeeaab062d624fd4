package ollama

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
	"github.com/kirillkom/multihop-rag/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor

	readyMu    sync.Mutex
	embedReady bool
}

func New(baseURL, genModel, embedModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces buffered and streamed chat completions.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, system string, history []domain.ChatTurn, user string) (string, error) {
	request := map[string]any{
		"model":    g.client.genModel,
		"messages": buildMessages(system, history, user),
		"stream":   false,
	}
	return g.client.chat(ctx, "generate", request)
}

func (g *Generator) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	request := map[string]any{
		"model":    g.client.genModel,
		"messages": []chatMessage{{Role: "user", Content: prompt}},
		"stream":   false,
		"format":   "json",
	}
	return g.client.chat(ctx, "generate_json", request)
}

// GenerateStream forwards each model chunk to onChunk as it arrives.
// Streaming calls are not retried; a retry would replay emitted chunks.
func (g *Generator) GenerateStream(ctx context.Context, system string, history []domain.ChatTurn, user string, onChunk func(string) error) error {
	request := map[string]any{
		"model":    g.client.genModel,
		"messages": buildMessages(system, history, user),
		"stream":   true,
	}
	err := g.client.streamChat(ctx, "generate_stream", request, onChunk)
	return wrapTemporaryIfNeeded("generate_stream", err)
}

func (c *Client) chat(ctx context.Context, operation string, request map[string]any) (string, error) {
	var response struct {
		Message chatMessage `json:"message"`
	}

	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/api/chat", request, &response, operation)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama."+operation, call, classifyModelError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded(operation, err)
	}
	return strings.TrimSpace(response.Message.Content), nil
}

func buildMessages(system string, history []domain.ChatTurn, user string) []chatMessage {
	messages := make([]chatMessage, 0, len(history)+2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	for _, turn := range history {
		messages = append(messages, chatMessage{Role: string(turn.Role), Content: turn.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})
	return messages
}

// Embedder builds unit-norm dense vectors. The embedding model is verified
// once before the first call; an unavailable model surfaces as
// ErrEmbeddingUnavailable.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.client.ensureEmbedModel(ctx); err != nil {
		return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "embed", err)
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}

	call := func(callCtx context.Context) error {
		return e.client.postJSON(callCtx, "/api/embed", request, &response, "embed")
	}

	var err error
	if e.client.executor != nil {
		err = e.client.executor.Execute(ctx, "ollama.embed", call, classifyModelError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, wrapTemporaryIfNeeded("embed", err)
	}
	if len(response.Embeddings) == 0 || len(response.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return normalizeL2(response.Embeddings[0]), nil
}

func (c *Client) ensureEmbedModel(ctx context.Context) error {
	c.readyMu.Lock()
	ready := c.embedReady
	c.readyMu.Unlock()
	if ready {
		return nil
	}

	request := map[string]any{"model": c.embedModel}
	var response struct {
		Details map[string]any `json:"details"`
	}
	if err := c.postJSON(ctx, "/api/show", request, &response, "show_model"); err != nil {
		return fmt.Errorf("embedding model %q not loadable: %w", c.embedModel, err)
	}

	c.readyMu.Lock()
	c.embedReady = true
	c.readyMu.Unlock()
	return nil
}

func normalizeL2(vector []float32) []float32 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vector
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vector))
	for i, v := range vector {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
