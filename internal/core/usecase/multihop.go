package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
	"github.com/kirillkom/multihop-rag/internal/core/ports"
)

const (
	reasoningInitialQuery = "Initial Query"
	reasoningReplay       = "Replay from history"
	reasoningGenerated    = "LLM Generated"
)

type MultiHopLimits struct {
	MaxHops              int
	InitialTopK          int
	HopTopK              int
	SufficiencyThreshold float64
}

func (l MultiHopLimits) normalize() MultiHopLimits {
	out := l
	if out.MaxHops < 0 {
		out.MaxHops = 0
	}
	if out.InitialTopK <= 0 {
		out.InitialTopK = 10
	}
	if out.HopTopK <= 0 {
		out.HopTopK = 5
	}
	if out.SufficiencyThreshold <= 0 {
		out.SufficiencyThreshold = 0.4
	}
	return out
}

// MultiHopController decides whether retrieved evidence is sufficient,
// decomposes the question into sub-queries when it is not, and replays a
// previously successful decomposition for a repeated query.
type MultiHopController struct {
	searcher  ports.HybridSearch
	ledger    ports.FeedbackLedger
	generator ports.Generator
	limits    MultiHopLimits
}

func NewMultiHopController(
	searcher ports.HybridSearch,
	ledger ports.FeedbackLedger,
	generator ports.Generator,
	limits MultiHopLimits,
) *MultiHopController {
	return &MultiHopController{
		searcher:  searcher,
		ledger:    ledger,
		generator: generator,
		limits:    limits.normalize(),
	}
}

type hopAccumulator struct {
	results          []domain.HybridResult
	seen             map[string]struct{}
	hopIDs           []string
	generatedQueries []string
	hops             int
}

func (a *hopAccumulator) merge(results []domain.HybridResult) {
	for _, r := range results {
		if _, dup := a.seen[r.ID]; dup {
			continue
		}
		a.seen[r.ID] = struct{}{}
		a.results = append(a.results, r)
	}
}

func (c *MultiHopController) Run(ctx context.Context, originalQuery string) (*domain.MultiHopResult, error) {
	queryID := uuid.NewString()
	c.logQuery(ctx, domain.QueryRecord{
		ID:        queryID,
		Text:      originalQuery,
		Timestamp: time.Now().UnixMilli(),
	})

	acc := &hopAccumulator{seen: make(map[string]struct{})}

	template, err := c.ledger.SuccessfulTemplate(ctx, originalQuery)
	if err != nil {
		slog.Warn("template_lookup_failed", "query_id", queryID, "error", err)
		template = nil
	}
	if len(template) > 0 {
		c.replayTemplate(ctx, queryID, template, acc)
		return c.finish(queryID, acc), nil
	}

	c.executeHop(ctx, queryID, acc, 0, originalQuery, reasoningInitialQuery, c.limits.InitialTopK)

	for hop := 0; hop < c.limits.MaxHops; hop++ {
		decision, ok := c.evaluate(ctx, originalQuery, acc.results)
		if !ok || decision.Sufficient || len(decision.Queries) == 0 {
			break
		}
		for _, subQuery := range decision.Queries {
			acc.generatedQueries = append(acc.generatedQueries, subQuery)
			c.executeHop(ctx, queryID, acc, hop+1, subQuery, reasoningGenerated, c.limits.HopTopK)
		}
	}

	return c.finish(queryID, acc), nil
}

func (c *MultiHopController) replayTemplate(ctx context.Context, queryID string, template []domain.TemplateStep, acc *hopAccumulator) {
	slog.Info("template_replay", "query_id", queryID, "steps", len(template))
	for _, step := range template {
		acc.generatedQueries = append(acc.generatedQueries, step.SubQuery)
		c.executeHop(ctx, queryID, acc, step.HopOrder, step.SubQuery, reasoningReplay, c.limits.HopTopK)
	}
}

func (c *MultiHopController) executeHop(
	ctx context.Context,
	queryID string,
	acc *hopAccumulator,
	hopOrder int,
	subQuery, reasoning string,
	topK int,
) {
	hopID := uuid.NewString()
	c.logHop(ctx, domain.HopRecord{
		ID:        hopID,
		QueryID:   queryID,
		HopOrder:  hopOrder,
		SubQuery:  subQuery,
		Reasoning: reasoning,
		Status:    domain.HopPending,
	})
	acc.hopIDs = append(acc.hopIDs, hopID)
	acc.hops++

	results, err := c.searcher.Search(ctx, subQuery, topK)
	if err != nil {
		slog.Warn("hop_search_failed", "hop_id", hopID, "error", err)
		return
	}

	for rank, r := range results {
		c.logHopDocument(ctx, domain.HopDocumentRecord{
			ID:           uuid.NewString(),
			HopID:        hopID,
			DocumentID:   r.ID,
			DenseScore:   r.SemanticScore,
			SparseScore:  r.KeywordScore,
			RankPosition: rank + 1,
		})
	}
	acc.merge(results)
}

type decompositionDecision struct {
	Sufficient bool     `json:"sufficient"`
	Queries    []string `json:"queries"`
}

func (c *MultiHopController) evaluate(ctx context.Context, originalQuery string, results []domain.HybridResult) (decompositionDecision, bool) {
	contextText := buildEvidenceContext(results, c.limits.SufficiencyThreshold)
	raw, err := c.generator.GenerateJSON(ctx, buildDecompositionPrompt(contextText, originalQuery))
	if err != nil {
		slog.Warn("decomposition_call_failed", "error", err)
		return decompositionDecision{}, false
	}

	decision, err := parseDecomposition(raw)
	if err != nil {
		slog.Warn("decomposition_parse_failed", "error", err)
		return decompositionDecision{}, false
	}
	return decision, true
}

func parseDecomposition(raw string) (decompositionDecision, error) {
	var decision decompositionDecision
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &decision); err != nil {
		return decompositionDecision{}, err
	}

	queries := make([]string, 0, len(decision.Queries))
	for _, q := range decision.Queries {
		if trimmed := strings.TrimSpace(q); trimmed != "" {
			queries = append(queries, trimmed)
		}
	}
	decision.Queries = queries
	return decision, nil
}

func buildEvidenceContext(results []domain.HybridResult, threshold float64) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.FinalScore < threshold {
			continue
		}
		if text, ok := r.Metadata["text"].(string); ok && text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (c *MultiHopController) finish(queryID string, acc *hopAccumulator) *domain.MultiHopResult {
	sortHybridResults(acc.results)
	return &domain.MultiHopResult{
		Results:          acc.results,
		Hops:             acc.hops,
		GeneratedQueries: acc.generatedQueries,
		QueryID:          queryID,
		HopIDs:           acc.hopIDs,
	}
}

// Ledger writes never fail a retrieval round; they degrade to warnings.
func (c *MultiHopController) logQuery(ctx context.Context, rec domain.QueryRecord) {
	if err := c.ledger.LogQuery(ctx, rec); err != nil {
		slog.Warn("ledger_log_query_failed", "query_id", rec.ID, "error", err)
	}
}

func (c *MultiHopController) logHop(ctx context.Context, rec domain.HopRecord) {
	if err := c.ledger.LogHop(ctx, rec); err != nil {
		slog.Warn("ledger_log_hop_failed", "hop_id", rec.ID, "error", err)
	}
}

func (c *MultiHopController) logHopDocument(ctx context.Context, rec domain.HopDocumentRecord) {
	if err := c.ledger.LogHopDocument(ctx, rec); err != nil {
		slog.Warn("ledger_log_hop_document_failed", "hop_id", rec.HopID, "document_id", rec.DocumentID, "error", err)
	}
}
