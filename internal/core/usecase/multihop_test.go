package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
)

func newController(searcher *searcherFake, ledger *ledgerFake, generator *generatorFake) *MultiHopController {
	return NewMultiHopController(searcher, ledger, generator, MultiHopLimits{MaxHops: 1})
}

func TestRunSufficientStopsAfterInitialHop(t *testing.T) {
	searcher := &searcherFake{results: []domain.HybridResult{
		{ID: "doc-1", FinalScore: 0.9, Metadata: map[string]any{"text": "evidence"}},
	}}
	ledger := &ledgerFake{}
	generator := &generatorFake{jsonByCall: []string{`{"sufficient": true, "queries": []}`}}

	result, err := newController(searcher, ledger, generator).Run(context.Background(), "What is Project X?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Hops != 1 {
		t.Fatalf("expected 1 hop, got %d", result.Hops)
	}
	if len(result.GeneratedQueries) != 0 {
		t.Fatalf("expected no generated queries, got %v", result.GeneratedQueries)
	}
	if len(ledger.queries) != 1 || len(ledger.hops) != 1 {
		t.Fatalf("expected one query and one hop logged, got %d/%d", len(ledger.queries), len(ledger.hops))
	}
	if ledger.hops[0].HopOrder != 0 || ledger.hops[0].Reasoning != "Initial Query" {
		t.Fatalf("unexpected initial hop record: %+v", ledger.hops[0])
	}
}

func TestRunFanoutLogsThreeHops(t *testing.T) {
	searcher := &searcherFake{
		resultsByQuery: map[string][]domain.HybridResult{
			"Compare A and B": {{ID: "doc-ab", FinalScore: 0.45, Metadata: map[string]any{"text": "overview"}}},
			"What is A?":      {{ID: "doc-a", FinalScore: 0.8, Metadata: map[string]any{"text": "about a"}}},
			"What is B?":      {{ID: "doc-b", FinalScore: 0.7, Metadata: map[string]any{"text": "about b"}}},
		},
	}
	ledger := &ledgerFake{}
	generator := &generatorFake{jsonByCall: []string{
		`{"sufficient": false, "queries": ["What is A?", "What is B?"]}`,
		`{"sufficient": true, "queries": []}`,
	}}

	result, err := newController(searcher, ledger, generator).Run(context.Background(), "Compare A and B")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Hops != 3 {
		t.Fatalf("expected 3 hops, got %d", result.Hops)
	}
	if len(result.GeneratedQueries) != 2 || result.GeneratedQueries[0] != "What is A?" || result.GeneratedQueries[1] != "What is B?" {
		t.Fatalf("unexpected generated queries: %v", result.GeneratedQueries)
	}

	orders := []int{}
	for _, hop := range ledger.hops {
		orders = append(orders, hop.HopOrder)
	}
	if len(orders) != 3 || orders[0] != 0 || orders[1] != 1 || orders[2] != 1 {
		t.Fatalf("unexpected hop orders: %v", orders)
	}
	if ledger.hops[1].Reasoning != "LLM Generated" {
		t.Fatalf("unexpected fanout reasoning: %s", ledger.hops[1].Reasoning)
	}
}

func TestRunDeduplicatesAcrossHops(t *testing.T) {
	shared := domain.HybridResult{ID: "doc-shared", FinalScore: 0.6, Metadata: map[string]any{"text": "shared"}}
	searcher := &searcherFake{
		resultsByQuery: map[string][]domain.HybridResult{
			"q":          {shared},
			"What is A?": {shared, {ID: "doc-a", FinalScore: 0.5, Metadata: map[string]any{"text": "a"}}},
		},
	}
	ledger := &ledgerFake{}
	generator := &generatorFake{jsonByCall: []string{`{"sufficient": false, "queries": ["What is A?"]}`}}

	result, err := newController(searcher, ledger, generator).Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	seen := map[string]int{}
	for _, r := range result.Results {
		seen[r.ID]++
	}
	if seen["doc-shared"] != 1 {
		t.Fatalf("expected doc-shared once in results, got %d", seen["doc-shared"])
	}

	// Hop documents are still logged once per hop that surfaced them.
	sharedRows := 0
	for _, rec := range ledger.hopDocuments {
		if rec.DocumentID == "doc-shared" {
			sharedRows++
		}
	}
	if sharedRows != 2 {
		t.Fatalf("expected two hop-document rows for doc-shared, got %d", sharedRows)
	}
}

func TestRunParseFailureTerminatesLoop(t *testing.T) {
	searcher := &searcherFake{results: []domain.HybridResult{
		{ID: "doc-1", FinalScore: 0.9, Metadata: map[string]any{"text": "evidence"}},
	}}
	generator := &generatorFake{jsonByCall: []string{"not json at all"}}

	result, err := newController(searcher, &ledgerFake{}, generator).Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Hops != 1 {
		t.Fatalf("expected loop to end after initial hop, got %d hops", result.Hops)
	}
}

func TestRunTemplateReplay(t *testing.T) {
	searcher := &searcherFake{
		resultsByQuery: map[string][]domain.HybridResult{
			"What is A?": {{ID: "doc-a", FinalScore: 0.8, Metadata: map[string]any{"text": "a"}}},
			"What is B?": {{ID: "doc-b", FinalScore: 0.9, Metadata: map[string]any{"text": "b"}}},
		},
	}
	ledger := &ledgerFake{template: []domain.TemplateStep{
		{HopOrder: 0, SubQuery: "What is A?", Reasoning: "Initial Query"},
		{HopOrder: 1, SubQuery: "What is B?", Reasoning: "LLM Generated"},
	}}
	generator := &generatorFake{}

	result, err := newController(searcher, ledger, generator).Run(context.Background(), "Compare A and B")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Hops != 2 {
		t.Fatalf("expected 2 replayed hops, got %d", result.Hops)
	}
	if len(result.GeneratedQueries) != 2 || result.GeneratedQueries[0] != "What is A?" || result.GeneratedQueries[1] != "What is B?" {
		t.Fatalf("unexpected replayed queries: %v", result.GeneratedQueries)
	}
	for _, hop := range ledger.hops {
		if hop.Reasoning != "Replay from history" {
			t.Fatalf("expected replay reasoning, got %q", hop.Reasoning)
		}
	}
	// Replay bypasses sufficiency evaluation entirely.
	if len(generator.prompts) != 0 {
		t.Fatalf("expected no model calls during replay, got %d", len(generator.prompts))
	}
	if result.Results[0].FinalScore < result.Results[1].FinalScore {
		t.Fatalf("replay results not sorted by final score")
	}
}

func TestRunLogsHopDocumentsInRankOrder(t *testing.T) {
	searcher := &searcherFake{results: []domain.HybridResult{
		{ID: "first", SemanticScore: 0.9, KeywordScore: 0.5, FinalScore: 0.9},
		{ID: "second", SemanticScore: 0.7, KeywordScore: 0.1, FinalScore: 0.7},
	}}
	ledger := &ledgerFake{}
	generator := &generatorFake{jsonByCall: []string{`{"sufficient": true, "queries": []}`}}

	if _, err := newController(searcher, ledger, generator).Run(context.Background(), "q"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(ledger.hopDocuments) != 2 {
		t.Fatalf("expected 2 hop documents, got %d", len(ledger.hopDocuments))
	}
	first := ledger.hopDocuments[0]
	if first.RankPosition != 1 || first.DocumentID != "first" {
		t.Fatalf("unexpected first row: %+v", first)
	}
	if first.DenseScore != 0.9 || first.SparseScore != 0.5 {
		t.Fatalf("expected dense/sparse scores recorded, got %+v", first)
	}
	if ledger.hopDocuments[1].RankPosition != 2 {
		t.Fatalf("expected rank 2 for second row, got %d", ledger.hopDocuments[1].RankPosition)
	}
}

func TestParseDecompositionStripsFences(t *testing.T) {
	decision, err := parseDecomposition("```json\n{\"sufficient\": false, \"queries\": [\" What is A? \"]}\n```")
	if err != nil {
		t.Fatalf("parseDecomposition() error = %v", err)
	}
	if decision.Sufficient {
		t.Fatalf("expected insufficient")
	}
	if len(decision.Queries) != 1 || decision.Queries[0] != "What is A?" {
		t.Fatalf("unexpected queries: %v", decision.Queries)
	}
}
