package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
	"github.com/kirillkom/multihop-rag/internal/core/ports"
)

const appearsInBothThreshold = 0.3

// HybridSearcher fuses dense similarity, keyword overlap and the persisted
// per-document feedback signal into one ranking.
type HybridSearcher struct {
	index   ports.VectorIndex
	ledger  ports.FeedbackLedger
	weights domain.HybridWeights
}

func NewHybridSearcher(index ports.VectorIndex, ledger ports.FeedbackLedger, weights domain.HybridWeights) *HybridSearcher {
	if weights.Semantic == 0 && weights.Keyword == 0 && weights.Feedback == 0 {
		weights = domain.DefaultHybridWeights()
	}
	return &HybridSearcher{
		index:   index,
		ledger:  ledger,
		weights: weights,
	}
}

func (s *HybridSearcher) Search(ctx context.Context, query string, topK int) ([]domain.HybridResult, error) {
	if topK <= 0 {
		topK = 5
	}

	keywords := extractKeywords(query)

	matches, err := s.index.Query(ctx, query, 3*topK)
	if err != nil {
		slog.Warn("hybrid_search_retrieval_degraded", "error", err)
		return nil, nil
	}

	candidates := make([]domain.HybridResult, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, match := range matches {
		if _, dup := seen[match.ID]; dup {
			continue
		}
		seen[match.ID] = struct{}{}

		kwScore := keywordScore(keywords, matchTextContent(match.Metadata))
		candidates = append(candidates, domain.HybridResult{
			ID:            match.ID,
			SemanticScore: match.Score,
			KeywordScore:  kwScore,
			Metadata:      match.Metadata,
			AppearsInBoth: kwScore > appearsInBothThreshold,
		})
	}

	// Per-candidate feedback lookups run concurrently; a failed lookup
	// degrades that candidate to feedbackScore=0 without aborting.
	var wg sync.WaitGroup
	for i := range candidates {
		wg.Add(1)
		go func(candidate *domain.HybridResult) {
			defer wg.Done()
			score, err := s.ledger.DocumentGlobalScore(ctx, candidate.ID)
			if err != nil {
				slog.Warn("feedback_score_lookup_failed", "document_id", candidate.ID, "error", err)
				return
			}
			candidate.FeedbackScore = score
		}(&candidates[i])
	}
	wg.Wait()

	for i := range candidates {
		candidates[i].FinalScore = s.finalScore(candidates[i])
	}

	sortHybridResults(candidates)
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

func (s *HybridSearcher) finalScore(r domain.HybridResult) float64 {
	score := s.weights.Semantic*r.SemanticScore + s.weights.Keyword*r.KeywordScore + s.weights.Feedback*r.FeedbackScore
	if r.AppearsInBoth {
		score += 0.05
	}
	return score
}

func sortHybridResults(results []domain.HybridResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		if results[i].SemanticScore != results[j].SemanticScore {
			return results[i].SemanticScore > results[j].SemanticScore
		}
		return results[i].ID < results[j].ID
	})
}

// HighestScore returns the best final score of a ranked result set.
func HighestScore(results []domain.HybridResult) (float64, bool) {
	if len(results) == 0 {
		return 0, false
	}
	best := results[0].FinalScore
	for _, r := range results[1:] {
		if r.FinalScore > best {
			best = r.FinalScore
		}
	}
	return best, true
}

func matchTextContent(metadata map[string]any) string {
	if len(metadata) == 0 {
		return ""
	}
	parts := make([]string, 0, 4)
	for _, key := range []string{"text", "title", "source"} {
		if v, ok := metadata[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	parts = append(parts, metadataTags(metadata)...)
	return strings.Join(parts, " ")
}

func metadataTags(metadata map[string]any) []string {
	raw, ok := metadata["tags"]
	if !ok {
		return nil
	}
	switch tags := raw.(type) {
	case []string:
		return tags
	case []any:
		out := make([]string, 0, len(tags))
		for _, t := range tags {
			if s, ok := t.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprintf("%v", t))
			}
		}
		return out
	default:
		return nil
	}
}
