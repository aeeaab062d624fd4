package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
	"github.com/kirillkom/multihop-rag/internal/core/ports"
)

const minCorrectionLength = 5

// FeedbackUseCase finalises user feedback on a response, blames the weakest
// hop on a downvote and ingests corrections as new retrievable documents.
type FeedbackUseCase struct {
	ledger   ports.FeedbackLedger
	embedder ports.Embedder
	index    ports.VectorIndex
}

func NewFeedbackUseCase(ledger ports.FeedbackLedger, embedder ports.Embedder, index ports.VectorIndex) *FeedbackUseCase {
	return &FeedbackUseCase{
		ledger:   ledger,
		embedder: embedder,
		index:    index,
	}
}

func (uc *FeedbackUseCase) Submit(ctx context.Context, responseID string, feedback int, correction string) error {
	if strings.TrimSpace(responseID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "submit feedback", fmt.Errorf("response_id is required"))
	}
	if feedback != 1 && feedback != -1 {
		return domain.WrapError(domain.ErrInvalidInput, "submit feedback", fmt.Errorf("feedback must be -1 or 1, got %d", feedback))
	}

	if err := uc.ledger.SetResponseFeedback(ctx, responseID, feedback, correction); err != nil {
		return fmt.Errorf("set response feedback: %w", err)
	}

	if feedback == -1 {
		uc.diagnoseWeakestHop(ctx, responseID)
	}
	uc.injectCorrection(ctx, correction)
	return nil
}

func (uc *FeedbackUseCase) Stats(ctx context.Context) (*domain.FeedbackStats, error) {
	stats, err := uc.ledger.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("feedback stats: %w", err)
	}
	return stats, nil
}

// diagnoseWeakestHop marks the hop with the lowest mean combined score as
// failed. Ties break by earliest hop order, then lexicographic hop id. A
// response without an evidence chain is left alone.
func (uc *FeedbackUseCase) diagnoseWeakestHop(ctx context.Context, responseID string) {
	hops, err := uc.ledger.ChainHops(ctx, responseID)
	if err != nil {
		slog.Warn("weakest_hop_load_failed", "response_id", responseID, "error", err)
		return
	}
	if len(hops) == 0 {
		return
	}

	weakest := hops[0]
	weakestAvg := meanScore(weakest.DocScores)
	for _, hop := range hops[1:] {
		avg := meanScore(hop.DocScores)
		if avg < weakestAvg {
			weakest, weakestAvg = hop, avg
			continue
		}
		if avg == weakestAvg {
			if hop.HopOrder < weakest.HopOrder || (hop.HopOrder == weakest.HopOrder && hop.HopID < weakest.HopID) {
				weakest = hop
			}
		}
	}

	if err := uc.ledger.MarkHopFailed(ctx, weakest.HopID); err != nil {
		slog.Warn("weakest_hop_mark_failed", "hop_id", weakest.HopID, "error", err)
		return
	}
	slog.Info("weakest_hop_marked",
		"response_id", responseID,
		"hop_id", weakest.HopID,
		"hop_order", weakest.HopOrder,
		"avg_score", weakestAvg,
	)
}

// injectCorrection upserts a user correction as a retrievable vector.
// Failures are logged and never fail the feedback submission.
func (uc *FeedbackUseCase) injectCorrection(ctx context.Context, correction string) {
	trimmed := strings.TrimSpace(correction)
	if len(trimmed) <= minCorrectionLength {
		return
	}

	vector, err := uc.embedder.Embed(ctx, trimmed)
	if err != nil {
		slog.Warn("correction_embed_failed", "error", err)
		return
	}

	item := domain.UpsertItem{
		ID:     "correction-" + uuid.NewString(),
		Vector: vector,
		Metadata: map[string]any{
			"text":      trimmed,
			"type":      "correction",
			"timestamp": time.Now().UnixMilli(),
			"source":    "user_feedback",
		},
	}
	if err := uc.index.Upsert(ctx, []domain.UpsertItem{item}); err != nil {
		slog.Warn("correction_upsert_failed", "id", item.ID, "error", err)
		return
	}
	slog.Info("correction_ingested", "id", item.ID)
}

func meanScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}
