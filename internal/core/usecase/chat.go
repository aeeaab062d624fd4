package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
	"github.com/kirillkom/multihop-rag/internal/core/ports"
)

const fallbackAnswerText = "I don't have that information in my knowledge base yet. Try adding relevant documents or rephrasing the question."

// ChatUseCase is the answer orchestrator: it classifies the mode, drives
// multi-hop retrieval for knowledge questions, invokes the model and writes
// the response and evidence chain back to the ledger.
type ChatUseCase struct {
	generator ports.Generator
	multihop  ports.MultiHopRunner
	ledger    ports.FeedbackLedger
	window    ports.ConversationWindow
	threshold float64
}

func NewChatUseCase(
	generator ports.Generator,
	multihop ports.MultiHopRunner,
	ledger ports.FeedbackLedger,
	window ports.ConversationWindow,
	similarityThreshold float64,
) *ChatUseCase {
	if similarityThreshold <= 0 {
		similarityThreshold = 0.5
	}
	return &ChatUseCase{
		generator: generator,
		multihop:  multihop,
		ledger:    ledger,
		window:    window,
		threshold: similarityThreshold,
	}
}

func (uc *ChatUseCase) Answer(ctx context.Context, message, conversationID string) (*domain.Answer, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", fmt.Errorf("message is required"))
	}

	requestID := newRequestID()
	if conversationID == "" {
		conversationID = requestID
	}
	history := uc.window.Get(conversationID)

	if DetectMode(message) == domain.ModeGeneral {
		raw, err := uc.generator.Generate(ctx, buildGeneralPrompt(), history, message)
		if err != nil {
			return nil, fmt.Errorf("generate general answer: %w", err)
		}
		uc.rememberTurns(conversationID, message, raw)
		return &domain.Answer{
			Blocks:    parseLLMBlocks(raw),
			Sources:   []domain.Source{},
			Mode:      domain.ModeGeneral,
			RequestID: requestID,
		}, nil
	}

	mh := uc.runRetrieval(ctx, message)
	contextText, sources, docIDs, highest, ok := uc.buildRAGContext(mh)
	if !ok {
		uc.recordResponse(ctx, mh, fallbackAnswerText, nil, 0)
		uc.rememberTurns(conversationID, message, fallbackAnswerText)
		return &domain.Answer{
			Blocks:    []domain.Block{domain.Paragraph(fallbackAnswerText)},
			Sources:   []domain.Source{},
			Mode:      domain.ModeRAG,
			RequestID: requestID,
		}, nil
	}

	raw, err := uc.generator.Generate(ctx, buildRAGPrompt(contextText), history, message)
	if err != nil {
		return nil, fmt.Errorf("generate rag answer: %w", err)
	}

	uc.recordResponse(ctx, mh, raw, docIDs, highest)
	uc.rememberTurns(conversationID, message, raw)
	return &domain.Answer{
		Blocks:    parseLLMBlocks(raw),
		Sources:   sources,
		Mode:      domain.ModeRAG,
		RequestID: requestID,
	}, nil
}

func (uc *ChatUseCase) AnswerStream(ctx context.Context, message, conversationID string, emit func(domain.StreamEvent) error) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return domain.WrapError(domain.ErrInvalidInput, "answer stream", fmt.Errorf("message is required"))
	}

	requestID := newRequestID()
	if conversationID == "" {
		conversationID = requestID
	}
	history := uc.window.Get(conversationID)

	if DetectMode(message) == domain.ModeGeneral {
		if err := emit(metaEvent(domain.ModeGeneral, []domain.Source{}, requestID)); err != nil {
			return err
		}
		return uc.streamModelAnswer(ctx, buildGeneralPrompt(), history, message, conversationID, emit, nil, nil, 0)
	}

	mh := uc.runRetrieval(ctx, message)
	contextText, sources, docIDs, highest, ok := uc.buildRAGContext(mh)
	if !ok {
		if err := emit(metaEvent(domain.ModeRAG, []domain.Source{}, requestID)); err != nil {
			return err
		}
		if err := emit(domain.StreamEvent{Type: "chunk", Data: fallbackAnswerText}); err != nil {
			return err
		}
		uc.recordResponse(ctx, mh, fallbackAnswerText, nil, 0)
		uc.rememberTurns(conversationID, message, fallbackAnswerText)
		return emit(domain.StreamEvent{Type: "done"})
	}

	if err := emit(metaEvent(domain.ModeRAG, sources, requestID)); err != nil {
		return err
	}
	return uc.streamModelAnswer(ctx, buildRAGPrompt(contextText), history, message, conversationID, emit, mh, docIDs, highest)
}

// streamModelAnswer forwards chunks verbatim and finalises the turn. A
// timeout mid-stream keeps whatever was emitted; other model failures turn
// into an error frame and close the stream.
func (uc *ChatUseCase) streamModelAnswer(
	ctx context.Context,
	system string,
	history []domain.ChatTurn,
	message, conversationID string,
	emit func(domain.StreamEvent) error,
	mh *domain.MultiHopResult,
	docIDs []string,
	highest float64,
) error {
	var full strings.Builder
	var emitErr error
	streamErr := uc.generator.GenerateStream(ctx, system, history, message, func(chunk string) error {
		full.WriteString(chunk)
		if err := emit(domain.StreamEvent{Type: "chunk", Data: chunk}); err != nil {
			emitErr = err
			return err
		}
		return nil
	})
	if emitErr != nil {
		return emitErr
	}
	if streamErr != nil && !isTimeout(streamErr) {
		slog.Error("llm_stream_failed", "error", streamErr)
		return emit(domain.StreamEvent{Type: "error", Message: "The language model is unavailable right now."})
	}

	content := full.String()
	if content != "" {
		if mh != nil {
			uc.recordResponse(ctx, mh, content, docIDs, highest)
		}
		uc.rememberTurns(conversationID, message, content)
	}
	return emit(domain.StreamEvent{Type: "done"})
}

func (uc *ChatUseCase) runRetrieval(ctx context.Context, message string) *domain.MultiHopResult {
	mh, err := uc.multihop.Run(ctx, message)
	if err != nil || mh == nil {
		slog.Warn("multihop_run_degraded", "error", err)
		return &domain.MultiHopResult{}
	}
	return mh
}

// buildRAGContext keeps results at or above the similarity threshold and
// concatenates their text. ok is false when the evidence cannot support an
// answer and the fixed fallback must be used.
func (uc *ChatUseCase) buildRAGContext(mh *domain.MultiHopResult) (string, []domain.Source, []string, float64, bool) {
	highest, found := HighestScore(mh.Results)
	if !found || highest < uc.threshold {
		return "", nil, nil, 0, false
	}

	parts := make([]string, 0, len(mh.Results))
	sources := make([]domain.Source, 0, len(mh.Results))
	docIDs := make([]string, 0, len(mh.Results))
	for _, r := range mh.Results {
		if r.FinalScore < uc.threshold {
			continue
		}
		text, _ := r.Metadata["text"].(string)
		if text != "" {
			parts = append(parts, text)
		}
		title, _ := r.Metadata["title"].(string)
		source, _ := r.Metadata["source"].(string)
		sources = append(sources, domain.Source{Title: title, Source: source, Score: r.FinalScore})
		docIDs = append(docIDs, r.ID)
	}

	contextText := strings.Join(parts, "\n\n")
	if strings.TrimSpace(contextText) == "" {
		return "", nil, nil, 0, false
	}
	return contextText, sources, docIDs, highest, true
}

func (uc *ChatUseCase) recordResponse(ctx context.Context, mh *domain.MultiHopResult, content string, docIDs []string, confidence float64) {
	if mh == nil || mh.QueryID == "" {
		return
	}
	responseID := uuid.NewString()
	if err := uc.ledger.LogResponse(ctx, domain.ResponseRecord{
		ID:        responseID,
		QueryID:   mh.QueryID,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		slog.Warn("ledger_log_response_failed", "query_id", mh.QueryID, "error", err)
		return
	}
	if len(docIDs) == 0 {
		return
	}
	if err := uc.ledger.LogEvidenceChain(ctx, domain.EvidenceChainRecord{
		ID:              uuid.NewString(),
		ResponseID:      responseID,
		HopIDs:          mh.HopIDs,
		DocumentIDs:     docIDs,
		ConfidenceScore: confidence,
	}); err != nil {
		slog.Warn("ledger_log_chain_failed", "response_id", responseID, "error", err)
	}
}

func (uc *ChatUseCase) rememberTurns(conversationID, userMessage, assistantContent string) {
	uc.window.Append(conversationID, domain.RoleUser, userMessage)
	uc.window.Append(conversationID, domain.RoleAssistant, assistantContent)
}

func metaEvent(mode domain.AnswerMode, sources []domain.Source, requestID string) domain.StreamEvent {
	return domain.StreamEvent{
		Type:      "meta",
		Mode:      string(mode),
		Sources:   sources,
		RequestID: requestID,
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func newRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
