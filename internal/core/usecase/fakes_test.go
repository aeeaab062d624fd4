package usecase

import (
	"context"
	"sync"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
)

type ledgerFake struct {
	mu sync.Mutex

	queries      []domain.QueryRecord
	hops         []domain.HopRecord
	hopDocuments []domain.HopDocumentRecord
	responses    []domain.ResponseRecord
	chains       []domain.EvidenceChainRecord

	failedHopIDs []string

	template  []domain.TemplateStep
	chainHops []domain.ChainHop
	docScores map[string]float64

	scoreErr    error
	feedbackErr error
}

func (f *ledgerFake) LogQuery(_ context.Context, rec domain.QueryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, rec)
	return nil
}

func (f *ledgerFake) LogHop(_ context.Context, rec domain.HopRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hops = append(f.hops, rec)
	return nil
}

func (f *ledgerFake) LogHopDocument(_ context.Context, rec domain.HopDocumentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hopDocuments = append(f.hopDocuments, rec)
	return nil
}

func (f *ledgerFake) LogResponse(_ context.Context, rec domain.ResponseRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, rec)
	return nil
}

func (f *ledgerFake) LogEvidenceChain(_ context.Context, rec domain.EvidenceChainRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chains = append(f.chains, rec)
	return nil
}

func (f *ledgerFake) SetResponseFeedback(_ context.Context, responseID string, feedback int, correction string) error {
	if f.feedbackErr != nil {
		return f.feedbackErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.responses {
		if f.responses[i].ID == responseID {
			f.responses[i].UserFeedback = feedback
			if correction != "" {
				f.responses[i].UserCorrection = correction
			}
			return nil
		}
	}
	f.responses = append(f.responses, domain.ResponseRecord{ID: responseID, UserFeedback: feedback, UserCorrection: correction})
	return nil
}

func (f *ledgerFake) DocumentGlobalScore(_ context.Context, documentID string) (float64, error) {
	if f.scoreErr != nil {
		return 0, f.scoreErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docScores[documentID], nil
}

func (f *ledgerFake) SuccessfulTemplate(context.Context, string) ([]domain.TemplateStep, error) {
	return f.template, nil
}

func (f *ledgerFake) ChainHops(context.Context, string) ([]domain.ChainHop, error) {
	return f.chainHops, nil
}

func (f *ledgerFake) MarkHopFailed(_ context.Context, hopID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedHopIDs = append(f.failedHopIDs, hopID)
	return nil
}

func (f *ledgerFake) Stats(context.Context) (*domain.FeedbackStats, error) {
	return &domain.FeedbackStats{}, nil
}

type indexFake struct {
	matches   []domain.Match
	queryErr  error
	upserted  [][]domain.UpsertItem
	upsertErr error
	queries   []string
}

func (f *indexFake) Query(_ context.Context, queryText string, _ int) ([]domain.Match, error) {
	f.queries = append(f.queries, queryText)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.matches, nil
}

func (f *indexFake) Upsert(_ context.Context, items []domain.UpsertItem) error {
	f.upserted = append(f.upserted, items)
	return f.upsertErr
}

type embedderFake struct {
	vector []float32
	err    error
	inputs []string
}

func (f *embedderFake) Embed(_ context.Context, text string) ([]float32, error) {
	f.inputs = append(f.inputs, text)
	if f.err != nil {
		return nil, f.err
	}
	if f.vector != nil {
		return f.vector, nil
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type searcherFake struct {
	// resultsByQuery wins over results when the query is present.
	results        []domain.HybridResult
	resultsByQuery map[string][]domain.HybridResult
	queries        []string
}

func (f *searcherFake) Search(_ context.Context, query string, _ int) ([]domain.HybridResult, error) {
	f.queries = append(f.queries, query)
	if f.resultsByQuery != nil {
		if results, ok := f.resultsByQuery[query]; ok {
			return results, nil
		}
	}
	return f.results, nil
}

type generatorFake struct {
	response    string
	jsonByCall  []string
	jsonCall    int
	err         error
	streamParts []string
	streamErr   error
	prompts     []string
}

func (f *generatorFake) Generate(_ context.Context, system string, _ []domain.ChatTurn, _ string) (string, error) {
	f.prompts = append(f.prompts, system)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *generatorFake) GenerateJSON(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.jsonByCall) == 0 {
		return f.response, nil
	}
	idx := f.jsonCall
	if idx >= len(f.jsonByCall) {
		idx = len(f.jsonByCall) - 1
	}
	f.jsonCall++
	return f.jsonByCall[idx], nil
}

func (f *generatorFake) GenerateStream(_ context.Context, system string, _ []domain.ChatTurn, _ string, onChunk func(string) error) error {
	f.prompts = append(f.prompts, system)
	for _, part := range f.streamParts {
		if err := onChunk(part); err != nil {
			return err
		}
	}
	return f.streamErr
}

type multihopFake struct {
	result *domain.MultiHopResult
	err    error
}

func (f *multihopFake) Run(context.Context, string) (*domain.MultiHopResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &domain.MultiHopResult{}, nil
}

type windowFake struct {
	turns map[string][]domain.ChatTurn
}

func newWindowFake() *windowFake {
	return &windowFake{turns: make(map[string][]domain.ChatTurn)}
}

func (f *windowFake) Get(conversationID string) []domain.ChatTurn {
	return f.turns[conversationID]
}

func (f *windowFake) Append(conversationID string, role domain.ChatRole, content string) {
	f.turns[conversationID] = append(f.turns[conversationID], domain.ChatTurn{Role: role, Content: content})
}
