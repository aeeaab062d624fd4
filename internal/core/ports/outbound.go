package ports

import (
	"context"
	"io"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
)

// Embedder converts text into a unit-norm dense vector of fixed dimension.
// Same input yields byte-identical output.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex performs top-K similarity search and persists new vectors.
// Query results are sorted by descending score; an unconfigured backend
// returns an empty slice and a nil error.
type VectorIndex interface {
	Query(ctx context.Context, queryText string, topK int) ([]domain.Match, error)
	Upsert(ctx context.Context, items []domain.UpsertItem) error
}

// FeedbackLedger is the durable record of queries, hops, documents,
// responses and evidence chains. Writes are idempotent inserts keyed by
// caller-generated identifiers.
type FeedbackLedger interface {
	LogQuery(ctx context.Context, rec domain.QueryRecord) error
	LogHop(ctx context.Context, rec domain.HopRecord) error
	LogHopDocument(ctx context.Context, rec domain.HopDocumentRecord) error
	LogResponse(ctx context.Context, rec domain.ResponseRecord) error
	LogEvidenceChain(ctx context.Context, rec domain.EvidenceChainRecord) error

	SetResponseFeedback(ctx context.Context, responseID string, feedback int, correction string) error
	DocumentGlobalScore(ctx context.Context, documentID string) (float64, error)
	SuccessfulTemplate(ctx context.Context, queryText string) ([]domain.TemplateStep, error)
	ChainHops(ctx context.Context, responseID string) ([]domain.ChainHop, error)
	MarkHopFailed(ctx context.Context, hopID string) error
	Stats(ctx context.Context) (*domain.FeedbackStats, error)
}

// HybridSearch fuses dense, keyword and feedback signals into one ranking.
type HybridSearch interface {
	Search(ctx context.Context, query string, topK int) ([]domain.HybridResult, error)
}

// MultiHopRunner executes one or more retrieval rounds for a question.
type MultiHopRunner interface {
	Run(ctx context.Context, originalQuery string) (*domain.MultiHopResult, error)
}

// Generator creates answers from prompts, buffered or streamed.
type Generator interface {
	Generate(ctx context.Context, system string, history []domain.ChatTurn, user string) (string, error)
	GenerateJSON(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, system string, history []domain.ChatTurn, user string, onChunk func(string) error) error
}

// ConversationWindow is the per-conversation rolling window of prior turns.
type ConversationWindow interface {
	Get(conversationID string) []domain.ChatTurn
	Append(conversationID string, role domain.ChatRole, content string)
}

// DocumentRepository persists uploaded document metadata.
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *domain.Document) error
	GetDocumentByID(ctx context.Context, id string) (*domain.Document, error)
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

// Chunker splits text into indexable chunks.
type Chunker interface {
	Split(text string) []string
}
