package ports

import (
	"context"
	"io"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
)

// ChatService is the inbound contract for question answering.
type ChatService interface {
	Answer(ctx context.Context, message, conversationID string) (*domain.Answer, error)
	AnswerStream(ctx context.Context, message, conversationID string, emit func(domain.StreamEvent) error) error
}

// FeedbackService accepts user feedback and exposes aggregate stats.
type FeedbackService interface {
	Submit(ctx context.Context, responseID string, feedback int, correction string) error
	Stats(ctx context.Context) (*domain.FeedbackStats, error)
}

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType, title, source string, tags []string, body io.Reader) (*domain.Document, error)
}

// DocumentProcessor is the inbound contract for asynchronous indexing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}
