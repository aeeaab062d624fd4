package bootstrap

import (
	"context"
	"fmt"

	"github.com/kirillkom/multihop-rag/internal/config"
	"github.com/kirillkom/multihop-rag/internal/core/domain"
	"github.com/kirillkom/multihop-rag/internal/core/ports"
	"github.com/kirillkom/multihop-rag/internal/core/usecase"
	"github.com/kirillkom/multihop-rag/internal/infrastructure/chunking"
	"github.com/kirillkom/multihop-rag/internal/infrastructure/embedding"
	"github.com/kirillkom/multihop-rag/internal/infrastructure/extractor"
	"github.com/kirillkom/multihop-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/multihop-rag/internal/infrastructure/memory"
	"github.com/kirillkom/multihop-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/multihop-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/multihop-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/multihop-rag/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/multihop-rag/internal/infrastructure/vector/pinecone"
)

type App struct {
	Config config.Config

	Queue      ports.MessageQueue
	ChatUC     ports.ChatService
	FeedbackUC ports.FeedbackService
	IngestUC   ports.DocumentIngestor
	ProcessUC  ports.DocumentProcessor

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ledger := postgres.NewLedgerRepository(db)
	if err := ledger.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	docRepo := postgres.NewDocumentRepository(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
	generator := ollama.NewGenerator(ollamaClient)

	embedder, err := embedding.NewCachedEmbedder(ollama.NewEmbedder(ollamaClient), cfg.EmbedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}

	index := pinecone.New(cfg.PineconeIndexHost, cfg.PineconeAPIKey, cfg.PineconeIndex, embedder)

	searcher := usecase.NewHybridSearcher(index, ledger, domain.DefaultHybridWeights())
	controller := usecase.NewMultiHopController(searcher, ledger, generator, usecase.MultiHopLimits{
		MaxHops:              cfg.MaxHops,
		InitialTopK:          cfg.InitialTopK,
		HopTopK:              cfg.HopTopK,
		SufficiencyThreshold: cfg.SufficiencyThreshold,
	})
	window := memory.NewConversationWindow(cfg.ConversationWindow)

	chatUC := usecase.NewChatUseCase(generator, controller, ledger, window, cfg.SimilarityThreshold)
	feedbackUC := usecase.NewFeedbackUseCase(ledger, embedder, index)
	ingestUC := usecase.NewIngestDocumentUseCase(docRepo, storage, queue)
	processUC := usecase.NewProcessDocumentUseCase(docRepo, extractor.New(storage), chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap), embedder, index)

	return &App{
		Config: cfg,

		Queue:      queue,
		ChatUC:     chatUC,
		FeedbackUC: feedbackUC,
		IngestUC:   ingestUC,
		ProcessUC:  processUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
