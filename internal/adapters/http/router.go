package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
	"github.com/kirillkom/multihop-rag/internal/core/ports"
	"github.com/kirillkom/multihop-rag/internal/observability/metrics"
)

const serviceName = "api"

const errorAnswerText = "I encountered an issue processing your request. Please try again."

type Options struct {
	LLMTimeout     time.Duration
	RateLimitRPS   int
	RateLimitBurst int
	MaxInFlight    int
}

type Router struct {
	chat     ports.ChatService
	feedback ports.FeedbackService
	ingestor ports.DocumentIngestor
	metrics  *metrics.HTTPServerMetrics
	opts     Options
}

func NewRouter(
	chat ports.ChatService,
	feedback ports.FeedbackService,
	ingestor ports.DocumentIngestor,
	serverMetrics *metrics.HTTPServerMetrics,
	opts Options,
) *Router {
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = 60 * time.Second
	}
	return &Router{
		chat:     chat,
		feedback: feedback,
		ingestor: ingestor,
		metrics:  serverMetrics,
		opts:     opts,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", rt.health)
	mux.HandleFunc("/api/chat", rt.handleChat)
	mux.HandleFunc("/api/chat/stream", rt.handleChatStream)
	mux.HandleFunc("/api/feedback", rt.handleFeedback)
	mux.HandleFunc("/api/debug/metrics", rt.handleDebugMetrics)
	mux.HandleFunc("/api/documents", rt.handleUploadDocument)
	mux.Handle("/metrics", rt.metrics.Handler())

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, 50*time.Millisecond)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	handler = rt.metrics.Middleware(serviceName, handler)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

func (rt *Router) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	ctx, cancel := contextWithTimeout(r, rt.opts.LLMTimeout)
	defer cancel()

	start := time.Now()
	answer, err := rt.chat.Answer(ctx, req.Message, req.ConversationID)
	if err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, domain.Answer{
			Blocks:    []domain.Block{domain.Paragraph(errorAnswerText)},
			Sources:   []domain.Source{},
			Mode:      domain.ModeGeneral,
			RequestID: shortRequestID(),
		})
		return
	}

	rt.metrics.RecordChatRequest(serviceName, "chat", string(answer.Mode), len(answer.Sources), time.Since(start))
	if answer.Mode == domain.ModeRAG && len(answer.Sources) == 0 {
		rt.metrics.RecordFallback(serviceName, "chat")
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	stream, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := contextWithTimeout(r, rt.opts.LLMTimeout)
	defer cancel()

	start := time.Now()
	if err := rt.chat.AnswerStream(ctx, req.Message, req.ConversationID, stream.Emit); err != nil {
		// The stream is already open; all we can do is emit a final
		// error frame for errors the usecase did not translate itself.
		_ = stream.Emit(domain.StreamEvent{Type: "error", Message: errorAnswerText})
		return
	}
	rt.metrics.RecordChatRequest(serviceName, "chat_stream", stream.Mode(), stream.SourceCount(), time.Since(start))
}

type feedbackRequest struct {
	ResponseID string `json:"response_id"`
	Feedback   *int   `json:"feedback"`
	Correction string `json:"correction"`
}

func (rt *Router) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.ResponseID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "response_id is required"})
		return
	}
	if req.Feedback == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "feedback is required"})
		return
	}

	if err := rt.feedback.Submit(r.Context(), req.ResponseID, *req.Feedback, req.Correction); err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	rt.metrics.RecordFeedback(serviceName, *req.Feedback, strings.TrimSpace(req.Correction) != "")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "feedback recorded",
	})
}

func (rt *Router) handleDebugMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	stats, err := rt.feedback.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	var tags []string
	if raw := strings.TrimSpace(r.FormValue("tags")); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(tag); trimmed != "" {
				tags = append(tags, trimmed)
			}
		}
	}

	doc, err := rt.ingestor.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		r.FormValue("title"),
		r.FormValue("source"),
		tags,
		file,
	)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func contextWithTimeout(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeout)
}

func shortRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
