package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
	"github.com/kirillkom/multihop-rag/internal/observability/metrics"
)

type chatServiceFake struct {
	answer *domain.Answer
	events []domain.StreamEvent
	err    error
}

func (f *chatServiceFake) Answer(context.Context, string, string) (*domain.Answer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

func (f *chatServiceFake) AnswerStream(_ context.Context, _, _ string, emit func(domain.StreamEvent) error) error {
	if f.err != nil {
		return f.err
	}
	for _, e := range f.events {
		if err := emit(e); err != nil {
			return err
		}
	}
	return nil
}

type feedbackServiceFake struct {
	submitted []int
	err       error
}

func (f *feedbackServiceFake) Submit(_ context.Context, _ string, feedback int, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, feedback)
	return nil
}

func (f *feedbackServiceFake) Stats(context.Context) (*domain.FeedbackStats, error) {
	return &domain.FeedbackStats{PositiveFeedback: 3, NegativeFeedback: 1, TotalFeedback: 4}, nil
}

type ingestorFake struct{}

func (f *ingestorFake) Upload(_ context.Context, filename, _, _, _ string, _ []string, _ io.Reader) (*domain.Document, error) {
	return &domain.Document{ID: "doc-1", Filename: filename}, nil
}

func newTestHandler(chat *chatServiceFake, feedback *feedbackServiceFake, opts Options) http.Handler {
	return NewRouter(chat, feedback, &ingestorFake{}, metrics.NewHTTPServerMetrics("api"), opts).Handler()
}

func postJSONRequest(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestHealth(t *testing.T) {
	handler := newTestHandler(&chatServiceFake{}, &feedbackServiceFake{}, Options{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body: %s", res.Body.String())
	}
}

func TestChatMissingMessageReturns400(t *testing.T) {
	handler := newTestHandler(&chatServiceFake{}, &feedbackServiceFake{}, Options{})
	res := postJSONRequest(t, handler, "/api/chat", map[string]string{"conversation_id": "c1"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestChatSuccessShape(t *testing.T) {
	chat := &chatServiceFake{answer: &domain.Answer{
		Blocks:    []domain.Block{domain.Paragraph("hello")},
		Sources:   []domain.Source{},
		Mode:      domain.ModeGeneral,
		RequestID: "abcd1234",
	}}
	handler := newTestHandler(chat, &feedbackServiceFake{}, Options{})

	res := postJSONRequest(t, handler, "/api/chat", map[string]string{"message": "hello"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	var answer domain.Answer
	if err := json.NewDecoder(res.Body).Decode(&answer); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if answer.Mode != domain.ModeGeneral || len(answer.Blocks) != 1 {
		t.Fatalf("unexpected answer: %+v", answer)
	}
	if len(answer.RequestID) != 8 {
		t.Fatalf("expected 8-char request id, got %q", answer.RequestID)
	}
}

func TestChatFailureReturns500WithErrorBlocks(t *testing.T) {
	chat := &chatServiceFake{err: context.DeadlineExceeded}
	handler := newTestHandler(chat, &feedbackServiceFake{}, Options{})

	res := postJSONRequest(t, handler, "/api/chat", map[string]string{"message": "hello"})
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}

	var answer domain.Answer
	if err := json.NewDecoder(res.Body).Decode(&answer); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if answer.Mode != domain.ModeGeneral || len(answer.Blocks) != 1 {
		t.Fatalf("unexpected error answer: %+v", answer)
	}
	if !strings.Contains(answer.Blocks[0].Content, "encountered an issue") {
		t.Fatalf("unexpected error text: %q", answer.Blocks[0].Content)
	}
}

func TestChatStreamEmitsSSEFrames(t *testing.T) {
	chat := &chatServiceFake{events: []domain.StreamEvent{
		{Type: "meta", Mode: "rag", Sources: []domain.Source{{Title: "Doc"}}, RequestID: "abcd1234"},
		{Type: "chunk", Data: "Hello"},
		{Type: "done"},
	}}
	handler := newTestHandler(chat, &feedbackServiceFake{}, Options{})

	res := postJSONRequest(t, handler, "/api/chat/stream", map[string]string{"message": "What is X?"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if got := res.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", got)
	}
	if got := res.Header().Get("X-Accel-Buffering"); got != "no" {
		t.Fatalf("expected X-Accel-Buffering: no, got %q", got)
	}

	frames := strings.Split(strings.TrimSpace(res.Body.String()), "\n\n")
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d: %q", len(frames), res.Body.String())
	}
	for _, frame := range frames {
		if !strings.HasPrefix(frame, "data: ") {
			t.Fatalf("frame missing data prefix: %q", frame)
		}
	}

	var meta domain.StreamEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[0], "data: ")), &meta); err != nil {
		t.Fatalf("decode meta frame: %v", err)
	}
	if meta.Type != "meta" || meta.Mode != "rag" {
		t.Fatalf("unexpected meta frame: %+v", meta)
	}
}

func TestFeedbackValidation(t *testing.T) {
	handler := newTestHandler(&chatServiceFake{}, &feedbackServiceFake{}, Options{})

	res := postJSONRequest(t, handler, "/api/feedback", map[string]any{"feedback": 1})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing response_id, got %d", res.Code)
	}

	res = postJSONRequest(t, handler, "/api/feedback", map[string]any{"response_id": "r1"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing feedback, got %d", res.Code)
	}
}

func TestFeedbackSuccess(t *testing.T) {
	feedback := &feedbackServiceFake{}
	handler := newTestHandler(&chatServiceFake{}, feedback, Options{})

	res := postJSONRequest(t, handler, "/api/feedback", map[string]any{
		"response_id": "r1",
		"feedback":    -1,
		"correction":  "The launch date was 2024-03-01.",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"success"`) {
		t.Fatalf("unexpected body: %s", res.Body.String())
	}
	if len(feedback.submitted) != 1 || feedback.submitted[0] != -1 {
		t.Fatalf("expected one -1 submission, got %v", feedback.submitted)
	}
}

func TestFeedbackNotFoundMapsTo404(t *testing.T) {
	feedback := &feedbackServiceFake{err: domain.WrapError(domain.ErrResponseNotFound, "update", io.EOF)}
	handler := newTestHandler(&chatServiceFake{}, feedback, Options{})

	res := postJSONRequest(t, handler, "/api/feedback", map[string]any{"response_id": "missing", "feedback": 1})
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestDebugMetrics(t *testing.T) {
	handler := newTestHandler(&chatServiceFake{}, &feedbackServiceFake{}, Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/debug/metrics", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	var stats domain.FeedbackStats
	if err := json.NewDecoder(res.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalFeedback != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	handler := newTestHandler(&chatServiceFake{}, &feedbackServiceFake{}, Options{
		RateLimitRPS:   1,
		RateLimitBurst: 1,
	})

	req1 := httptest.NewRequest(http.MethodGet, "/health", nil)
	res1 := httptest.NewRecorder()
	handler.ServeHTTP(res1, req1)
	if res1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/health", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res2.Code)
	}
	if res2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}
}

func TestBackpressureMiddlewareReturns503WhenSaturated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond)

	go func() {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		done <- res.Code
	}()

	<-started

	req2 := httptest.NewRequest(http.MethodGet, "/health", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for saturated backpressure gate, got %d", res2.Code)
	}

	close(release)

	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("first request expected 204, got %d", code)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timed out waiting for first request completion")
	}
}
