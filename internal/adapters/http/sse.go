package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
)

// sseWriter frames stream events as Server-Sent Events and flushes after
// every frame. It also remembers the meta frame so the handler can record
// metrics once the stream completes.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mode    string
	sources int
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming is not supported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) Emit(event domain.StreamEvent) error {
	if event.Type == "meta" {
		s.mode = event.Mode
		s.sources = len(event.Sources)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal sse event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write sse event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) Mode() string {
	return s.mode
}

func (s *sseWriter) SourceCount() int {
	return s.sources
}
