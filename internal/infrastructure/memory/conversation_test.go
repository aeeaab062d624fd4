package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
)

func TestWindowTrimsToMostRecent(t *testing.T) {
	window := NewConversationWindow(4)
	for i := 0; i < 6; i++ {
		window.Append("conv-1", domain.RoleUser, fmt.Sprintf("msg-%d", i))
	}

	turns := window.Get("conv-1")
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns after trim, got %d", len(turns))
	}
	if turns[0].Content != "msg-2" || turns[3].Content != "msg-5" {
		t.Fatalf("trimming must keep the most recent turns in order, got %+v", turns)
	}
}

func TestWindowConversationsAreIndependent(t *testing.T) {
	window := NewConversationWindow(6)
	window.Append("a", domain.RoleUser, "hello")
	window.Append("b", domain.RoleAssistant, "hi")

	if len(window.Get("a")) != 1 || len(window.Get("b")) != 1 {
		t.Fatalf("conversations must not share state")
	}
	if len(window.Get("missing")) != 0 {
		t.Fatalf("unknown conversation must be empty")
	}
}

func TestWindowGetReturnsCopy(t *testing.T) {
	window := NewConversationWindow(6)
	window.Append("conv-1", domain.RoleUser, "original")

	turns := window.Get("conv-1")
	turns[0].Content = "mutated"

	if window.Get("conv-1")[0].Content != "original" {
		t.Fatalf("Get must return a copy")
	}
}

func TestWindowConcurrentAppends(t *testing.T) {
	window := NewConversationWindow(100)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			window.Append("conv-1", domain.RoleUser, fmt.Sprintf("msg-%d", i))
		}(i)
	}
	wg.Wait()

	if len(window.Get("conv-1")) != 50 {
		t.Fatalf("expected 50 turns, got %d", len(window.Get("conv-1")))
	}
}
