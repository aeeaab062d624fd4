package usecase

import (
	"strings"

	"github.com/kirillkom/multihop-rag/internal/core/domain"
)

var smalltalkPhrases = []string{
	"hello", "hi", "hey", "yo", "good morning", "good afternoon",
	"good evening", "how are you", "thanks", "thank you", "ok", "okay",
	"bye", "goodbye", "see you",
}

var knowledgeTriggers = []string{
	"what", "who", "when", "where", "why", "how", "which", "whose",
	"explain", "describe", "compare", "define", "summarize", "list",
	"tell me about", "difference between",
}

// DetectMode classifies a message as smalltalk (general) or a knowledge
// question by textual heuristics. Deterministic and pure.
func DetectMode(message string) domain.AnswerMode {
	lower := strings.ToLower(strings.TrimSpace(message))
	if lower == "" {
		return domain.ModeGeneral
	}

	for _, phrase := range smalltalkPhrases {
		if lower == phrase || strings.HasPrefix(lower, phrase+" ") || strings.HasPrefix(lower, phrase+",") || strings.HasPrefix(lower, phrase+"!") {
			return domain.ModeGeneral
		}
	}

	if strings.Contains(lower, "?") {
		return domain.ModeKnowledge
	}
	for _, trigger := range knowledgeTriggers {
		if strings.HasPrefix(lower, trigger+" ") {
			return domain.ModeKnowledge
		}
	}
	if len(strings.Fields(lower)) >= 4 {
		return domain.ModeKnowledge
	}
	return domain.ModeGeneral
}
