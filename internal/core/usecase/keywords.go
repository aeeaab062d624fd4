package usecase

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "has": {}, "him": {}, "his": {},
	"how": {}, "its": {}, "may": {}, "new": {}, "now": {}, "old": {},
	"see": {}, "two": {}, "way": {}, "who": {}, "did": {}, "get": {},
	"use": {}, "what": {}, "when": {}, "where": {}, "which": {}, "with": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "they": {}, "them": {},
	"then": {}, "than": {}, "from": {}, "have": {}, "been": {}, "were": {},
	"will": {}, "would": {}, "could": {}, "should": {}, "about": {},
	"into": {}, "over": {}, "under": {}, "does": {}, "doing": {},
	"tell": {}, "give": {}, "show": {}, "please": {},
}

// extractKeywords lowercases the text, splits on non-alphanumerics and
// keeps content terms of at least three characters.
func extractKeywords(text string) map[string]struct{} {
	out := make(map[string]struct{}, 16)
	for _, token := range splitAlphaNumLower(text) {
		if len(token) < 3 {
			continue
		}
		if _, stop := stopwords[token]; stop {
			continue
		}
		out[token] = struct{}{}
	}
	return out
}

// keywordScore is the fraction of distinct query keywords appearing as
// substrings in the document text, case-insensitively.
func keywordScore(keywords map[string]struct{}, documentText string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	haystack := strings.ToLower(documentText)
	matches := 0
	for keyword := range keywords {
		if strings.Contains(haystack, keyword) {
			matches++
		}
	}
	return float64(matches) / float64(len(keywords))
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
