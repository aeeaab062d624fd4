package usecase

import "testing"

func TestExtractKeywordsDropsStopwordsAndShortTokens(t *testing.T) {
	keywords := extractKeywords("What is the Project-X launch DATE?")

	for _, expected := range []string{"project", "launch", "date"} {
		if _, ok := keywords[expected]; !ok {
			t.Fatalf("expected keyword %q, got %v", expected, keywords)
		}
	}
	for _, dropped := range []string{"what", "is", "the"} {
		if _, ok := keywords[dropped]; ok {
			t.Fatalf("expected %q to be dropped, got %v", dropped, keywords)
		}
	}
}

func TestKeywordScoreFractionOfMatches(t *testing.T) {
	keywords := map[string]struct{}{"launch": {}, "date": {}, "budget": {}, "orbit": {}}

	score := keywordScore(keywords, "The LAUNCH date was moved.")
	if score != 0.5 {
		t.Fatalf("expected 0.5, got %f", score)
	}
}

func TestKeywordScoreEmptyKeywords(t *testing.T) {
	if score := keywordScore(nil, "anything"); score != 0 {
		t.Fatalf("expected 0 for empty keywords, got %f", score)
	}
}

func TestKeywordScoreSubstringMatch(t *testing.T) {
	keywords := map[string]struct{}{"deploy": {}}
	if score := keywordScore(keywords, "redeployment plan"); score != 1 {
		t.Fatalf("expected substring match, got %f", score)
	}
}
