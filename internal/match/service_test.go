package match

import "testing"

func snapshotIndex(monitors ...MonitorSnapshot) *Index {
	return BuildIndex(monitors)
}

func TestEvaluateMentionExactPhrase(t *testing.T) {
	t.Parallel()

	index := snapshotIndex(MonitorSnapshot{
		MonitorID:   1,
		WorkspaceID: "ws-1",
		Keywords:    []string{"orbital drone"},
	})
	mention := MentionRecord{
		MentionID:         10,
		Platform:          "mastodon",
		Language:          "en",
		NormalizedContent: "acme just launched its orbital drone platform",
	}

	matches := EvaluateMention(index, mention, 0.5)
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}
	if matches[0].MonitorID != 1 {
		t.Fatalf("unexpected monitor: %d", matches[0].MonitorID)
	}
	// One keyword, exact phrase hit: avg score 1, coverage 1, confidence 1.
	if matches[0].Confidence != 1 {
		t.Fatalf("unexpected confidence: %f", matches[0].Confidence)
	}
	if len(matches[0].MatchedKeywords) != 1 || matches[0].MatchedKeywords[0] != "orbital drone" {
		t.Fatalf("unexpected matched keywords: %v", matches[0].MatchedKeywords)
	}
}

func TestEvaluateMentionDeterministic(t *testing.T) {
	t.Parallel()

	index := snapshotIndex(
		MonitorSnapshot{MonitorID: 1, Keywords: []string{"acme", "drone"}},
		MonitorSnapshot{MonitorID: 2, Keywords: []string{"drone"}},
	)
	mention := MentionRecord{NormalizedContent: "acme drone spotted downtown"}

	first := EvaluateMention(index, mention, 0.5)
	second := EvaluateMention(index, mention, 0.5)
	if len(first) != len(second) {
		t.Fatalf("non-deterministic match count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].MonitorID != second[i].MonitorID || first[i].Confidence != second[i].Confidence {
			t.Fatalf("non-deterministic result at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestEvaluateMentionConfidenceFloor(t *testing.T) {
	t.Parallel()

	// One of four keywords matches: avg score 1, coverage 0.25, confidence 0.625.
	index := snapshotIndex(MonitorSnapshot{
		MonitorID: 1,
		Keywords:  []string{"acme", "zeppelin", "submarine", "lighthouse"},
	})
	mention := MentionRecord{NormalizedContent: "acme announced layoffs"}

	if matches := EvaluateMention(index, mention, 0.7); len(matches) != 0 {
		t.Fatalf("expected floor to reject low-confidence match, got %d", len(matches))
	}
	matches := EvaluateMention(index, mention, 0.5)
	if len(matches) != 1 {
		t.Fatalf("expected match above floor, got %d", len(matches))
	}
	if matches[0].Confidence != 0.625 {
		t.Fatalf("unexpected confidence: %f", matches[0].Confidence)
	}
}

func TestEvaluateMentionFuzzyNearToken(t *testing.T) {
	t.Parallel()

	// No mention token equals "keyword" verbatim; the match must survive
	// candidate pruning and score through the fuzzy branch.
	index := snapshotIndex(MonitorSnapshot{
		MonitorID: 1,
		Keywords:  []string{"keyword"},
	})
	mention := MentionRecord{NormalizedContent: "keywords big announcement"}

	matches := EvaluateMention(index, mention, 0.5)
	if len(matches) != 1 {
		t.Fatalf("expected fuzzy near-token match, got %d", len(matches))
	}
	// Trigram similarity 5/6, coverage 1: confidence (5/6 + 1) / 2.
	want := (5.0/6.0 + 1.0) / 2.0
	if diff := matches[0].Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("unexpected confidence: %f", matches[0].Confidence)
	}
}

func TestEvaluateMentionNegativeKeywordVeto(t *testing.T) {
	t.Parallel()

	index := snapshotIndex(MonitorSnapshot{
		MonitorID:        1,
		Keywords:         []string{"acme"},
		NegativeKeywords: []string{"hiring"},
	})
	mention := MentionRecord{NormalizedContent: "acme is hiring engineers"}

	if matches := EvaluateMention(index, mention, 0.1); len(matches) != 0 {
		t.Fatalf("expected negative keyword to veto the match, got %d", len(matches))
	}
}

func TestEvaluateMentionPlatformAndLanguageFilters(t *testing.T) {
	t.Parallel()

	index := snapshotIndex(MonitorSnapshot{
		MonitorID: 1,
		Keywords:  []string{"acme"},
		Platforms: []string{"mastodon"},
		Languages: []string{"en"},
	})

	base := MentionRecord{Platform: "mastodon", Language: "en", NormalizedContent: "acme news"}
	if matches := EvaluateMention(index, base, 0.1); len(matches) != 1 {
		t.Fatalf("expected match on allowed platform and language")
	}

	wrongPlatform := base
	wrongPlatform.Platform = "bluesky"
	if matches := EvaluateMention(index, wrongPlatform, 0.1); len(matches) != 0 {
		t.Fatalf("expected platform filter to reject mention")
	}

	wrongLanguage := base
	wrongLanguage.Language = "de"
	if matches := EvaluateMention(index, wrongLanguage, 0.1); len(matches) != 0 {
		t.Fatalf("expected language filter to reject mention")
	}
}

func TestKeywordScoreFuzzySingleToken(t *testing.T) {
	t.Parallel()

	tokens := []string{"keywords", "big", "announcement"}
	score := keywordScore("keyword", "keywords big announcement", tokens)
	if score <= 0 || score >= 1 {
		t.Fatalf("expected fuzzy score in (0,1), got %f", score)
	}

	// Multi-word keywords never match fuzzily.
	if got := keywordScore("acme corp", "acmes corp update", []string{"acmes", "corp", "update"}); got != 0 {
		t.Fatalf("expected no fuzzy score for multi-word keyword, got %f", got)
	}

	if got := keywordScore("acme", "totally unrelated words", []string{"totally", "unrelated", "words"}); got != 0 {
		t.Fatalf("expected zero score for unrelated content, got %f", got)
	}
}

func TestDecodeStringArray(t *testing.T) {
	t.Parallel()

	values := decodeStringArray([]byte(`["acme"," ","drone"]`))
	if len(values) != 2 || values[0] != "acme" || values[1] != "drone" {
		t.Fatalf("unexpected decoded values: %v", values)
	}
	if got := decodeStringArray(nil); got != nil {
		t.Fatalf("expected nil for empty input")
	}
	if got := decodeStringArray([]byte(`{"not":"an array"}`)); got != nil {
		t.Fatalf("expected nil for malformed input, got %v", got)
	}
}
