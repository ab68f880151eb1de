package match

import "testing"

func TestBuildIndexCandidates(t *testing.T) {
	t.Parallel()

	index := BuildIndex([]MonitorSnapshot{
		{MonitorID: 1, Keywords: []string{"acme", "orbital drone"}},
		{MonitorID: 2, Keywords: []string{"competitor"}},
		{MonitorID: 3, Keywords: []string{"drone"}},
	})

	if index.Size() != 3 {
		t.Fatalf("unexpected index size: %d", index.Size())
	}

	candidates := index.Candidates([]string{"drone"})
	if len(candidates) != 2 {
		t.Fatalf("unexpected candidate count: %d", len(candidates))
	}
	if candidates[0].MonitorID != 1 || candidates[1].MonitorID != 3 {
		t.Fatalf("unexpected candidates: %d, %d", candidates[0].MonitorID, candidates[1].MonitorID)
	}

	if got := index.Candidates([]string{"unrelated"}); got != nil {
		t.Fatalf("expected no candidates for unrelated token, got %d", len(got))
	}
}

func TestCandidatesIncludeTrigramNearTokens(t *testing.T) {
	t.Parallel()

	index := BuildIndex([]MonitorSnapshot{
		{MonitorID: 1, Keywords: []string{"keyword"}},
		{MonitorID: 2, Keywords: []string{"orbital drone"}},
	})

	// "keywords" never appears verbatim in the postings, but its trigrams
	// overlap the single-token keyword "keyword".
	candidates := index.Candidates([]string{"keywords", "big", "announcement"})
	if len(candidates) != 1 {
		t.Fatalf("unexpected candidate count: %d", len(candidates))
	}
	if candidates[0].MonitorID != 1 {
		t.Fatalf("unexpected candidate: %d", candidates[0].MonitorID)
	}

	// Multi-word keywords have no trigram postings; a near-token of one of
	// their tokens alone does not qualify.
	if got := index.Candidates([]string{"orbitals"}); got != nil {
		t.Fatalf("expected no candidates for near-token of a phrase keyword, got %d", len(got))
	}
}

func TestCandidatesDeduplicatesMonitors(t *testing.T) {
	t.Parallel()

	index := BuildIndex([]MonitorSnapshot{
		{MonitorID: 7, Keywords: []string{"acme drone", "drone fleet"}},
	})

	candidates := index.Candidates([]string{"acme", "drone", "fleet"})
	if len(candidates) != 1 {
		t.Fatalf("expected one candidate, got %d", len(candidates))
	}
}

func TestNilIndex(t *testing.T) {
	t.Parallel()

	var index *Index
	if index.Size() != 0 {
		t.Fatalf("expected zero size for nil index")
	}
	if got := index.Candidates([]string{"anything"}); got != nil {
		t.Fatalf("expected nil candidates for nil index")
	}
}
