package fingerprint

import (
	"bytes"
	"testing"
)

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	if got := NormalizeText("  Hello\t\tWORLD \n"); got != "hello world" {
		t.Fatalf("unexpected normalized text: %q", got)
	}
	if got := NormalizeText("a\x00b"); got != "ab" {
		t.Fatalf("expected control characters stripped, got %q", got)
	}
	if got := NormalizeText("   "); got != "" {
		t.Fatalf("expected empty result for blank input, got %q", got)
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	tokens := Tokenize("Acme's new CEO, announced 2026!")
	want := []string{"acme", "s", "new", "ceo", "announced", "2026"}
	if len(tokens) != len(want) {
		t.Fatalf("unexpected token count: got %v want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("unexpected token at %d: got %q want %q", i, tokens[i], want[i])
		}
	}
}

func TestComputeDeterministic(t *testing.T) {
	t.Parallel()

	first, err := Compute("Acme launches a new product line", "https://example.com/post/1")
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	second, err := Compute("Acme launches a new product line", "https://example.com/post/1")
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}

	if !bytes.Equal(first.ContentHash, second.ContentHash) {
		t.Fatalf("content hash is not deterministic")
	}
	if first.SimilarityHash != second.SimilarityHash {
		t.Fatalf("similarity hash is not deterministic")
	}
	if !bytes.Equal(first.URLHash, second.URLHash) {
		t.Fatalf("url hash is not deterministic")
	}
	if first.TokenCount != 6 {
		t.Fatalf("unexpected token count: %d", first.TokenCount)
	}
}

func TestComputeNormalizationInvariance(t *testing.T) {
	t.Parallel()

	plain, err := Compute("Acme launches a new product line", "")
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	noisy, err := Compute("  ACME   launches a new\tproduct line ", "")
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}

	if !bytes.Equal(plain.ContentHash, noisy.ContentHash) {
		t.Fatalf("expected identical content hashes after normalization")
	}
	if plain.SimilarityHash != noisy.SimilarityHash {
		t.Fatalf("expected identical similarity hashes after normalization")
	}
}

func TestComputeEmptyContent(t *testing.T) {
	t.Parallel()

	if _, err := Compute("   \t\n ", ""); err == nil {
		t.Fatalf("expected error for empty content")
	}
}

func TestComputeWithoutURL(t *testing.T) {
	t.Parallel()

	fp, err := Compute("some mention text", "")
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if fp.URLHash != nil || fp.CanonicalURL != "" {
		t.Fatalf("expected no url fingerprint, got %q", fp.CanonicalURL)
	}
}

func TestSimilarityHashCloseForSmallEdits(t *testing.T) {
	t.Parallel()

	original, err := Compute("Acme launches a brand new orbital drone platform this week", "")
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	edited, err := Compute("Acme launches a brand new orbital drone platform this month", "")
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	unrelated, err := Compute("quarterly earnings call transcript for a retail chain", "")
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}

	near := HammingDistance(original.SimilarityHash, edited.SimilarityHash)
	far := HammingDistance(original.SimilarityHash, unrelated.SimilarityHash)
	if near >= far {
		t.Fatalf("expected small edit to be closer than unrelated text: near=%d far=%d", near, far)
	}
}

func TestHammingDistance(t *testing.T) {
	t.Parallel()

	if got := HammingDistance(0b101010, 0b111000); got != 2 {
		t.Fatalf("unexpected hamming distance: got %d want 2", got)
	}
	if got := HammingDistance(42, 42); got != 0 {
		t.Fatalf("expected zero distance for equal hashes, got %d", got)
	}
}

func TestTrigramJaccard(t *testing.T) {
	t.Parallel()

	if got := TrigramJaccard("keyword", "keyword"); got != 1 {
		t.Fatalf("expected identical texts to score 1, got %f", got)
	}

	score := TrigramJaccard("keyword", "keywords")
	if score <= 0 || score >= 1 {
		t.Fatalf("expected partial overlap score in (0,1), got %f", score)
	}

	if got := TrigramJaccard("keyword", "zzz"); got != 0 {
		t.Fatalf("expected disjoint texts to score 0, got %f", got)
	}
}

func TestTokenJaccard(t *testing.T) {
	t.Parallel()

	score := TokenJaccard("acme launches orbital drone", "acme launches drone platform")
	if score <= 0 || score >= 1 {
		t.Fatalf("expected partial overlap score in (0,1), got %f", score)
	}
	if got := TokenJaccard("", "anything"); got != 0 {
		t.Fatalf("expected empty text to score 0, got %f", got)
	}
}

func TestNormalizeURL_StripsTrackingAndNormalizes(t *testing.T) {
	t.Parallel()

	canonical, host := NormalizeURL("https://Example.COM:443/news/path/?utm_source=abc&fbclid=123&b=2&a=1")
	if canonical != "https://example.com/news/path?a=1&b=2" {
		t.Fatalf("unexpected canonical url: %q", canonical)
	}
	if host != "example.com" {
		t.Fatalf("unexpected host: %q", host)
	}
}

func TestNormalizeURL_KeepsNonDefaultPort(t *testing.T) {
	t.Parallel()

	canonical, _ := NormalizeURL("http://example.com:8080/a")
	if canonical != "http://example.com:8080/a" {
		t.Fatalf("unexpected canonical url: %q", canonical)
	}
}

func TestNormalizeURL_Invalid(t *testing.T) {
	t.Parallel()

	canonical, host := NormalizeURL("not a url")
	if canonical != "" || host != "" {
		t.Fatalf("expected empty result for invalid URL, got canonical=%q host=%q", canonical, host)
	}
	canonical, host = NormalizeURL("/relative/path")
	if canonical != "" || host != "" {
		t.Fatalf("expected empty result for relative URL, got canonical=%q host=%q", canonical, host)
	}
}
