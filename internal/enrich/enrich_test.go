package enrich

import (
	"math"
	"strings"
	"testing"
)

func TestToVectorLiteral(t *testing.T) {
	t.Parallel()

	vector := make([]float64, embeddingVectorDimensions)
	vector[0] = 0.5
	vector[1] = -1.25
	literal, err := toVectorLiteral(vector)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(literal, "[0.5,-1.25,0,") {
		t.Fatalf("unexpected literal prefix: %q", literal[:32])
	}
	if !strings.HasSuffix(literal, "]") {
		t.Fatalf("expected literal to end with ]")
	}

	if _, err := toVectorLiteral(make([]float64, 4)); err == nil {
		t.Fatalf("expected error for wrong dimension count")
	}

	vector[2] = math.NaN()
	if _, err := toVectorLiteral(vector); err == nil {
		t.Fatalf("expected error for NaN component")
	}
	vector[2] = math.Inf(1)
	if _, err := toVectorLiteral(vector); err == nil {
		t.Fatalf("expected error for infinite component")
	}
}

func TestNormalizeSentimentLabel(t *testing.T) {
	t.Parallel()

	if got := normalizeSentimentLabel(" POSITIVE "); got != "positive" {
		t.Fatalf("unexpected label: %q", got)
	}
	if got := normalizeSentimentLabel("negative"); got != "negative" {
		t.Fatalf("unexpected label: %q", got)
	}
	if got := normalizeSentimentLabel("mixed"); got != "neutral" {
		t.Fatalf("expected unknown labels to fold to neutral, got %q", got)
	}
	if got := normalizeSentimentLabel(""); got != "neutral" {
		t.Fatalf("expected empty label to fold to neutral, got %q", got)
	}
}

func TestNullableText(t *testing.T) {
	t.Parallel()

	if got := nullableText("  "); got != nil {
		t.Fatalf("expected nil for blank text")
	}
	got := nullableText(" news ")
	if got == nil || *got != "news" {
		t.Fatalf("unexpected trimmed text: %v", got)
	}
}

func TestNormalizeEmbedOptions(t *testing.T) {
	t.Parallel()

	opts := normalizeEmbedOptions(EmbedOptions{})
	if opts.Endpoint != DefaultEmbeddingEndpoint {
		t.Fatalf("unexpected endpoint: %q", opts.Endpoint)
	}
	if opts.ModelName != DefaultEmbeddingModelName || opts.ModelVersion != DefaultEmbeddingModelVersion {
		t.Fatalf("unexpected model defaults: %q %q", opts.ModelName, opts.ModelVersion)
	}
	if opts.BatchSize != DefaultEmbeddingBatchSize || opts.Timeout != DefaultEmbeddingTimeout {
		t.Fatalf("unexpected batch defaults: %d %s", opts.BatchSize, opts.Timeout)
	}

	custom := normalizeEmbedOptions(EmbedOptions{Endpoint: "http://embed:9000", BatchSize: 8})
	if custom.Endpoint != "http://embed:9000" || custom.BatchSize != 8 {
		t.Fatalf("expected explicit values kept: %+v", custom)
	}
}
