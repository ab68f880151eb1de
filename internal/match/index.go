package match

import (
	"sort"
	"strings"

	"pulsewatch.dev/pulsewatch/internal/fingerprint"
)

// MonitorSnapshot is the matcher's view of one active monitor, captured at
// index build time. Later monitor edits are picked up on the next rebuild.
type MonitorSnapshot struct {
	MonitorID        int64
	WorkspaceID      string
	Name             string
	Keywords         []string
	NegativeKeywords []string
	Platforms        []string
	Languages        []string
}

// Index maps keyword tokens to the monitors that use them, so a mention only
// has to be evaluated against monitors sharing at least one token with it.
// Single-token keywords are additionally indexed by their character trigrams,
// so a near-token (a typo, a plural) still pulls the monitor into the
// candidate set for the fuzzy scoring pass.
type Index struct {
	monitors  []MonitorSnapshot
	byToken   map[string][]int
	byTrigram map[string][]int
}

func BuildIndex(monitors []MonitorSnapshot) *Index {
	idx := &Index{
		monitors:  monitors,
		byToken:   make(map[string][]int),
		byTrigram: make(map[string][]int),
	}
	for i, monitor := range monitors {
		seenTokens := make(map[string]struct{})
		seenTrigrams := make(map[string]struct{})
		for _, keyword := range monitor.Keywords {
			tokens := fingerprint.Tokenize(keyword)
			for _, token := range tokens {
				if _, dup := seenTokens[token]; dup {
					continue
				}
				seenTokens[token] = struct{}{}
				idx.byToken[token] = append(idx.byToken[token], i)
			}
			// Only single-token keywords can score fuzzily, so only they
			// need trigram postings.
			if len(tokens) != 1 {
				continue
			}
			for trigram := range fingerprint.TrigramSet(tokens[0]) {
				if _, dup := seenTrigrams[trigram]; dup {
					continue
				}
				seenTrigrams[trigram] = struct{}{}
				idx.byTrigram[trigram] = append(idx.byTrigram[trigram], i)
			}
		}
	}
	return idx
}

// Candidates returns the monitors sharing at least one keyword token, or at
// least one keyword trigram, with the given content tokens, in stable monitor
// order. Trigram hits overshoot; the evaluation pass filters them.
func (idx *Index) Candidates(tokens []string) []MonitorSnapshot {
	if idx == nil || len(tokens) == 0 {
		return nil
	}

	seen := make(map[int]struct{})
	for _, token := range tokens {
		for _, monitorIdx := range idx.byToken[token] {
			seen[monitorIdx] = struct{}{}
		}
		for trigram := range fingerprint.TrigramSet(token) {
			for _, monitorIdx := range idx.byTrigram[trigram] {
				seen[monitorIdx] = struct{}{}
			}
		}
	}

	if len(seen) == 0 {
		return nil
	}
	order := make([]int, 0, len(seen))
	for monitorIdx := range seen {
		order = append(order, monitorIdx)
	}
	sort.Ints(order)

	candidates := make([]MonitorSnapshot, 0, len(order))
	for _, monitorIdx := range order {
		candidates = append(candidates, idx.monitors[monitorIdx])
	}
	return candidates
}

func (idx *Index) Size() int {
	if idx == nil {
		return 0
	}
	return len(idx.monitors)
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}
