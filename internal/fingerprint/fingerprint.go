package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"math/bits"
	"net/url"
	"sort"
	"strings"
	"unicode"
)

var trackingQueryKeys = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
}

// Fingerprint identifies a mention's content for dedup. ContentHash is exact
// after normalization, SimilarityHash tolerates small edits, URLHash is only
// set when the mention carries a canonicalizable link.
type Fingerprint struct {
	ContentHash       []byte
	SimilarityHash    int64
	URLHash           []byte
	CanonicalURL      string
	NormalizedContent string
	TokenCount        int
}

// Compute derives the fingerprint of a mention from its text and optional URL.
// Identical inputs always produce identical fingerprints.
func Compute(content, rawURL string) (Fingerprint, error) {
	normalized := NormalizeText(content)
	if normalized == "" {
		return Fingerprint{}, fmt.Errorf("fingerprint: content is empty after normalization")
	}

	contentHash := sha256.Sum256([]byte(normalized))

	simhash, ok := simhash64(normalized)
	if !ok {
		return Fingerprint{}, fmt.Errorf("fingerprint: content has no tokens")
	}

	fp := Fingerprint{
		ContentHash:       append([]byte(nil), contentHash[:]...),
		SimilarityHash:    int64(simhash),
		NormalizedContent: normalized,
		TokenCount:        len(Tokenize(normalized)),
	}

	if canonical, _ := NormalizeURL(rawURL); canonical != "" {
		urlHash := sha256.Sum256([]byte(canonical))
		fp.URLHash = append([]byte(nil), urlHash[:]...)
		fp.CanonicalURL = canonical
	}

	return fp, nil
}

// HammingDistance counts differing bits between two similarity hashes.
func HammingDistance(left, right int64) int {
	return bits.OnesCount64(uint64(left) ^ uint64(right))
}

// NormalizeText lowercases, collapses whitespace runs to a single space, and
// strips control characters.
func NormalizeText(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// Tokenize splits normalized text on non-alphanumeric runes.
func Tokenize(text string) []string {
	normalized := NormalizeText(text)
	if normalized == "" {
		return nil
	}

	parts := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		tokens = append(tokens, p)
	}
	return tokens
}

// TokenSet returns the distinct tokens of text.
func TokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

// TokenJaccard computes the jaccard similarity of the token sets of two texts.
func TokenJaccard(left, right string) float64 {
	return jaccard(TokenSet(left), TokenSet(right))
}

// TrigramJaccard computes the jaccard similarity of the character trigram sets
// of two texts.
func TrigramJaccard(left, right string) float64 {
	return jaccard(TrigramSet(left), TrigramSet(right))
}

// TrigramSet returns the character trigrams of the normalized text. Texts
// shorter than three runes form a single-element set.
func TrigramSet(text string) map[string]struct{} {
	normalized := NormalizeText(text)
	if normalized == "" {
		return nil
	}

	runes := []rune(normalized)
	if len(runes) < 3 {
		return map[string]struct{}{string(runes): {}}
	}

	set := make(map[string]struct{}, len(runes)-2)
	for i := 0; i <= len(runes)-3; i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

func jaccard(leftSet, rightSet map[string]struct{}) float64 {
	if len(leftSet) == 0 || len(rightSet) == 0 {
		return 0
	}

	intersection := 0
	for item := range leftSet {
		if _, ok := rightSet[item]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}

	union := len(leftSet) + len(rightSet) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// NormalizeURL canonicalizes a post URL: scheme and host lowercased, default
// ports dropped, fragment removed, tracking query parameters stripped, query
// keys sorted, duplicate and trailing slashes trimmed. Returns empty strings
// when the input is not an absolute URL.
func NormalizeURL(raw string) (canonical string, host string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", ""
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", ""
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" {
		defaultPort := (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443")
		if !defaultPort {
			parsed.Host = parsed.Host + ":" + port
		}
	}

	parsed.Fragment = ""
	path := strings.TrimSpace(parsed.EscapedPath())
	if path == "" {
		path = "/"
	}
	path = strings.ReplaceAll(path, "//", "/")
	if strings.HasSuffix(path, "/") && path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	parsed.Path = path
	parsed.RawPath = ""

	q := parsed.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		if _, ok := trackingQueryKeys[lower]; ok {
			q.Del(key)
		}
	}
	if len(q) > 0 {
		keys := make([]string, 0, len(q))
		for key := range q {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		reordered := url.Values{}
		for _, key := range keys {
			values := q[key]
			sort.Strings(values)
			for _, value := range values {
				reordered.Add(key, value)
			}
		}
		parsed.RawQuery = reordered.Encode()
	} else {
		parsed.RawQuery = ""
	}

	return parsed.String(), parsed.Hostname()
}

func simhash64(text string) (uint64, bool) {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return 0, false
	}

	var bitWeights [64]int
	for _, token := range tokens {
		h := hashToken64(token)
		for bit := 0; bit < 64; bit++ {
			mask := uint64(1) << bit
			if h&mask != 0 {
				bitWeights[bit]++
			} else {
				bitWeights[bit]--
			}
		}
	}

	var result uint64
	for bit := 0; bit < 64; bit++ {
		if bitWeights[bit] > 0 {
			result |= uint64(1) << bit
		}
	}
	return result, true
}

func hashToken64(token string) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(token))
	return hasher.Sum64()
}
