package dispatch

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// DefaultCategories is the category list used when none is configured.
var DefaultCategories = []string{
	"Food", "Fuel", "Shopping", "Rent", "EMI", "Fees", "Salary", "Travel", "General",
}

// NormalizerOption is a functional option for configuring a [Normalizer].
type NormalizerOption func(*Normalizer)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score a phonetically
// matching category needs. Default: 0.70.
func WithPhoneticThreshold(threshold float64) NormalizerOption {
	return func(n *Normalizer) {
		n.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a category that
// does not share a phonetic code with the input. Default: 0.85.
func WithFuzzyThreshold(threshold float64) NormalizerOption {
	return func(n *Normalizer) {
		n.fuzzyThreshold = threshold
	}
}

// Normalizer maps a parsed category onto a known category name. Recognizers
// and parsers routinely produce "fud" or "shoping" for "Food" and "Shopping";
// matching happens in three stages:
//
//  1. Case-insensitive exact match.
//  2. Double Metaphone candidates, ranked by Jaro-Winkler similarity and
//     accepted above the phonetic threshold.
//  3. Pure Jaro-Winkler similarity above the stricter fuzzy threshold.
//
// A Normalizer is read-only after construction and safe for concurrent use.
type Normalizer struct {
	categories        []string
	codes             []map[string]struct{}
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewNormalizer returns a [Normalizer] over categories. Blank entries are
// ignored; an empty list makes Normalize a pass-through.
func NewNormalizer(categories []string, opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(n)
	}
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		n.categories = append(n.categories, c)
		n.codes = append(n.codes, codesForTokens(strings.Fields(strings.ToLower(c))))
	}
	return n
}

// Categories returns the known category names.
func (n *Normalizer) Categories() []string {
	return append([]string(nil), n.categories...)
}

// Normalize returns the known category closest to category and true, or
// category unchanged and false when nothing is close enough.
func (n *Normalizer) Normalize(category string) (string, bool) {
	input := strings.ToLower(strings.TrimSpace(category))
	if input == "" || len(n.categories) == 0 {
		return category, false
	}
	for _, c := range n.categories {
		if strings.EqualFold(c, input) {
			return c, true
		}
	}

	tokens := strings.Fields(input)
	inputCodes := codesForTokens(tokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for i, c := range n.categories {
		lower := strings.ToLower(c)
		score := bestJWScore(tokens, strings.Fields(lower), input, lower)

		if codesOverlap(inputCodes, n.codes[i]) {
			if score >= n.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = c, score, true
			}
		} else if !bestPhonetic && score >= n.fuzzyThreshold && score > bestScore {
			best, bestScore = c, score
		}
	}
	if best == "" {
		return category, false
	}
	return best, true
}

// codesForTokens returns the union of all Double Metaphone codes for tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity across the full
// strings, the space-stripped strings and every token pair.
func bestJWScore(inputTokens, catTokens []string, inputFull, catFull string) float64 {
	score := matchr.JaroWinkler(inputFull, catFull, false)

	if len(inputTokens) > 1 || len(catTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(catTokens, ""), false); s > score {
			score = s
		}
	}
	for _, it := range inputTokens {
		for _, ct := range catTokens {
			if s := matchr.JaroWinkler(it, ct, false); s > score {
				score = s
			}
		}
	}
	return score
}
