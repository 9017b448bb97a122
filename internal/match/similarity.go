package match

import (
	"strings"

	"github.com/agext/levenshtein"
)

// NameSimilarity returns a [0,1] token-set similarity between two person
// names. Token order is ignored ("John Smith" vs "Smith, John" scores 1.0)
// and individual tokens compare by exact match, containment, and edit
// distance. Nicknames are not expanded; behavior is deterministic.
// Empty or missing input yields 0, never an error.
func NameSimilarity(a, b string) float64 {
	return tokenSetSimilarity(NormalizeName(a), NormalizeName(b))
}

// CompanySimilarity is the same primitive applied to company strings after
// legal-suffix stripping, so "Acme Corp" vs "Acme Corporation" scores 1.0.
func CompanySimilarity(a, b string) float64 {
	return tokenSetSimilarity(NormalizeCompany(a), NormalizeCompany(b))
}

// tokenSetSimilarity averages the best pairwise token affinity in both
// directions, which keeps the measure symmetric and insensitive to token
// reordering.
func tokenSetSimilarity(a, b string) float64 {
	ta := strings.Fields(a)
	tb := strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	return (directionalSimilarity(ta, tb) + directionalSimilarity(tb, ta)) / 2
}

func directionalSimilarity(from, to []string) float64 {
	var sum float64
	for _, t := range from {
		best := 0.0
		for _, u := range to {
			if s := tokenAffinity(t, u); s > best {
				best = s
			}
			if best == 1 {
				break
			}
		}
		sum += best
	}
	return sum / float64(len(from))
}

// tokenAffinity scores two normalized tokens. Exact match is 1.0; a token
// contained in the other scores by length ratio (covers initials and
// truncations); otherwise normalized edit distance applies.
func tokenAffinity(a, b string) float64 {
	if a == b {
		return 1
	}
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	score := 0.0
	if strings.Contains(longer, shorter) {
		score = float64(len(shorter)) / float64(len(longer))
	}
	dist := levenshtein.Distance(a, b, nil)
	if lev := 1 - float64(dist)/float64(len(longer)); lev > score {
		score = lev
	}
	if score < 0 {
		return 0
	}
	return score
}
