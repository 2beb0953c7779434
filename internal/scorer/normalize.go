package scorer

import (
	"strings"
	"unicode"
)

// noiseTokens are stripped from descriptions before similarity
// comparison. The literal token "reference" is part of the contract
// even though descriptions sometimes embed real references.
var noiseTokens = map[string]bool{
	"payment":   true,
	"transfer":  true,
	"from":      true,
	"to":        true,
	"ref":       true,
	"reference": true,
}

// NormalizeDescription lowercases, drops noise tokens, strips
// non-alphanumeric characters, and collapses whitespace.
func NormalizeDescription(s string) string {
	s = strings.ToLower(s)

	var cleaned strings.Builder
	cleaned.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			cleaned.WriteRune(r)
		} else {
			cleaned.WriteRune(' ')
		}
	}

	words := strings.Fields(cleaned.String())
	kept := words[:0]
	for _, w := range words {
		if !noiseTokens[w] {
			kept = append(kept, w)
		}
	}

	return strings.Join(kept, " ")
}

// normalizeAlphanumeric lowercases and keeps only letters and digits
func normalizeAlphanumeric(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func splitWords(s string) []string {
	return strings.Fields(s)
}

// tokensContain reports whether every word token of needle appears in
// haystack.
func tokensContain(haystack, needle string) bool {
	need := splitWords(needle)
	if len(need) == 0 {
		return false
	}

	have := make(map[string]bool)
	for _, tok := range splitWords(haystack) {
		have[tok] = true
	}
	for _, tok := range need {
		if !have[tok] {
			return false
		}
	}
	return true
}

// levenshtein computes the edit distance between two strings using the
// two-row dynamic programming formulation.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// longestCommonSubstring returns the length of the longest substring
// shared by a and b.
func longestCommonSubstring(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	longest := 0

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > longest {
					longest = curr[j]
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}

	return longest
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
