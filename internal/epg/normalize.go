package epg

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes diacritics by decomposing and dropping combining marks.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// qualityTokens are decorations providers append to channel names. They carry
// no identity and are dropped before token comparison.
var qualityTokens = map[string]bool{
	"hd":   true,
	"fhd":  true,
	"uhd":  true,
	"sd":   true,
	"4k":   true,
	"8k":   true,
	"hevc": true,
	"h265": true,
	"h264": true,
	"tv":   true,
	"the":  true,
}

// normalizeName lowercases, strips diacritics, and collapses every run of
// non-alphanumeric characters to a single space.
func normalizeName(name string) string {
	folded, _, err := transform.String(stripMarks, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	lastSpace := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// tokenSet splits a normalized name into its identifying tokens.
func tokenSet(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(normalized) {
		if qualityTokens[tok] {
			continue
		}
		set[tok] = true
	}
	return set
}

// jaccard computes intersection over union of two token sets. Two empty
// sets score zero, not one.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
