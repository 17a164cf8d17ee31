package processor

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeKey derives the canonical deduplication key of an item name:
// diacritics folded, lowercased, every run of non-alphanumerics collapsed
// to a single underscore, with no leading or trailing underscore. Names
// made only of symbols keep their lowercased form so they do not all
// collapse onto the empty key.
func NormalizeKey(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}
	key := nonAlnumRun.ReplaceAllString(strings.ToLower(folded), "_")
	key = strings.Trim(key, "_")
	if key == "" {
		return strings.ToLower(strings.TrimSpace(name))
	}
	return key
}

// PhaseKey derives the key of one phase variant of a base item.
func PhaseKey(baseKey, phase string) string {
	return baseKey + "_" + NormalizeKey(phase)
}
