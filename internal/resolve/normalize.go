package resolve

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var legalSuffixes = regexp.MustCompile(
	`(?i)\s*,?\s*(LLC|L\.?L\.?C\.?|INC\.?|INCORPORATED|CORP\.?|CORPORATION|` +
		`CO\.?|COMPANY|LTD\.?|LIMITED|GMBH|S\.?A\.?|A\.?G\.?|B\.?V\.?|` +
		`L\.?P\.?|LLP|L\.?L\.?P\.?|PLLC|P\.?L\.?L\.?C\.?|P\.?C\.?|` +
		`HOLDINGS|GROUP|DBA|D/B/A)\s*\.?\s*$`)

var nonAlnum = regexp.MustCompile(`[^a-z0-9& ]+`)

var multiSpace = regexp.MustCompile(`\s{2,}`)

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName canonicalizes an employer name for identity-cache keys and
// fuzzy comparison: lowercase, diacritics folded, legal suffixes stripped,
// punctuation collapsed to single spaces. Suffix stripping repeats so
// "Acme Holdings LLC" reduces to "acme".
func NormalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if folded, _, err := transform.String(foldTransformer, n); err == nil {
		n = folded
	}
	for {
		stripped := legalSuffixes.ReplaceAllString(n, "")
		if stripped == n {
			break
		}
		n = stripped
	}
	n = nonAlnum.ReplaceAllString(n, " ")
	n = multiSpace.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}

// DomainGuess derives a plausible homepage domain from an employer name,
// e.g. "Blue River Tech" -> "bluerivertech.com". Empty when the name
// normalizes to nothing usable.
func DomainGuess(name string) string {
	n := NormalizeName(name)
	n = strings.ReplaceAll(n, "&", "and")
	n = strings.ReplaceAll(n, " ", "")
	if n == "" {
		return ""
	}
	return n + ".com"
}
