package inference

import (
	"regexp"
	"strings"
)

// Normalization rewrites raw bank-feed descriptions into a cleaner form
// before embedding. Feed text is noisy in ways that carry no category
// signal: store numbers ("WALMART #4821"), masked card fragments
// ("VISA *1234"), POS terminal prefixes, and long reference digits. The
// merchant words are the signal; the bookkeeping tokens around them mostly
// add distance between a transaction and its true label.
//
// Whether normalization helps depends on the embedding model, so it is a
// configuration switch, not fixed behavior.

var (
	// posPrefix matches common point-of-sale/transaction-type prefixes at
	// the start of a description.
	posPrefix = regexp.MustCompile(`(?i)^(pos|dbt|ach|chk|eft|tst|sq)[\s*]+`)

	// maskedDigits matches masked card fragments and store numbers:
	// "*1234", "#4821", "xxxx9876", "x-7001".
	maskedDigits = regexp.MustCompile(`(?i)[*#]\s?\d+|x{2,}[-\s]?\d+|\bx[-]\d+\b`)

	// longDigits matches runs of three or more digits — reference numbers,
	// dates, authorization codes. Two-digit tokens are kept; they appear in
	// legitimate merchant names ("7-11" survives as its words).
	longDigits = regexp.MustCompile(`\d{3,}`)

	// whitespace collapses any run of whitespace or leftover separators.
	whitespace = regexp.MustCompile(`[\s/\\_|]+`)
)

// Normalize returns the canonical form of a transaction description used
// for embedding: lower-cased, stripped of POS prefixes, masked card
// fragments, and long digit runs, with whitespace collapsed. Returns the
// empty string when nothing but noise remains, which callers must treat as
// unembeddable input.
func Normalize(text string) string {
	s := strings.TrimSpace(strings.ToLower(text))
	s = posPrefix.ReplaceAllString(s, "")
	s = maskedDigits.ReplaceAllString(s, " ")
	s = longDigits.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
