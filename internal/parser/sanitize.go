package parser

import "regexp"

// MaxQueryLength is the maximum number of characters kept from a query
const MaxQueryLength = 300

var disallowedQueryChars = regexp.MustCompile(`[^\p{L}\p{N}_\s\p{Z}\-.,?]`)

// Sanitize strips characters other than word characters, whitespace, hyphen,
// period, comma and question mark, then truncates to MaxQueryLength characters
func Sanitize(query string) string {
	cleaned := []rune(disallowedQueryChars.ReplaceAllString(query, ""))
	if len(cleaned) > MaxQueryLength {
		cleaned = cleaned[:MaxQueryLength]
	}
	return string(cleaned)
}
