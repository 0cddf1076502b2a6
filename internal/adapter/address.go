package adapter

import (
	"regexp"
	"strings"
)

var (
	markupTagRegex = regexp.MustCompile(`<[^>]*>`)

	// bech32 segwit addresses are lower case after the hrp
	bech32AddressRegex = regexp.MustCompile(`bc1[ac-hj-np-z02-9]{25,87}`)

	// legacy P2PKH / P2SH: a leading 1 or 3 followed by 25-34 base-58 characters
	base58AddressRegex = regexp.MustCompile(`[13][a-km-zA-HJ-NP-Z1-9]{25,34}`)
)

// NormalizeAddress extracts the canonical address token from a captured
// table cell. Markup is stripped and whitespace trimmed; when no substring
// looks like an address the trimmed text is returned as is. Never fails.
func NormalizeAddress(raw string) string {
	text := strings.TrimSpace(markupTagRegex.ReplaceAllString(raw, " "))

	if match := bech32AddressRegex.FindString(text); match != "" {
		return match
	}
	if match := base58AddressRegex.FindString(text); match != "" {
		return match
	}
	return text
}
