package reload

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// strip-everything policy used to reduce HTML to comparable plain text;
// bluemonday policies are safe for concurrent use once built
var strictPolicy = bluemonday.StrictPolicy()

// trimText removes invisible and control code points everywhere and strips
// leading/trailing whitespace. Feeds routinely re-publish entries with a BOM,
// a zero-width space or a stray control character added - those must not
// count as content changes.
func trimText(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cc, r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(cleaned)
}

// trimEqual compares two strings after control-character and whitespace
// trimming, without markup stripping. Used for titles.
func trimEqual(a, b string) bool {
	return trimText(a) == trimText(b)
}

// fuzzifyText strips HTML markup to plain text, then trims like trimText
func fuzzifyText(text string) string {
	return trimText(strictPolicy.Sanitize(text))
}

// fuzzyEqual compares two HTML fragments by their stripped plain text. Both
// sides pass through the same transform, so entity escaping cancels out.
func fuzzyEqual(a, b string) bool {
	return fuzzifyText(a) == fuzzifyText(b)
}
