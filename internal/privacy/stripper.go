// Package privacy redacts private content from transcript text before it is stored.
package privacy

import (
	"regexp"
	"strings"
)

// RedactedMarker replaces every redacted span.
const RedactedMarker = "[redacted]"

var (
	// privateTagRegex matches <private>...</private> tags
	privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

	// secretRegex matches API keys and bearer tokens that models sometimes echo back.
	secretRegex = regexp.MustCompile(`\b(?:sk-[A-Za-z0-9_\-]{16,}|Bearer\s+[A-Za-z0-9._\-]{16,})`)
)

// Cleaner redacts configured tag blocks and credential-looking strings.
type Cleaner struct {
	tagRegexes []*regexp.Regexp
}

// NewCleaner builds a Cleaner for the given tag names. Blank names are ignored.
func NewCleaner(tags []string) *Cleaner {
	c := &Cleaner{}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if tag == "private" {
			c.tagRegexes = append(c.tagRegexes, privateTagRegex)
			continue
		}
		q := regexp.QuoteMeta(tag)
		c.tagRegexes = append(c.tagRegexes, regexp.MustCompile(`(?s)<`+q+`>.*?</`+q+`>`))
	}
	return c
}

// Redact replaces tagged blocks and secrets with RedactedMarker.
// changed reports whether anything was replaced. Surrounding text is kept verbatim.
func (c *Cleaner) Redact(text string) (out string, changed bool) {
	out = text
	for _, re := range c.tagRegexes {
		out = re.ReplaceAllString(out, RedactedMarker)
	}
	out = secretRegex.ReplaceAllString(out, RedactedMarker)
	return out, out != text
}

// StripPrivateTags removes all <private>...</private> content from text.
func StripPrivateTags(text string) string {
	return privateTagRegex.ReplaceAllString(text, "")
}

// IsEntirelyPrivate checks if the text is entirely within <private> tags.
func IsEntirelyPrivate(text string) bool {
	stripped := StripPrivateTags(text)
	return strings.TrimSpace(stripped) == ""
}

// Clean strips private tags and trims whitespace.
// Used on free-form user input such as feedback.
func Clean(text string) string {
	return strings.TrimSpace(StripPrivateTags(text))
}
