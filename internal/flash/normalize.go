package flash

import "strings"

// Normalize strips zero-width characters and the BOM, maps the full-width
// space to an ordinary space, collapses whitespace runs, and trims. It is
// total and idempotent; empty input yields empty output.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff':
			return -1
		case '\u3000':
			return ' '
		}
		return r
	}, raw)
	return strings.Join(strings.Fields(cleaned), " ")
}

// ignoreSuffixes are sentence-final glyphs that mark promotional or
// interactive prompts rather than substantive news content.
var ignoreSuffixes = []string{"?", "？", "!", "！"}

// IgnoreFilter rejects texts matching a keyword blocklist or ending in a
// question/exclamation mark (half- or full-width).
type IgnoreFilter struct {
	keywords []string
}

// NewIgnoreFilter builds a filter from a keyword blocklist. Keywords are
// matched case-insensitively as substrings; empty entries are dropped.
func NewIgnoreFilter(keywords []string) *IgnoreFilter {
	f := &IgnoreFilter{}
	for _, raw := range keywords {
		kw := strings.ToLower(strings.TrimSpace(raw))
		if kw == "" {
			continue
		}
		f.keywords = append(f.keywords, kw)
	}
	return f
}

// ShouldIgnore reports whether normalized text should be excluded from
// ingestion. Both checks are pure; a match on either triggers ignore.
func (f *IgnoreFilter) ShouldIgnore(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range f.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	trimmed := strings.TrimSpace(text)
	for _, suffix := range ignoreSuffixes {
		if strings.HasSuffix(trimmed, suffix) {
			return true
		}
	}
	return false
}
