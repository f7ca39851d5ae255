package stream

import (
	"regexp"
	"strings"
)

// Parentheses and whitespace end a URL; brackets delimit links in transition text
var urlPattern = regexp.MustCompile(`https?://[^\s()<>"'\[\]{}]+`)

// ExtractLinks returns every http(s) URL in text, in order of appearance
func ExtractLinks(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	links := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:!?")
		if strings.HasSuffix(m, "://") {
			continue
		}
		links = append(links, m)
	}
	return links
}

// HasLink reports whether text contains at least one URL
func HasLink(text string) bool {
	return len(ExtractLinks(text)) > 0
}
