package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractLinks(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "bracketed", text: "(https://example.com)", want: []string{"https://example.com"}},
		{name: "no url", text: "(no url here)", want: nil},
		{name: "http", text: "see http://a.io/x?y=1 now", want: []string{"http://a.io/x?y=1"}},
		{name: "trailing punctuation", text: "go to https://example.com/page.", want: []string{"https://example.com/page"}},
		{name: "multiple", text: "https://a.example and https://b.example/c", want: []string{"https://a.example", "https://b.example/c"}},
		{name: "bare scheme", text: "https://", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractLinks(tt.text)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHasLink(t *testing.T) {
	assert.True(t, HasLink("x https://example.com y"))
	assert.False(t, HasLink("ftp://example.com"))
}
