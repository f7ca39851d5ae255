package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoalesce(t *testing.T) {
	tests := []struct {
		name string
		in   []Segment
		want []Segment
	}{
		{
			name: "empty",
			in:   nil,
			want: []Segment{},
		},
		{
			name: "uniform tokens collapse to one segment",
			in: []Segment{
				{Type: TypePlain, Text: "he"},
				{Type: TypePlain, Text: "ll"},
				{Type: TypePlain, Text: "o"},
			},
			want: []Segment{{Type: TypePlain, Text: "hello"}},
		},
		{
			name: "type change starts a new segment",
			in: []Segment{
				{Type: TypeTool, Text: "Py"},
				{Type: TypeTool, Text: "thon"},
				{Type: TypeExecutionResult, Text: "42"},
				{Type: TypeTool, Text: "SQL"},
			},
			want: []Segment{
				{Type: TypeTool, Text: "Python"},
				{Type: TypeExecutionResult, Text: "42"},
				{Type: TypeTool, Text: "SQL"},
			},
		},
		{
			name: "blocks are never merged",
			in: []Segment{
				{Type: TypeImage, Text: "a"},
				{Type: TypeImage, Text: "b"},
			},
			want: []Segment{
				{Type: TypeImage, Text: "a"},
				{Type: TypeImage, Text: "b"},
			},
		},
		{
			name: "block splits a token run",
			in: []Segment{
				{Type: TypePlain, Text: "a"},
				{Type: TypePlain, Text: "b"},
				{Type: TypeImage, Text: "<bin>"},
				{Type: TypePlain, Text: "c"},
			},
			want: []Segment{
				{Type: TypePlain, Text: "ab"},
				{Type: TypeImage, Text: "<bin>"},
				{Type: TypePlain, Text: "c"},
			},
		},
		{
			name: "card info passes through",
			in: []Segment{
				{Type: TypePlain, Text: "x"},
				{Type: TypeCardInfo, Text: "{}"},
				{Type: TypeCardInfo, Text: "{}"},
			},
			want: []Segment{
				{Type: TypePlain, Text: "x"},
				{Type: TypeCardInfo, Text: "{}"},
				{Type: TypeCardInfo, Text: "{}"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Coalesce(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Coalesce(got), "coalesce must be idempotent")
		})
	}
}

func TestCoalesceEvents(t *testing.T) {
	got := CoalesceEvents([]Event{
		{Type: TypeTransition, Text: "(", Final: true},
		{Type: TypeTransition, Text: "link", Final: true},
		{Type: TypeTransition, Text: ")", Final: true},
	})

	assert.Equal(t, []Segment{{Type: TypeTransition, Text: "(link)"}}, got)
}
