package stream

import "strings"

// Coalesce merges consecutive token segments of identical type by
// concatenating their text. Block segments and segments outside the token
// vocabulary (such as card_info) pass through as singletons. Applying
// Coalesce to its own output returns it unchanged.
func Coalesce(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))

	var (
		current Type
		text    strings.Builder
		open    bool
	)

	flush := func() {
		if open {
			out = append(out, Segment{Type: current, Text: text.String()})
			text.Reset()
			open = false
		}
	}

	for _, seg := range segments {
		if !seg.Type.IsToken() {
			flush()
			out = append(out, seg)
			continue
		}
		if open && seg.Type != current {
			flush()
		}
		if !open {
			current = seg.Type
			open = true
		}
		text.WriteString(seg.Text)
	}
	flush()

	return out
}

// CoalesceEvents coalesces a recorded event sequence
func CoalesceEvents(events []Event) []Segment {
	segments := make([]Segment, len(events))
	for i, ev := range events {
		segments[i] = Segment{Type: ev.Type, Text: ev.Text}
	}
	return Coalesce(segments)
}
