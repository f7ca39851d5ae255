package stream

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

const (
	leftSign    = "("
	rightSign   = ")"
	truncMarker = "..."
)

// PreviewFetcher resolves a URL to a page title and its candidate images.
// Implementations must not fail: on any error they return ("", nil).
type PreviewFetcher interface {
	Fetch(ctx context.Context, url string) (title string, images []string)
}

// SegmenterOptions configures a Segmenter
type SegmenterOptions struct {
	// Previews resolves link cards; nil emits cards without title or image
	Previews PreviewFetcher

	// ExecutionResultMaxChars caps each contiguous execution_result run; 0 disables the cap
	ExecutionResultMaxChars int

	Logger zerolog.Logger
}

// Item is one unit of classifier output: either an event or a link card
type Item struct {
	Event        Event
	IsBlockFirst bool
	Card         *LinkCard
}

// Envelope builds the wire envelope for the item
func (it Item) Envelope(userID, chatID string) (Envelope, error) {
	if it.Card != nil {
		return CardEnvelope(*it.Card, userID, chatID)
	}
	if it.Event.Type.IsBlock() {
		return BlockEnvelope(it.Event, userID, chatID), nil
	}
	return TokenEnvelope(it.Event, it.IsBlockFirst, userID, chatID), nil
}

// Segmenter classifies the raw events of one run. It tracks block
// boundaries, collects the intermediate and final sequences, and extracts
// link cards from bracket-delimited transition spans. Not safe for
// concurrent use; one Segmenter belongs to one poll loop.
type Segmenter struct {
	opts   SegmenterOptions
	logger zerolog.Logger

	currentType Type
	hasCurrent  bool

	bracketOpen bool
	bracket     strings.Builder

	execChars     int
	execTruncated bool

	intermediate []Event
	final        []Event
	cards        []LinkCard
}

// NewSegmenter creates a segmenter for a single run
func NewSegmenter(opts SegmenterOptions) *Segmenter {
	return &Segmenter{
		opts:   opts,
		logger: opts.Logger.With().Str("module", "segmenter").Logger(),
	}
}

// Classify consumes one raw event and returns zero or more items in the
// order they must be sent to the client.
func (s *Segmenter) Classify(ctx context.Context, ev Event) []Item {
	if !ev.Type.Known() || ev.Type == TypeHeartbeat {
		s.logger.Debug().Str("type", string(ev.Type)).Msg("Dropping event outside the stream vocabulary")
		return nil
	}

	raw := ev.Text
	if ev.Type.IsToken() {
		var keep bool
		ev.Text, keep = s.limitExecutionResult(ev)
		if !keep {
			return nil
		}
		ev.Text = EscapeForDisplay(ev.Text)
	}

	isBlockFirst := !s.hasCurrent || ev.Type != s.currentType
	s.currentType = ev.Type
	s.hasCurrent = true

	if ev.Final {
		s.final = append(s.final, ev)
	} else {
		s.intermediate = append(s.intermediate, ev)
	}

	items := []Item{{Event: ev, IsBlockFirst: isBlockFirst}}

	isTransition := ev.Type == TypeTransition
	if isTransition && raw == rightSign {
		items = append(items, s.closeBracket(ctx)...)
	}
	if s.bracketOpen {
		s.bracket.WriteString(raw)
	}
	if isTransition && raw == leftSign {
		s.bracketOpen = true
	}

	return items
}

// limitExecutionResult applies the per-run character budget to
// execution_result output. The budget resets whenever another type
// interrupts the run.
func (s *Segmenter) limitExecutionResult(ev Event) (string, bool) {
	if ev.Type != TypeExecutionResult {
		return ev.Text, true
	}
	if !s.hasCurrent || s.currentType != TypeExecutionResult {
		s.execChars = 0
		s.execTruncated = false
	}

	limit := s.opts.ExecutionResultMaxChars
	if limit <= 0 {
		return ev.Text, true
	}
	if s.execTruncated {
		return "", false
	}

	runes := []rune(ev.Text)
	if s.execChars+len(runes) <= limit {
		s.execChars += len(runes)
		return ev.Text, true
	}

	remaining := limit - s.execChars
	s.execChars = limit
	s.execTruncated = true
	return string(runes[:remaining]) + truncMarker, true
}

func (s *Segmenter) closeBracket(ctx context.Context) []Item {
	text := s.bracket.String()
	s.bracket.Reset()
	s.bracketOpen = false

	links := ExtractLinks(text)
	if len(links) == 0 {
		if text != "" {
			s.logger.Debug().Int("buffered", len(text)).Msg("Bracket closed without a link")
		}
		return nil
	}

	items := make([]Item, 0, len(links))
	for _, link := range links {
		card := s.resolveCard(ctx, link)
		s.cards = append(s.cards, card)
		items = append(items, Item{Card: &card})
	}
	return items
}

func (s *Segmenter) resolveCard(ctx context.Context, link string) LinkCard {
	card := LinkCard{WebLink: link}
	if s.opts.Previews == nil {
		return card
	}

	title, images := s.opts.Previews.Fetch(ctx, link)
	card.Title = title
	if len(images) > 0 {
		card.ImageLink = images[0]
	}
	return card
}

// Intermediate returns the non-final events observed so far
func (s *Segmenter) Intermediate() []Event {
	return append([]Event(nil), s.intermediate...)
}

// Final returns the final-answer events observed so far
func (s *Segmenter) Final() []Event {
	return append([]Event(nil), s.final...)
}

// Cards returns the link cards extracted so far
func (s *Segmenter) Cards() []LinkCard {
	return append([]LinkCard(nil), s.cards...)
}

// Transcript coalesces the recorded events for persistence. Link cards are
// appended to the final-answer sequence.
func (s *Segmenter) Transcript() (intermediate, final []Segment, err error) {
	intermediate = CoalesceEvents(s.intermediate)
	final = CoalesceEvents(s.final)
	for _, card := range s.cards {
		seg, err := CardSegment(card)
		if err != nil {
			return nil, nil, err
		}
		final = append(final, seg)
	}
	return intermediate, final, nil
}

// EscapeForDisplay escapes dollar signs so the client does not treat them
// as math delimiters.
func EscapeForDisplay(text string) string {
	return strings.ReplaceAll(text, "$", `\$`)
}
