package stream

// Type identifies the kind of a streamed event
type Type string

// Block kinds are atomic renderable units and are never merged
const (
	TypeImage   Type = "image"
	TypeECharts Type = "echarts"
)

// Token kinds are incremental chunks, mergeable while contiguous
const (
	TypeTool            Type = "tool"
	TypeTransition      Type = "transition"
	TypeExecutionResult Type = "execution_result"
	TypeError           Type = "error"
	TypeKaggleSearch    Type = "kaggle_search"
	TypeKaggleConnect   Type = "kaggle_connect"
	TypePlain           Type = "plain"
	TypeHeartbeat       Type = "heartbeat"
)

// TypeCardInfo is the segment type used for extracted link cards
const TypeCardInfo Type = "card_info"

// HeartbeatText is the marker carried by keep-alive frames
const HeartbeatText = "\U0001FAC0"

var blockTypes = map[Type]bool{
	TypeImage:   true,
	TypeECharts: true,
}

var tokenTypes = map[Type]bool{
	TypeTool:            true,
	TypeTransition:      true,
	TypeExecutionResult: true,
	TypeError:           true,
	TypeKaggleSearch:    true,
	TypeKaggleConnect:   true,
	TypePlain:           true,
	TypeHeartbeat:       true,
}

// IsBlock reports whether t is a block kind
func (t Type) IsBlock() bool {
	return blockTypes[t]
}

// IsToken reports whether t is a token kind
func (t Type) IsToken() bool {
	return tokenTypes[t]
}

// Known reports whether t belongs to the event vocabulary
func (t Type) Known() bool {
	return t.IsBlock() || t.IsToken()
}

// Event is a single notification emitted by a running task
type Event struct {
	Type  Type   `json:"type"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Heartbeat returns the keep-alive event
func Heartbeat() Event {
	return Event{Type: TypeHeartbeat, Text: HeartbeatText, Final: false}
}

// Segment is a coalesced run of same-type token events or a single block
type Segment struct {
	Type Type   `json:"type"`
	Text string `json:"text"`
}

// LinkCard holds preview metadata for a URL found between transition brackets
type LinkCard struct {
	Title     string `json:"title"`
	WebLink   string `json:"web_link"`
	ImageLink string `json:"image_link"`
}
