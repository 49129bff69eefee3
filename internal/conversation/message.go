// ABOUTME: Data model for conversations: parts, messages, statuses, titles.
// ABOUTME: Parts are a closed sum type with kind-tagged JSON for snapshots.

package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Role identifies who authored a message.
type Role string

// Message roles.
const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Status is the lifecycle state of a message.
type Status string

// Message statuses. Agent messages move sending -> streaming -> done, or to
// error. Done and error are terminal.
const (
	StatusSending   Status = "sending"   // optimistic placeholder, no content yet
	StatusStreaming Status = "streaming" // partial content arrived, may still grow
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Part is one atomic content unit of a message. The set of implementations
// is closed: TextPart and DataPart.
type Part interface {
	isPart()
}

// TextPart is a plain text fragment.
type TextPart struct {
	Text string
}

// DataPart is a structured payload with a declared type.
type DataPart struct {
	Type    string
	Payload json.RawMessage
}

func (TextPart) isPart() {}
func (DataPart) isPart() {}

// Parts is an ordered sequence of Part values. It serializes as a JSON array
// of kind-tagged objects so snapshots round-trip the union.
type Parts []Part

type partJSON struct {
	Kind string          `json:"kind"`
	Text string          `json:"text,omitempty"`
	Type string          `json:"type,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p Parts) MarshalJSON() ([]byte, error) {
	out := make([]partJSON, 0, len(p))
	for _, part := range p {
		switch v := part.(type) {
		case TextPart:
			out = append(out, partJSON{Kind: "text", Text: v.Text})
		case DataPart:
			out = append(out, partJSON{Kind: "data", Type: v.Type, Data: v.Payload})
		default:
			return nil, fmt.Errorf("unknown part type %T", part)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Parts) UnmarshalJSON(data []byte) error {
	var raw []partJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parts := make(Parts, 0, len(raw))
	for _, r := range raw {
		switch r.Kind {
		case "text":
			parts = append(parts, TextPart{Text: r.Text})
		case "data":
			parts = append(parts, DataPart{Type: r.Type, Payload: r.Data})
		default:
			return fmt.Errorf("unknown part kind %q", r.Kind)
		}
	}
	*p = parts
	return nil
}

// FlattenText returns the newline-joined text of all text parts in order.
// Streamed fragments coalesce into a single text part on append, so a run of
// incremental chunks flattens without separators.
func FlattenText(parts Parts) string {
	var texts []string
	for _, part := range parts {
		if t, ok := part.(TextPart); ok {
			texts = append(texts, t.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Message is one entry in a conversation. It is created once per turn and
// mutated only through Store operations.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Parts       Parts     `json:"parts"`
	DisplayText string    `json:"display_text,omitempty"`
	Status      Status    `json:"status"`
	AgentName   string    `json:"agent_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Conversation groups an ordered, append-only sequence of messages exchanged
// with one agent. Its identity equals the protocol context identifier and may
// be renamed once per turn when the server assigns a canonical value.
type Conversation struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const maxTitleLen = 48

// TitleFromText derives a conversation title from the first user message:
// the first line, truncated to a display-friendly length.
func TitleFromText(text string) string {
	title := strings.TrimSpace(text)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	if utf8.RuneCountInString(title) <= maxTitleLen {
		return title
	}
	runes := []rune(title)
	return string(runes[:maxTitleLen-3]) + "..."
}
