package models

import (
	"encoding/json"
	"time"
)

// EventType discriminates the variant carried by an Event. Coday's event
// stream is a flat tagged union rather than a class hierarchy: every event
// on the wire is this single struct with only the fields relevant to its
// Type populated.
type EventType string

const (
	EventMessage        EventType = "message"
	EventToolRequest    EventType = "tool_request"
	EventToolResponse   EventType = "tool_response"
	EventInvite         EventType = "invite"
	EventAnswer         EventType = "answer"
	EventChoice         EventType = "choice"
	EventText           EventType = "text"
	EventWarn           EventType = "warn"
	EventError          EventType = "error"
	EventHeartBeat      EventType = "heart_beat"
	EventProjectSelected EventType = "project_selected"
	EventThreadSelected EventType = "thread_selected"
	EventFile           EventType = "file_event"
)

// Role identifies the author of a Message event.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// FileOperation identifies what happened to a file in a FileEvent.
type FileOperation string

const (
	FileCreated FileOperation = "created"
	FileUpdated FileOperation = "updated"
	FileDeleted FileOperation = "deleted"
)

// Event is the single wire shape for every entry in an AiThread. Exactly one
// group of fields is populated, selected by Type; unknown Type values are
// dropped silently on decode rather than raised as errors, so the wire
// format can grow new variants without breaking older readers.
type Event struct {
	Type      EventType `json:"type" yaml:"type"`
	Timestamp string    `json:"timestamp" yaml:"timestamp"`
	ParentKey string    `json:"parentKey,omitempty" yaml:"parentKey,omitempty"`

	// Message
	Role    Role   `json:"role,omitempty" yaml:"role,omitempty"`
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`

	// ToolRequest
	ToolRequestID string `json:"toolRequestId,omitempty" yaml:"toolRequestId,omitempty"`
	Args          string `json:"args,omitempty" yaml:"args,omitempty"`

	// ToolResponse
	Output string `json:"output,omitempty" yaml:"output,omitempty"`

	// Invite
	Invite       string `json:"invite,omitempty" yaml:"invite,omitempty"`
	DefaultValue string `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`

	// Answer
	Answer string `json:"answer,omitempty" yaml:"answer,omitempty"`

	// Choice
	Options          []string `json:"options,omitempty" yaml:"options,omitempty"`
	OptionalQuestion bool     `json:"optionalQuestion,omitempty" yaml:"optionalQuestion,omitempty"`

	// Text
	Speaker string `json:"speaker,omitempty" yaml:"speaker,omitempty"`
	Text    string `json:"text,omitempty" yaml:"text,omitempty"`

	// Warn / Error
	Warning string `json:"warning,omitempty" yaml:"warning,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`

	// ProjectSelected / ThreadSelected
	ProjectName string `json:"projectName,omitempty" yaml:"projectName,omitempty"`
	ThreadName  string `json:"threadName,omitempty" yaml:"threadName,omitempty"`

	// FileEvent
	Operation FileOperation `json:"operation,omitempty" yaml:"operation,omitempty"`
	Filename  string        `json:"filename,omitempty" yaml:"filename,omitempty"`
	Size      int64         `json:"size,omitempty" yaml:"size,omitempty"`
}

// NowTimestamp formats t as the ISO-8601 string Events use as their key.
// Nanosecond precision keeps successive calls unique within a thread even
// under heavy concurrent append.
func NowTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NewMessage builds a Message event.
func NewMessage(ts string, role Role, name, content string) Event {
	return Event{Type: EventMessage, Timestamp: ts, Role: role, Name: name, Content: content}
}

// NewToolRequest builds a ToolRequest event.
func NewToolRequest(ts, toolRequestID, name, args string) Event {
	return Event{Type: EventToolRequest, Timestamp: ts, ToolRequestID: toolRequestID, Name: name, Args: args}
}

// NewToolResponse builds a ToolResponse event.
func NewToolResponse(ts, toolRequestID, output string) Event {
	return Event{Type: EventToolResponse, Timestamp: ts, ToolRequestID: toolRequestID, Output: output}
}

// NewHeartBeat builds a HeartBeat event.
func NewHeartBeat(ts string) Event {
	return Event{Type: EventHeartBeat, Timestamp: ts}
}

// NewErrorEvent builds an Error event.
func NewErrorEvent(ts, message string) Event {
	return Event{Type: EventError, Timestamp: ts, Error: message}
}

// NewWarnEvent builds a Warn event.
func NewWarnEvent(ts, message string) Event {
	return Event{Type: EventWarn, Timestamp: ts, Warning: message}
}

// NewThreadSelected builds a ThreadSelected event.
func NewThreadSelected(ts, threadName string) Event {
	return Event{Type: EventThreadSelected, Timestamp: ts, ThreadName: threadName}
}

// IsConversational reports whether the event belongs to the subset an
// AiThread's messages log retains: Message, ToolRequest, ToolResponse.
func (e Event) IsConversational() bool {
	switch e.Type {
	case EventMessage, EventToolRequest, EventToolResponse:
		return true
	default:
		return false
	}
}

// knownEventTypes lists every Type this build understands. DecodeEvents
// drops any entry whose Type is not in this set, which is how the wire
// format tolerates future variants from a newer server.
var knownEventTypes = map[EventType]struct{}{
	EventMessage:         {},
	EventToolRequest:     {},
	EventToolResponse:    {},
	EventInvite:          {},
	EventAnswer:          {},
	EventChoice:          {},
	EventText:            {},
	EventWarn:            {},
	EventError:           {},
	EventHeartBeat:       {},
	EventProjectSelected: {},
	EventThreadSelected:  {},
	EventFile:            {},
}

// DecodeEvents parses a JSON array of raw events, silently skipping any
// entry whose type is unknown or whose shape fails to parse.
func DecodeEvents(raw []json.RawMessage) []Event {
	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		var e Event
		if err := json.Unmarshal(r, &e); err != nil {
			continue
		}
		if _, ok := knownEventTypes[e.Type]; !ok {
			continue
		}
		events = append(events, e)
	}
	return events
}
