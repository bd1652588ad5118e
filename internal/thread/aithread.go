// Package thread implements AiThread: the append-mostly conversation log an
// agent run reads and writes, its file-backed persistence, and the thin
// selection service a session keeps one active thread through.
package thread

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codayhq/coday/pkg/models"
)

// AiThread is a named, timestamped log of conversational events. Its
// Messages slice only ever holds Message, ToolRequest, and ToolResponse
// events (§3) — Invite/Answer/Text/Warn/etc. are session-transient and never
// persisted on the thread itself.
type AiThread struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	Summary      string        `yaml:"summary"`
	CreatedDate  time.Time     `yaml:"createdDate"`
	ModifiedDate time.Time     `yaml:"modifiedDate"`
	Messages     []models.Event `yaml:"messages"`
}

// New creates an empty thread with a fresh ID and "untitled" name.
func New() *AiThread {
	now := time.Now().UTC()
	return &AiThread{
		ID:           uuid.NewString(),
		Name:         "untitled",
		CreatedDate:  now,
		ModifiedDate: now,
	}
}

func (t *AiThread) touch() {
	t.ModifiedDate = time.Now().UTC()
}

// AddUserMessage appends a user Message event.
func (t *AiThread) AddUserMessage(name, content string) {
	t.append(models.NewMessage(models.NowTimestamp(time.Now()), models.RoleUser, name, content))
}

// AddAgentMessage appends an assistant Message event.
func (t *AiThread) AddAgentMessage(name, content string) {
	t.append(models.NewMessage(models.NowTimestamp(time.Now()), models.RoleAssistant, name, content))
}

// ToolCallRequest is the minimal shape addToolCalls needs: an id, a tool
// name, and its JSON-encoded arguments.
type ToolCallRequest struct {
	ID   string
	Name string
	Args string
}

// AddToolCalls appends a ToolRequest event for every call whose id, name,
// and args are all non-empty. Calls missing a field are silently dropped —
// providers sometimes emit partial tool blocks on truncation (§4.2).
func (t *AiThread) AddToolCalls(calls []ToolCallRequest) {
	for _, c := range calls {
		if c.ID == "" || c.Name == "" || c.Args == "" {
			continue
		}
		t.append(models.NewToolRequest(models.NowTimestamp(time.Now()), c.ID, c.Name, c.Args))
	}
}

// ToolCallResponse is the minimal shape addToolResponses needs.
type ToolCallResponse struct {
	ID     string
	Output string
}

// AddToolResponses appends a ToolResponse for every response whose id and
// output are non-empty and that matches an existing ToolRequest. Before
// appending, it performs the dedup rewrite (§4.2): any earlier ToolRequest
// sharing this one's (name, args) under a different toolRequestId, and the
// ToolResponse paired with it, are removed from the log — keeping only the
// most recent call/response pair for a repeated tool invocation.
func (t *AiThread) AddToolResponses(responses []ToolCallResponse) {
	for _, r := range responses {
		if r.ID == "" || r.Output == "" {
			continue
		}
		req, ok := t.findToolRequest(r.ID)
		if !ok {
			continue
		}

		dupIDs := make(map[string]struct{})
		for _, e := range t.Messages {
			if e.Type == models.EventToolRequest && e.ToolRequestID != r.ID &&
				e.Name == req.Name && e.Args == req.Args {
				dupIDs[e.ToolRequestID] = struct{}{}
			}
		}

		if len(dupIDs) > 0 {
			kept := t.Messages[:0]
			for _, e := range t.Messages {
				if e.Type == models.EventToolRequest {
					if _, dup := dupIDs[e.ToolRequestID]; dup {
						continue
					}
				}
				if e.Type == models.EventToolResponse {
					if _, dup := dupIDs[e.ToolRequestID]; dup {
						continue
					}
				}
				kept = append(kept, e)
			}
			t.Messages = kept
		}

		t.append(models.NewToolResponse(models.NowTimestamp(time.Now()), r.ID, r.Output))
	}
}

func (t *AiThread) findToolRequest(toolRequestID string) (models.Event, bool) {
	for _, e := range t.Messages {
		if e.Type == models.EventToolRequest && e.ToolRequestID == toolRequestID {
			return e, true
		}
	}
	return models.Event{}, false
}

func (t *AiThread) append(e models.Event) {
	t.Messages = append(t.Messages, e)
	t.touch()
}

// Sanitize implements the filename-sanitisation rule of §4.3: lowercase,
// collapse non-alphanumeric runs to a single hyphen, trim leading/trailing
// hyphens, and fall back to "untitled" if that leaves nothing.
func Sanitize(name string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "untitled"
	}
	return out
}

// ReplayFromEvents builds Messages by filtering raw to the conversational
// subset (Message, ToolRequest, ToolResponse), silently dropping anything
// else — unknown or malformed entries included (§4.2 Replay).
func ReplayFromEvents(raw []models.Event) []models.Event {
	out := make([]models.Event, 0, len(raw))
	for _, e := range raw {
		if e.IsConversational() {
			out = append(out, e)
		}
	}
	return out
}
