// Package gateway exposes the conversational core over HTTP: a per-client
// SSE event stream, answer/stop ingress, and a thin REST wrapper over the
// thread repository and service.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/codayhq/coday/internal/agent"
	"github.com/codayhq/coday/internal/thread"
	"github.com/codayhq/coday/pkg/models"
)

// DefaultSessionTimeout is how long a disconnected session is kept alive
// awaiting reconnect before it is torn down (§4.9, §5).
const DefaultSessionTimeout = time.Hour

// DefaultHeartbeatInterval is how often a connected session's SSE stream
// receives a HeartBeat event to let the peer detect a dead connection.
const DefaultHeartbeatInterval = 10 * time.Second

// AnswerIngress is the body POSTed to answer an outstanding Invite/Choice.
type AnswerIngress struct {
	Answer    string `json:"answer"`
	ParentKey string `json:"parentKey,omitempty"`
}

// answerWaiter is resolved by an incoming Answer and read by whatever code
// path is blocked on an Invite/Choice (the interactor abstraction of §4.9,
// kept minimal: one pending wait at a time per session).
type answerWaiter struct {
	mu      sync.Mutex
	pending chan models.Event
}

func newAnswerWaiter() *answerWaiter {
	return &answerWaiter{}
}

// Await blocks until an Answer event arrives or ctx is cancelled.
func (w *answerWaiter) Await(ctx context.Context) (models.Event, error) {
	w.mu.Lock()
	ch := make(chan models.Event, 1)
	w.pending = ch
	w.mu.Unlock()

	select {
	case e := <-ch:
		return e, nil
	case <-ctx.Done():
		return models.Event{}, ctx.Err()
	}
}

// Resolve delivers an Answer event to whatever Await call is pending, if
// any; it is a no-op if nothing is currently waiting.
func (w *answerWaiter) Resolve(e models.Event) {
	w.mu.Lock()
	ch := w.pending
	w.pending = nil
	w.mu.Unlock()
	if ch != nil {
		ch <- e
	}
}

// Session is a live, resumable binding between a client and a thread in
// progress (§4.9). It owns the event bus subscribers read from, the
// agent loop driving its active thread, and the idle-expiry timer.
type Session struct {
	ClientID string

	Threads *thread.Service
	Loop    *agent.Loop
	Agent   models.Agent

	mu            sync.Mutex
	lastConnected time.Time
	terminate     *time.Timer
	subscribers   map[chan models.Event]struct{}
	answerer      *answerWaiter
	cancelRun     context.CancelFunc
}

// NewSession creates a Session bound to clientID, ready to be connected.
func NewSession(clientID string, threads *thread.Service, loop *agent.Loop, ag models.Agent) *Session {
	return &Session{
		ClientID:      clientID,
		Threads:       threads,
		Loop:          loop,
		Agent:         ag,
		lastConnected: time.Now(),
		subscribers:   make(map[chan models.Event]struct{}),
		answerer:      newAnswerWaiter(),
	}
}

// Subscribe registers a new event-stream consumer (typically one per SSE
// connection) and returns a channel of events plus an unsubscribe func.
func (s *Session) Subscribe() (<-chan models.Event, func()) {
	ch := make(chan models.Event, 64)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
	}
}

// Publish fans e out to every current subscriber, dropping it for any
// subscriber whose buffer is full rather than blocking the bus.
func (s *Session) Publish(e models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Connect marks the session as connected, cancelling any pending
// termination timer (§4.9 connect/resume).
func (s *Session) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastConnected = time.Now()
	if s.terminate != nil {
		s.terminate.Stop()
		s.terminate = nil
	}
}

// Disconnect pauses the active loop and schedules termination after
// timeout of continued idleness; onExpire is invoked if the timer fires
// without an intervening Connect.
func (s *Session) Disconnect(timeout time.Duration, onExpire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRun != nil {
		s.cancelRun()
	}
	if s.terminate != nil {
		s.terminate.Stop()
	}
	s.terminate = time.AfterFunc(timeout, onExpire)
}

// Answer resolves whatever is awaiting an Invite/Choice with an Answer
// event built from the ingress body.
func (s *Session) Answer(a AnswerIngress) {
	s.answerer.Resolve(models.Event{
		Type:      models.EventAnswer,
		Timestamp: models.NowTimestamp(time.Now()),
		Answer:    a.Answer,
		ParentKey: a.ParentKey,
	})
}

// Await blocks the caller until an Answer arrives, for code implementing an
// Invite/Choice prompt.
func (s *Session) Await(ctx context.Context) (models.Event, error) {
	return s.answerer.Await(ctx)
}

// Stop sets the session's active run status to STOPPED (§4.9 stop ingress).
func (s *Session) Stop() {
	t := s.Threads.Active()
	if t == nil {
		return
	}
	s.Loop.Stop(t.ID)
}

// RunActive drives the loop against the session's active thread in its own
// goroutine, publishing every emitted event to subscribers.
func (s *Session) RunActive(parent context.Context, userInput string) {
	t := s.Threads.Active()
	if t == nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancelRun = cancel
	s.mu.Unlock()

	if userInput != "" {
		t.AddUserMessage("user", userInput)
		s.Publish(models.NewMessage(models.NowTimestamp(time.Now()), models.RoleUser, "user", userInput))
	}

	out := make(chan models.Event, 64)
	go func() {
		for e := range out {
			s.Publish(e)
		}
	}()

	go func() {
		defer close(out)
		s.Loop.Run(ctx, s.Agent, t, out)
		_, _ = s.Threads.Save()
	}()
}

// Registry tracks all live sessions keyed by clientId, creating or resuming
// them on connect (§4.9).
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session for clientID, if any.
func (r *Registry) Get(clientID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[clientID]
	return s, ok
}

// GetOrCreate returns the existing session for clientID, or creates one via
// newSession if none exists.
func (r *Registry) GetOrCreate(clientID string, newSession func() *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[clientID]; ok {
		return s
	}
	s := newSession()
	r.sessions[clientID] = s
	return s
}

// Remove deletes clientID's session from the registry (final termination).
func (r *Registry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, clientID)
}
