package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/codayhq/coday/internal/agent"
	"github.com/codayhq/coday/internal/thread"
	"github.com/codayhq/coday/pkg/models"
)

// staticProvider is a minimal LLMProvider fake that replies with canned text
// and no tool calls, following internal/agent/loop_test.go's scriptedProvider.
type staticProvider struct {
	text string
}

func (p *staticProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: p.text}
	ch <- &agent.CompletionChunk{Done: true, InputTokens: 1, OutputTokens: 1}
	close(ch)
	return ch, nil
}

func (p *staticProvider) Name() string         { return "static" }
func (p *staticProvider) Models() []agent.Model { return nil }
func (p *staticProvider) SupportsTools() bool   { return false }

func newTestSession(t *testing.T) *Session {
	t.Helper()
	repo := thread.NewRepository(t.TempDir())
	svc := thread.NewService(repo)
	loop := agent.NewLoop(&staticProvider{text: "hello there"}, agent.NewToolRegistry(), nil)
	if _, _, err := svc.Select(""); err != nil {
		t.Fatalf("Select: %v", err)
	}
	return NewSession("client-1", svc, loop, models.Agent{Name: "assistant"})
}

func TestSession_SubscribePublish(t *testing.T) {
	s := newTestSession(t)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.Publish(models.NewWarnEvent(models.NowTimestamp(time.Now()), "careful"))

	select {
	case e := <-ch:
		if e.Type != models.EventWarn {
			t.Errorf("got event type %q, want %q", e.Type, models.EventWarn)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestSession_Publish_DropsWhenSubscriberBufferFull(t *testing.T) {
	s := newTestSession(t)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	// Fill the subscriber's buffer (capacity 64) without draining it.
	for i := 0; i < 100; i++ {
		s.Publish(models.NewWarnEvent(models.NowTimestamp(time.Now()), "spam"))
	}

	if len(ch) != cap(ch) {
		t.Errorf("buffered channel len = %d, want full (%d) — excess publishes should be dropped, not block", len(ch), cap(ch))
	}
}

func TestSession_Unsubscribe_StopsDelivery(t *testing.T) {
	s := newTestSession(t)
	ch, unsubscribe := s.Subscribe()
	unsubscribe()

	s.Publish(models.NewWarnEvent(models.NowTimestamp(time.Now()), "after unsubscribe"))

	select {
	case e, ok := <-ch:
		if ok {
			t.Errorf("expected no delivery after unsubscribe, got %+v", e)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_Connect_ClearsTerminationTimer(t *testing.T) {
	s := newTestSession(t)
	expired := make(chan struct{}, 1)
	s.Disconnect(20*time.Millisecond, func() { expired <- struct{}{} })
	s.Connect()

	select {
	case <-expired:
		t.Error("expiry should not fire after Connect cancels the termination timer")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestSession_Disconnect_FiresOnExpireAfterTimeout(t *testing.T) {
	s := newTestSession(t)
	expired := make(chan struct{}, 1)
	s.Disconnect(10*time.Millisecond, func() { expired <- struct{}{} })

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("expected onExpire to fire after the disconnect timeout elapsed")
	}
}

func TestSession_AnswerAwait_RoundTrip(t *testing.T) {
	s := newTestSession(t)

	result := make(chan models.Event, 1)
	go func() {
		e, err := s.Await(context.Background())
		if err != nil {
			t.Errorf("Await: %v", err)
			return
		}
		result <- e
	}()

	time.Sleep(10 * time.Millisecond)
	s.Answer(AnswerIngress{Answer: "42", ParentKey: "q1"})

	select {
	case e := <-result:
		if e.Answer != "42" || e.ParentKey != "q1" {
			t.Errorf("got %+v, want Answer=42 ParentKey=q1", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Answer to resolve Await")
	}
}

func TestSession_Await_CancelledContext(t *testing.T) {
	s := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Await(ctx)
	if err == nil {
		t.Error("expected an error when the context is already cancelled")
	}
}

func TestSession_RunActive_PublishesUserAndAssistantMessages(t *testing.T) {
	s := newTestSession(t)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.RunActive(context.Background(), "hi there")

	var sawUser, sawAssistant bool
	deadline := time.After(2 * time.Second)
	for !sawUser || !sawAssistant {
		select {
		case e := <-ch:
			if e.Type == models.EventMessage && e.Role == models.RoleUser {
				sawUser = true
			}
			if e.Type == models.EventMessage && e.Role == models.RoleAssistant {
				sawAssistant = true
			}
		case <-deadline:
			t.Fatalf("timed out: sawUser=%v sawAssistant=%v", sawUser, sawAssistant)
		}
	}
}

func TestRegistry_GetOrCreate_ReusesExistingSession(t *testing.T) {
	r := NewRegistry()
	calls := 0
	make1 := func() *Session { calls++; return &Session{ClientID: "c1"} }

	s1 := r.GetOrCreate("c1", make1)
	s2 := r.GetOrCreate("c1", make1)
	if s1 != s2 {
		t.Error("GetOrCreate should return the same session on the second call")
	}
	if calls != 1 {
		t.Errorf("newSession called %d times, want 1", calls)
	}
}

func TestRegistry_GetAndRemove(t *testing.T) {
	r := NewRegistry()
	r.GetOrCreate("c1", func() *Session { return &Session{ClientID: "c1"} })

	if _, ok := r.Get("c1"); !ok {
		t.Fatal("expected session c1 to be present")
	}

	r.Remove("c1")
	if _, ok := r.Get("c1"); ok {
		t.Error("expected session c1 to be gone after Remove")
	}
}
