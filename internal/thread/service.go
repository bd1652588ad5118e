package thread

import (
	"sync"
	"time"

	"github.com/codayhq/coday/pkg/models"
)

// PostRunHook fires after a thread is saved, as a fire-and-forget extension
// point (§4.8) — e.g. summarisation with a SMALL model, memory extraction.
// Hooks run in their own goroutine; failures are logged by the caller, never
// propagated to Save.
type PostRunHook func(t *AiThread)

// Service keeps a single "active" thread per session, backed by a
// Repository, and emits a ThreadSelected event whenever that thread changes.
type Service struct {
	repo  *Repository
	hooks []PostRunHook

	mu     sync.Mutex
	active *AiThread
}

// NewService creates a Service over repo.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// AddPostRunHook registers a hook invoked (fire-and-forget) after Save.
func (s *Service) AddPostRunHook(h PostRunHook) {
	s.hooks = append(s.hooks, h)
}

// Select loads the thread with the given id, or — if id is empty — the
// most-recently-modified thread, or synthesises and persists a new one if
// none exists. It returns the selected thread and the ThreadSelected event
// to emit on the session stream (§4.8).
func (s *Service) Select(id string) (*AiThread, models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		t, err := s.repo.GetByID(id)
		if err != nil {
			return nil, models.Event{}, err
		}
		if t == nil {
			return nil, models.Event{}, &RepositoryError{Op: "select", Err: errNotFound(id)}
		}
		s.active = t
		return t, s.selectedEvent(t), nil
	}

	summaries, err := s.repo.ListThreads()
	if err != nil {
		return nil, models.Event{}, err
	}
	if len(summaries) > 0 {
		t, err := s.repo.GetByID(summaries[0].ID)
		if err != nil {
			return nil, models.Event{}, err
		}
		if t != nil {
			s.active = t
			return t, s.selectedEvent(t), nil
		}
	}

	now := time.Now().UTC()
	t := New()
	t.Name = "New Thread"
	t.Summary = ""
	t.CreatedDate = now
	t.ModifiedDate = now
	if _, err := s.repo.Save(t); err != nil {
		return nil, models.Event{}, err
	}
	s.active = t
	return t, s.selectedEvent(t), nil
}

func (s *Service) selectedEvent(t *AiThread) models.Event {
	return models.NewThreadSelected(models.NowTimestamp(time.Now()), t.Name)
}

// ListAll returns every thread summary from the backing repository, for
// the REST listing endpoint.
func (s *Service) ListAll() ([]Summary, error) {
	return s.repo.ListThreads()
}

// Active returns the currently active thread, or nil if none has been
// selected yet.
func (s *Service) Active() *AiThread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Save persists the active thread and fires post-run hooks.
func (s *Service) Save() (*AiThread, error) {
	s.mu.Lock()
	t := s.active
	s.mu.Unlock()
	if t == nil {
		return nil, nil
	}

	saved, err := s.repo.Save(t)
	if err != nil {
		return nil, err
	}
	for _, h := range s.hooks {
		go h(saved)
	}
	return saved, nil
}

// Delete removes the thread with id from the repository. If it was the
// active thread, the active slot is cleared.
func (s *Service) Delete(id string) (bool, error) {
	ok, err := s.repo.Delete(id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	if s.active != nil && s.active.ID == id {
		s.active = nil
	}
	s.mu.Unlock()
	return ok, nil
}

type notFoundError string

func (e notFoundError) Error() string { return "thread not found: " + string(e) }

func errNotFound(id string) error { return notFoundError(id) }
