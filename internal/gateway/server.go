package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/codayhq/coday/internal/agent"
	"github.com/codayhq/coday/internal/observability"
	"github.com/codayhq/coday/internal/thread"
	"github.com/codayhq/coday/pkg/models"
)

// Server implements the external interfaces of §6: the SSE event stream,
// answer/stop ingress, and a thin thread REST wrapper.
type Server struct {
	Registry *Registry
	Logger   *observability.Logger

	NewThreadService func(project string) *thread.Service
	NewLoop          func() *agent.Loop
	Agent            models.Agent

	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
}

// NewServer constructs a Server with §4.9/§5's default timers.
func NewServer(logger *observability.Logger) *Server {
	return &Server{
		Registry:          NewRegistry(),
		Logger:            logger,
		SessionTimeout:    DefaultSessionTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
	}
}

// Routes registers the gateway's handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/api/message", s.handleMessage)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/projects/", s.handleThreadREST)
}

func (s *Server) sessionFor(clientID, project string) *Session {
	return s.Registry.GetOrCreate(clientID, func() *Session {
		threads := s.NewThreadService(project)
		loop := s.NewLoop()
		return NewSession(clientID, threads, loop, s.Agent)
	})
}

// handleEvents serves GET /events?clientId=<id> (§6).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		http.Error(w, "clientId is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := s.sessionFor(clientID, r.URL.Query().Get("project"))
	sess.Connect()

	if _, _, err := sess.Threads.Select(""); err != nil {
		s.logWarn("thread select failed", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	heartbeat := time.NewTicker(s.heartbeatInterval())
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.onDisconnect(sess)
			return
		case <-heartbeat.C:
			writeSSE(w, models.NewHeartBeat(models.NowTimestamp(time.Now())))
			flusher.Flush()
		case e := <-events:
			writeSSE(w, e)
			flusher.Flush()
		}
	}
}

func (s *Server) onDisconnect(sess *Session) {
	sess.Disconnect(s.sessionTimeout(), func() {
		s.Registry.Remove(sess.ClientID)
	})
}

func writeSSE(w http.ResponseWriter, e models.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}

// handleMessage serves POST /api/message?clientId=<id> (§6 answer ingress).
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clientID := r.URL.Query().Get("clientId")
	sess, ok := s.Registry.Get(clientID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	var body AnswerIngress
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Answer == "" {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	sess.Answer(body)
	sess.RunActive(r.Context(), body.Answer)
	w.WriteHeader(http.StatusOK)
}

// handleStop serves POST /api/stop?clientId=<id> (§6 stop ingress).
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clientID := r.URL.Query().Get("clientId")
	sess, ok := s.Registry.Get(clientID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if sess.Threads.Active() == nil {
		http.Error(w, "no active loop", http.StatusBadRequest)
		return
	}
	sess.Stop()
	w.WriteHeader(http.StatusOK)
}

// handleThreadREST implements the five thread routes of §6, all under
// /api/projects/{project}/threads[/{id}].
func (s *Server) handleThreadREST(w http.ResponseWriter, r *http.Request) {
	project, rest, ok := parseProjectPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	threads := s.NewThreadService(project)

	id := strings.Trim(rest, "/")

	switch {
	case id == "" && r.Method == http.MethodGet:
		s.listThreads(w, threads)
	case id == "" && r.Method == http.MethodPost:
		s.createThread(w, r, threads)
	case id != "" && r.Method == http.MethodGet:
		s.getThread(w, threads, id)
	case id != "" && r.Method == http.MethodPut:
		s.renameThread(w, r, threads, id)
	case id != "" && r.Method == http.MethodDelete:
		s.deleteThread(w, threads, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func parseProjectPath(path string) (project string, rest string, ok bool) {
	const prefix = "/api/projects/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	remainder := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(remainder, "/threads", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (s *Server) listThreads(w http.ResponseWriter, threads *thread.Service) {
	summaries, err := listThreadsOf(threads)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": summaries})
}

func (s *Server) createThread(w http.ResponseWriter, r *http.Request, threads *thread.Service) {
	var body struct {
		Name string `json:"name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	t, _, err := threads.Select("")
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	if body.Name != "" {
		t.Name = body.Name
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "thread": t})
}

func (s *Server) getThread(w http.ResponseWriter, threads *thread.Service, id string) {
	t, _, err := threads.Select(id)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread":       t,
		"messageCount": len(t.Messages),
	})
}

func (s *Server) renameThread(w http.ResponseWriter, r *http.Request, threads *thread.Service, id string) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	t, _, err := threads.Select(id)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	t.Name = body.Name
	if _, err := threads.Save(); err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "thread": t})
}

func (s *Server) deleteThread(w http.ResponseWriter, threads *thread.Service, id string) {
	ok, err := threads.Delete(id)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": ok, "message": "deleted"})
}

func (s *Server) writeRepoError(w http.ResponseWriter, err error) {
	var repoErr *thread.RepositoryError
	if errors.As(err, &repoErr) {
		s.logWarn("repository error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Error(w, err.Error(), http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) logWarn(msg string, err error) {
	if s.Logger != nil {
		s.Logger.Warn(context.Background(), msg, "error", err)
	}
}

func (s *Server) heartbeatInterval() time.Duration {
	if s.HeartbeatInterval > 0 {
		return s.HeartbeatInterval
	}
	return DefaultHeartbeatInterval
}

func (s *Server) sessionTimeout() time.Duration {
	if s.SessionTimeout > 0 {
		return s.SessionTimeout
	}
	return DefaultSessionTimeout
}

// listThreadsOf is split out so it can be unit tested without an HTTP round trip.
func listThreadsOf(threads *thread.Service) ([]thread.Summary, error) {
	return threads.ListAll()
}
