package thread

import (
	"sync"
	"testing"
)

func TestService_Select_SynthesizesNewThreadWhenEmpty(t *testing.T) {
	repo := NewRepository(t.TempDir())
	svc := NewService(repo)

	selected, evt, err := svc.Select("")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if selected == nil {
		t.Fatal("expected a synthesized thread, got nil")
	}
	if selected.Name != "New Thread" {
		t.Errorf("Name = %q, want %q", selected.Name, "New Thread")
	}
	if evt.Type == "" {
		t.Error("expected a non-zero ThreadSelected event")
	}
	if svc.Active() != selected {
		t.Error("Active() should return the thread just selected")
	}

	// The synthesized thread should also have been persisted.
	loaded, err := repo.GetByID(selected.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if loaded == nil {
		t.Error("expected synthesized thread to be persisted")
	}
}

func TestService_Select_ByID(t *testing.T) {
	repo := NewRepository(t.TempDir())
	svc := NewService(repo)

	tr := New()
	tr.Name = "Target Thread"
	if _, err := repo.Save(tr); err != nil {
		t.Fatalf("Save: %v", err)
	}

	selected, _, err := svc.Select(tr.ID)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if selected.ID != tr.ID {
		t.Errorf("selected.ID = %q, want %q", selected.ID, tr.ID)
	}
}

func TestService_Select_UnknownIDReturnsError(t *testing.T) {
	repo := NewRepository(t.TempDir())
	svc := NewService(repo)

	_, _, err := svc.Select("no-such-id")
	if err == nil {
		t.Fatal("expected an error for an unknown thread id")
	}
}

func TestService_Select_EmptyFallsBackToMostRecentlyModified(t *testing.T) {
	repo := NewRepository(t.TempDir())
	svc := NewService(repo)

	older := New()
	older.Name = "Older"
	if _, err := repo.Save(older); err != nil {
		t.Fatalf("Save: %v", err)
	}

	newer := New()
	newer.Name = "Newer"
	if _, err := repo.Save(newer); err != nil {
		t.Fatalf("Save: %v", err)
	}

	selected, _, err := svc.Select("")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if selected.ID != newer.ID {
		t.Errorf("selected.ID = %q, want the most recently saved thread %q", selected.ID, newer.ID)
	}
}

func TestService_Save_PersistsActiveThreadAndFiresHooks(t *testing.T) {
	repo := NewRepository(t.TempDir())
	svc := NewService(repo)

	var mu sync.Mutex
	var hookCalled bool
	done := make(chan struct{})
	svc.AddPostRunHook(func(t *AiThread) {
		mu.Lock()
		hookCalled = true
		mu.Unlock()
		close(done)
	})

	if _, _, err := svc.Select(""); err != nil {
		t.Fatalf("Select: %v", err)
	}
	svc.Active().AddUserMessage("alice", "hi")

	saved, err := svc.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved == nil {
		t.Fatal("expected saved thread, got nil")
	}

	<-done
	mu.Lock()
	defer mu.Unlock()
	if !hookCalled {
		t.Error("expected post-run hook to fire after Save")
	}
}

func TestService_Save_NoActiveThreadIsNoop(t *testing.T) {
	repo := NewRepository(t.TempDir())
	svc := NewService(repo)

	saved, err := svc.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved != nil {
		t.Errorf("expected nil when no thread is active, got %+v", saved)
	}
}

func TestService_Delete_ClearsActiveSlotWhenMatching(t *testing.T) {
	repo := NewRepository(t.TempDir())
	svc := NewService(repo)

	tr, _, err := svc.Select("")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	ok, err := svc.Delete(tr.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !ok {
		t.Error("expected Delete to report true")
	}
	if svc.Active() != nil {
		t.Error("Active() should be nil after deleting the active thread")
	}
}

func TestService_Delete_LeavesActiveSlotWhenNotMatching(t *testing.T) {
	repo := NewRepository(t.TempDir())
	svc := NewService(repo)

	active, _, err := svc.Select("")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	other := New()
	other.Name = "Other"
	if _, err := repo.Save(other); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ok, err := svc.Delete(other.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !ok {
		t.Error("expected Delete to report true")
	}
	if svc.Active() == nil || svc.Active().ID != active.ID {
		t.Error("Active() should be unaffected by deleting a non-active thread")
	}
}

func TestService_ListAll(t *testing.T) {
	repo := NewRepository(t.TempDir())
	svc := NewService(repo)

	for _, name := range []string{"One", "Two", "Three"} {
		tr := New()
		tr.Name = name
		if _, err := repo.Save(tr); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	all, err := svc.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d summaries, want 3", len(all))
	}
}
