package thread

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRepository_SaveAndGetByID_RoundTrip(t *testing.T) {
	repo := NewRepository(t.TempDir())

	tr := New()
	tr.Name = "My Test Thread"
	tr.AddUserMessage("alice", "hello")

	if _, err := repo.Save(tr); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := repo.GetByID(tr.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected thread, got nil")
	}
	if loaded.ID != tr.ID || loaded.Name != tr.Name {
		t.Errorf("loaded = %+v, want id/name matching saved thread", loaded)
	}
	if len(loaded.Messages) != 1 || loaded.Messages[0].Content != "hello" {
		t.Errorf("loaded.Messages = %+v, want single 'hello' message", loaded.Messages)
	}
}

func TestRepository_FilenameIsSanitizedNameAndID(t *testing.T) {
	dir := t.TempDir()
	repo := NewRepository(dir)

	tr := New()
	tr.Name = "My Cool Thread!!"
	if _, err := repo.Save(tr); err != nil {
		t.Fatalf("Save: %v", err)
	}

	wantPath := filepath.Join(dir, "my-cool-thread-"+tr.ID+".yml")
	if _, err := os.Stat(wantPath); err != nil {
		t.Errorf("expected file %s to exist, got: %v", wantPath, err)
	}
}

func TestRepository_GetByID_NotFoundReturnsNilNil(t *testing.T) {
	repo := NewRepository(t.TempDir())
	loaded, err := repo.GetByID("does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil, got %+v", loaded)
	}
}

func TestRepository_RenamePreservesOldFile(t *testing.T) {
	dir := t.TempDir()
	repo := NewRepository(dir)

	tr := New()
	tr.Name = "Original Name"
	if _, err := repo.Save(tr); err != nil {
		t.Fatalf("Save: %v", err)
	}

	tr.Name = "Renamed"
	if _, err := repo.Save(tr); err != nil {
		t.Fatalf("Save (renamed): %v", err)
	}

	// GetByID should still find the thread by its id suffix even though two
	// files now exist on disk (old name's file is left in place per §4.3).
	loaded, err := repo.GetByID(tr.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected thread to be found")
	}

	summaries, err := repo.ListThreads()
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	if len(summaries) != 2 {
		t.Errorf("got %d summaries, want 2 (old and renamed file both present)", len(summaries))
	}
}

func TestRepository_Delete(t *testing.T) {
	repo := NewRepository(t.TempDir())
	tr := New()
	if _, err := repo.Save(tr); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ok, err := repo.Delete(tr.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !ok {
		t.Error("expected Delete to report true for an existing thread")
	}

	loaded, err := repo.GetByID(tr.ID)
	if err != nil {
		t.Fatalf("GetByID after delete: %v", err)
	}
	if loaded != nil {
		t.Error("expected thread to be gone after Delete")
	}

	ok, err = repo.Delete(tr.ID)
	if err != nil {
		t.Fatalf("Delete (second time): %v", err)
	}
	if ok {
		t.Error("expected Delete to report false for an already-deleted thread")
	}
}

func TestRepository_ListThreads_SkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	repo := NewRepository(dir)

	good := New()
	good.Name = "Good Thread"
	if _, err := repo.Save(good); err != nil {
		t.Fatalf("Save: %v", err)
	}

	badPath := filepath.Join(dir, "corrupt-not-an-id.yml")
	if err := os.WriteFile(badPath, []byte("not: [valid yaml"), 0o644); err != nil {
		t.Fatalf("writing corrupt file: %v", err)
	}

	summaries, err := repo.ListThreads()
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1 (corrupt file silently skipped)", len(summaries))
	}
	if summaries[0].ID != good.ID {
		t.Errorf("summary = %+v, want the good thread", summaries[0])
	}
}
