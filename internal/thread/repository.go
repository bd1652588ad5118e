package thread

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// RepositoryError wraps an I/O failure encountered by the file repository,
// carrying the original cause (§4.3 failure model).
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("thread repository: %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// Summary is the lightweight listing shape listThreads returns.
type Summary struct {
	ID           string
	Name         string
	Summary      string
	CreatedDate  string
	ModifiedDate string
}

// Repository persists AiThreads as one YAML file per thread under dir.
type Repository struct {
	dir     string
	mu      sync.Mutex
	dirInit bool
}

// NewRepository creates a Repository rooted at dir. The directory itself is
// not created until the first operation that needs it (§4.3).
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

func (r *Repository) ensureDir() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dirInit {
		return nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return &RepositoryError{Op: "init", Err: err}
	}
	r.dirInit = true
	return nil
}

func fileName(name, id string) string {
	return fmt.Sprintf("%s-%s.yml", Sanitize(name), id)
}

// Save persists thread, writing a file named for its current sanitised name
// and id. If the thread's name changed since it was last saved under a
// different filename, the old file is left in place (§4.3 rename semantics;
// callers wanting a true rename must Delete the old id first).
func (r *Repository) Save(t *AiThread) (*AiThread, error) {
	if err := r.ensureDir(); err != nil {
		return nil, err
	}

	data, err := yaml.Marshal(t)
	if err != nil {
		return nil, &RepositoryError{Op: "save", Err: err}
	}

	path := filepath.Join(r.dir, fileName(t.Name, t.ID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, &RepositoryError{Op: "save", Err: err}
	}
	return t, nil
}

// GetByID loads the thread whose filename ends in "-{id}.yml", or (nil, nil)
// if no such file exists.
func (r *Repository) GetByID(id string) (*AiThread, error) {
	if err := r.ensureDir(); err != nil {
		return nil, err
	}

	path, err := r.findPath(id)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &RepositoryError{Op: "getById", Err: err}
	}

	var t AiThread
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, &RepositoryError{Op: "getById", Err: err}
	}
	t.Messages = ReplayFromEvents(t.Messages)
	return &t, nil
}

// Delete removes the file whose name ends in "-{id}.yml". Returns false if
// no matching file was found.
func (r *Repository) Delete(id string) (bool, error) {
	if err := r.ensureDir(); err != nil {
		return false, err
	}

	path, err := r.findPath(id)
	if err != nil {
		return false, err
	}
	if path == "" {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &RepositoryError{Op: "delete", Err: err}
	}
	return true, nil
}

func (r *Repository) findPath(id string) (string, error) {
	suffix := "-" + id + ".yml"
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", &RepositoryError{Op: "scan", Err: err}
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), suffix) {
			return filepath.Join(r.dir, e.Name()), nil
		}
	}
	return "", nil
}

// ListThreads returns a summary per thread file, sorted by ModifiedDate
// descending. Files that fail to parse are silently skipped (§4.3
// corruption tolerance).
func (r *Repository) ListThreads() ([]Summary, error) {
	if err := r.ensureDir(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &RepositoryError{Op: "list", Err: err}
	}

	summaries := make([]Summary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, e.Name()))
		if err != nil {
			continue
		}
		var t AiThread
		if err := yaml.Unmarshal(data, &t); err != nil {
			continue
		}
		summaries = append(summaries, Summary{
			ID:           t.ID,
			Name:         t.Name,
			Summary:      t.Summary,
			CreatedDate:  t.CreatedDate.Format("2006-01-02T15:04:05Z07:00"),
			ModifiedDate: t.ModifiedDate.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ModifiedDate > summaries[j].ModifiedDate
	})
	return summaries, nil
}
