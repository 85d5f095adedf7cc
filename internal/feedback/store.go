// Package feedback stores user verdicts on corrections as append-only JSON
// lines in a local file.
package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMissingText is returned when an entry has neither original nor corrected
// text.
var ErrMissingText = errors.New("feedback: original or corrected text is required")

// maxCommentLen caps the free-text comment, in runes.
const maxCommentLen = 2000

// Entry is feedback submitted by a user.
type Entry struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Accepted  bool   `json:"accepted"`
	Comment   string `json:"comment,omitempty"`
}

// Record is a single feedback entry written to the file store.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Entry
}

// Store persists feedback entries.
type Store interface {
	Save(e Entry) (string, error)
}

var _ Store = (*FileStore)(nil)

// FileStore persists feedback as JSON lines in a local file.
// Thread-safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStore creates a FileStore that writes to the given path. The file
// and its parent directory are created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Path returns the file the store appends to.
func (fs *FileStore) Path() string { return fs.path }

// Save validates e, assigns it an id, and appends it to the file.
func (fs *FileStore) Save(e Entry) (string, error) {
	if strings.TrimSpace(e.Original) == "" && strings.TrimSpace(e.Corrected) == "" {
		return "", ErrMissingText
	}
	if r := []rune(e.Comment); len(r) > maxCommentLen {
		e.Comment = string(r[:maxCommentLen])
	}

	record := Record{
		ID:        uuid.NewString(),
		Timestamp: fs.now().UTC(),
		Entry:     e,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if dir := filepath.Dir(fs.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("feedback: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("feedback: write: %w", err)
	}
	return record.ID, nil
}
