package checklog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/gofrs/flock"
)

// FileStore appends entries as JSON lines to a local file. Writers in other
// processes are excluded through an advisory lock on path+".lock".
type FileStore struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store writing to path. The file and its directory
// are created on the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the log file path.
func (s *FileStore) Path() string { return s.path }

// Record appends e as one line.
func (s *FileStore) Record(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("checklog: marshal: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("checklog: create directory: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("checklog: lock %s: %w", s.path, err)
	}
	defer s.lock.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("checklog: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("checklog: write: %w", err)
	}
	return nil
}

// Recent reads the whole file and returns the last limit entries, newest
// first. Lines that do not decode are skipped.
func (s *FileStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("checklog: lock %s: %w", s.path, err)
	}
	defer s.lock.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checklog: open file: %w", err)
	}
	defer f.Close()

	var all []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e Entry
		if json.Unmarshal(sc.Bytes(), &e) != nil {
			continue
		}
		all = append(all, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("checklog: read: %w", err)
	}

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	slices.Reverse(all)
	return all, nil
}

// Ping reports whether the log directory exists or can be created.
func (s *FileStore) Ping(context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("checklog: ping file: %w", err)
	}
	return nil
}

// Close releases the lock file handle.
func (s *FileStore) Close() error {
	return s.lock.Close()
}
