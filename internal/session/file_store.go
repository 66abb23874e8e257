package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
)

// FileStore keeps entries in a JSON file guarded by an advisory lock file, so
// several processes sharing one session see each other's writes.
type FileStore struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
	now  func() time.Time
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("session file path is required")
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &FileStore{path: path, lock: flock.New(path + ".lock"), now: time.Now}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.RLock(); err != nil {
		return "", false, fmt.Errorf("lock session file: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	entries, err := s.readLocked()
	if err != nil {
		return "", false, err
	}
	e, ok := entries[key]
	if !ok || e.expired(s.now()) {
		return "", false, nil
	}
	return e.Value, true, nil
}

func (s *FileStore) Set(key string, value string, ttl time.Duration) error {
	return s.update(func(entries map[string]entry) {
		entries[key] = newEntry(value, ttl, s.now())
	})
}

func (s *FileStore) Clear(key string) error {
	return s.update(func(entries map[string]entry) {
		delete(entries, key)
	})
}

func (s *FileStore) update(apply func(map[string]entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock session file: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	entries, err := s.readLocked()
	if err != nil {
		return err
	}
	apply(entries)
	now := s.now()
	for key, e := range entries {
		if e.expired(now) {
			delete(entries, key)
		}
	}
	return s.writeLocked(entries)
}

func (s *FileStore) readLocked() (map[string]entry, error) {
	entries := map[string]entry{}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return entries, nil
}

// writeLocked replaces the file atomically so readers never see a torn write.
func (s *FileStore) writeLocked(entries map[string]entry) error {
	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create session temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Watch calls onChange whenever the session file is written, replaced or
// removed by any process, until ctx is done. Watcher errors go to onError.
func (s *FileStore) Watch(ctx context.Context, onChange func(), onError func(error)) error {
	if onChange == nil {
		panic("session.FileStore.Watch: onChange must not be nil")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize fsnotify watcher: %w", err)
	}
	// watch the directory: atomic replacement swaps the inode under the file name.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch session directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != s.path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					onChange()
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(watchErr)
				}
			}
		}
	}()
	return nil
}
