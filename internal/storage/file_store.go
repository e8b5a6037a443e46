package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"allin/pkg/logging"
)

const tempFilePrefix = ".tmp-"

// FileStore persists each key as a file in a directory.
//
// Files are created with 0600 permissions and the directory with 0700, since
// the values include bearer tokens.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a store rooted at it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key)
}

func (s *FileStore) Get(key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	// #nosec G304 -- path is built from a validated key
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return string(data), true, nil
}

// Set writes to a temporary file and renames it into place so readers never
// observe a partially written value.
func (s *FileStore) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return replaceFile(s.path(key), []byte(value))
}

// replaceFile writes data to a uniquely named temp file next to path and
// renames it over path, so concurrent writers from several processes never
// share a temp file and readers see either the old or the new content.
func replaceFile(path string, data []byte) error {
	name := filepath.Base(path)
	tmp, err := os.CreateTemp(filepath.Dir(path), tempFilePrefix+name+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set permissions on %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Watch reports changes to keys made by any process until ctx is cancelled.
// fn receives the key name; temporary files from in-flight writes are skipped.
func (s *FileStore) Watch(ctx context.Context, fn func(key string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			key := filepath.Base(event.Name)
			if strings.HasPrefix(key, tempFilePrefix) || validateKey(key) != nil {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				fn(key)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("FileStore", "watch error on %s: %v", s.dir, err)
		}
	}
}
