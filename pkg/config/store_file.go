package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileBackend stores the configuration as a YAML file. Writes go through a
// temporary file and a rename so readers never observe a partial document.
type FileBackend struct {
	path string

	mu          sync.Mutex
	lastWritten []byte
}

// NewFileBackend returns a backend for the YAML file at path.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileBackend{path: path}, nil
}

// Path returns the YAML file path.
func (b *FileBackend) Path() string { return b.path }

// Read implements Backend.
func (b *FileBackend) Read() ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", b.path, err)
	}
	return data, nil
}

// Write implements Backend.
func (b *FileBackend) Write(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(b.path), "."+filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %q: %w", b.path, err)
	}

	b.lastWritten = append([]byte(nil), data...)
	return nil
}

// Clear implements Backend.
func (b *FileBackend) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastWritten = nil
	if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %q: %w", b.path, err)
	}
	return nil
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }

// isOwnWrite reports whether the file content equals the last document this
// backend wrote, so watcher events caused by Save are not replayed.
func (b *FileBackend) isOwnWrite() bool {
	data, err := b.Read()
	if err != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastWritten != nil && bytes.Equal(data, b.lastWritten)
}

// FileStore is a Store backed by a YAML file that also reacts to external
// edits of that file.
type FileStore struct {
	*DocStore

	backend *FileBackend
	watcher *FileWatcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewFileStore opens the YAML store at path and starts watching it.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default().With("component", "config.store")
	}

	backend, err := NewFileBackend(path)
	if err != nil {
		return nil, err
	}

	watcher, err := NewFileWatcher(path, DefaultDebounceInterval, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	fs := &FileStore{
		DocStore: NewDocStore(backend, logger),
		backend:  backend,
		watcher:  watcher,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(fs.done)
		if err := watcher.Watch(ctx, fs.onFileEvent); err != nil {
			logger.Warn("configuration file watcher exited", "path", path, "error", err)
		}
	}()

	return fs, nil
}

func (fs *FileStore) onFileEvent() {
	if fs.backend.isOwnWrite() {
		return
	}
	fs.logger.Info("configuration file changed externally", "path", fs.backend.Path())
	fs.notify()
}

// Close stops the watcher and closes the store.
func (fs *FileStore) Close() error {
	fs.cancel()
	err := fs.watcher.Stop()
	<-fs.done
	if cerr := fs.DocStore.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
