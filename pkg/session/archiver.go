package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Archiver persists terminal sessions outside the in-memory store.
type Archiver interface {
	Name() string
	Archive(ctx context.Context, s Session) error
	Lookup(ctx context.Context, id string) (Session, error)
	Close() error
}

// FileArchiver appends sessions as JSON lines to one file per UTC day.
type FileArchiver struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewFileArchiver creates the archive directory if needed.
func NewFileArchiver(dir string) (*FileArchiver, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FileArchiver{dir: dir, now: time.Now}, nil
}

func (a *FileArchiver) Name() string { return "file" }

// Archive appends s to today's file.
func (a *FileArchiver) Archive(_ context.Context, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	path := filepath.Join(a.dir, "sessions-"+a.now().UTC().Format("20060102")+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write archive entry: %w", err)
	}
	return nil
}

// Lookup scans archive files newest first and returns the last entry for id.
func (a *FileArchiver) Lookup(ctx context.Context, id string) (Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(a.dir, "sessions-*.jsonl"))
	if err != nil {
		return Session{}, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return Session{}, err
		}
		s, found, err := scanArchiveFile(path, id)
		if err != nil {
			return Session{}, err
		}
		if found {
			return s, nil
		}
	}
	return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

func (a *FileArchiver) Close() error { return nil }

func scanArchiveFile(path, id string) (Session, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return Session{}, false, fmt.Errorf("failed to open archive file: %w", err)
	}
	defer f.Close()

	var (
		match Session
		found bool
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var s Session
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			continue
		}
		if s.ID == id {
			match, found = s, true
		}
	}
	if err := scanner.Err(); err != nil {
		return Session{}, false, fmt.Errorf("failed to read archive file: %w", err)
	}
	return match, found, nil
}
