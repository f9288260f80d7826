// Package appstate persists the small amount of console state that
// survives restarts, such as the last section the admin worked in.
package appstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetry = 50 * time.Millisecond

type State struct {
	LastSection string    `json:"lastSection"`
	LastView    string    `json:"lastView"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// File stores State as JSON. Writes are serialized across processes with a
// lock file and replace the target atomically.
type File struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
	now  func() time.Time
}

func NewFile(path string) *File {
	return &File{
		path: path,
		lock: flock.New(path + ".lock"),
		now:  time.Now,
	}
}

// Load returns the saved state, or the zero State when nothing was saved.
func (f *File) Load() (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read app state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("parse app state: %w", err)
	}
	return s, nil
}

// Checkpoint saves s, stamping UpdatedAt.
func (f *File) Checkpoint(ctx context.Context, s State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("app state dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	locked, err := f.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return errors.New("could not acquire app state lock")
	}
	defer func() { _ = f.lock.Unlock() }()

	s.UpdatedAt = f.now().UTC()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".appstate-*")
	if err != nil {
		return fmt.Errorf("write app state: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write app state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write app state: %w", err)
	}
	return os.Rename(tmp.Name(), f.path)
}
