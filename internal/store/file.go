package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// File keeps all records in one JSON array on disk. Every write replaces
// the file atomically.
type File struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

func NewFile(path string, logger *zap.Logger) *File {
	if path == "" {
		path = filepath.Join("data", "auto_trader_state.json")
	}
	return &File{path: path, logger: logger}
}

// Path is the backing file.
func (f *File) Path() string { return f.path }

func (f *File) load() ([]TraderState, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var states []TraderState
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", f.path, err)
	}
	return states, nil
}

func (f *File) save(states []TraderState) error {
	if states == nil {
		states = []TraderState{}
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (f *File) Upsert(_ context.Context, s TraderState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	states, err := f.load()
	if err != nil {
		return err
	}
	for i := range states {
		if states[i].Key() == s.Key() {
			states[i] = stamp(s, &states[i], time.Now())
			return f.save(states)
		}
	}
	states = append(states, stamp(s, nil, time.Now()))
	return f.save(states)
}

func (f *File) Get(_ context.Context, userID, mint string) (TraderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	states, err := f.load()
	if err != nil {
		return TraderState{}, err
	}
	for _, s := range states {
		if s.UserID == userID && s.Mint == mint {
			return s, nil
		}
	}
	return TraderState{}, ErrNotFound
}

func (f *File) Delete(_ context.Context, userID, mint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	states, err := f.load()
	if err != nil {
		return err
	}
	kept := states[:0]
	found := false
	for _, s := range states {
		if s.UserID == userID && s.Mint == mint {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	if !found {
		return ErrNotFound
	}
	f.logger.Debug("removing trader state", zap.String("user", userID), zap.String("mint", mint))
	return f.save(kept)
}

func (f *File) List(_ context.Context) ([]TraderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	states, err := f.load()
	if err != nil {
		return nil, err
	}
	sortStates(states)
	return states, nil
}
