package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory keeps state in process. It does not survive restarts.
type Memory struct {
	mu     sync.RWMutex
	states map[string]TraderState
}

func NewMemory() *Memory {
	return &Memory{states: make(map[string]TraderState)}
}

func (m *Memory) Upsert(_ context.Context, s TraderState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var prev *TraderState
	if p, ok := m.states[s.Key()]; ok {
		prev = &p
	}
	m.states[s.Key()] = stamp(s, prev, time.Now())
	return nil
}

func (m *Memory) Get(_ context.Context, userID, mint string) (TraderState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[TraderState{UserID: userID, Mint: mint}.Key()]
	if !ok {
		return TraderState{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) Delete(_ context.Context, userID, mint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := TraderState{UserID: userID, Mint: mint}.Key()
	if _, ok := m.states[key]; !ok {
		return ErrNotFound
	}
	delete(m.states, key)
	return nil
}

func (m *Memory) List(_ context.Context) ([]TraderState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TraderState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s)
	}
	sortStates(out)
	return out, nil
}

func sortStates(states []TraderState) {
	sort.Slice(states, func(i, j int) bool {
		if !states[i].CreatedAt.Equal(states[j].CreatedAt) {
			return states[i].CreatedAt.Before(states[j].CreatedAt)
		}
		return states[i].Key() < states[j].Key()
	})
}
