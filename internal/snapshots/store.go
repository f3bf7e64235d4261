// Package snapshots keeps the most recent evaluation per filter selection.
package snapshots

import (
	"sort"
	"sync"
	"time"

	"silofy/internal/model"
)

type Snapshot struct {
	Key        string           `json:"key"`
	Evaluation model.Evaluation `json:"evaluation"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

type Store struct {
	mu    sync.RWMutex
	byKey map[string]Snapshot
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{byKey: make(map[string]Snapshot), limit: limit}
}

func (s *Store) Update(ev model.Evaluation) {
	key := ev.Filter.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[key] = Snapshot{Key: key, Evaluation: ev, UpdatedAt: time.Now().UTC()}
	if len(s.byKey) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(filter model.Filter) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byKey[filter.Key()]
	return snap, ok
}

// List returns all snapshots, most recently updated first.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	out := make([]Snapshot, 0, len(s.byKey))
	for _, snap := range s.byKey {
		out = append(out, snap)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (s *Store) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, snap := range s.byKey {
		if oldestKey == "" || snap.UpdatedAt.Before(oldest) {
			oldestKey = key
			oldest = snap.UpdatedAt
		}
	}
	if oldestKey != "" {
		delete(s.byKey, oldestKey)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey = make(map[string]Snapshot)
}
