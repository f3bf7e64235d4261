// Package inventory keeps the latest reading of every bag. Writers replace a
// whole bag at a time and readers take copies, so an evaluation never sees a
// bag half updated.
package inventory

import (
	"sync"
	"time"

	"silofy/internal/model"
)

type entry struct {
	bag       model.Bag
	readingAt time.Time
	updatedAt time.Time
}

type Store struct {
	mu    sync.RWMutex
	byID  map[string]*entry
	order []string
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 10000
	}
	return &Store{byID: make(map[string]*entry), limit: limit}
}

// Upsert stores r as the current state of its bag. A reading older than the
// stored one is ignored and Upsert returns false.
func (s *Store) Upsert(r model.Reading) bool {
	id := r.Bag.ID
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if e, ok := s.byID[id]; ok {
		if r.Timestamp.Before(e.readingAt) {
			return false
		}
		e.bag = r.Bag
		e.readingAt = r.Timestamp
		e.updatedAt = now
		return true
	}
	s.byID[id] = &entry{bag: r.Bag, readingAt: r.Timestamp, updatedAt: now}
	s.order = append(s.order, id)
	if len(s.byID) > s.limit {
		s.evictOldest()
	}
	return true
}

func (s *Store) Get(id string) (model.Bag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return model.Bag{}, false
	}
	return e.bag, true
}

// Snapshot returns every bag in first-seen order.
func (s *Store) Snapshot() []model.Bag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Bag, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].bag)
	}
	return out
}

func (s *Store) Crops() []string {
	return s.distinct(func(b model.Bag) string { return b.Crop })
}

func (s *Store) Sites() []string {
	return s.distinct(func(b model.Bag) string { return b.Farm })
}

func (s *Store) distinct(field func(model.Bag) string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, id := range s.order {
		v := field(s.byID[id].bag)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, e := range s.byID {
		if oldestID == "" || e.updatedAt.Before(oldest) {
			oldestID = id
			oldest = e.updatedAt
		}
	}
	if oldestID == "" {
		return
	}
	delete(s.byID, oldestID)
	for i, id := range s.order {
		if id == oldestID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*entry)
	s.order = nil
}
