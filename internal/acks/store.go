// Package acks records alert acknowledgements. Acknowledging never changes
// which alerts are active; the log only answers who acknowledged what.
package acks

import (
	"sync"
	"time"

	"silofy/internal/model"
)

type Store struct {
	mu    sync.RWMutex
	buf   []model.Acknowledgement
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(ack model.Acknowledgement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, ack)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = ack
}

// List returns the newest limit acknowledgements in insertion order.
func (s *Store) List(limit int) []model.Acknowledgement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Acknowledgement, 0, limit)
	out = append(out, s.buf[len(s.buf)-limit:]...)
	return out
}

func (s *Store) Since(ts time.Time) []model.Acknowledgement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Acknowledgement, 0)
	for _, a := range s.buf {
		if !a.AcknowledgedAt.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) ForBag(bagID string) []model.Acknowledgement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Acknowledgement, 0)
	for _, a := range s.buf {
		if a.BagID == bagID {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
