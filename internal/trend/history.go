package trend

import (
	"sync"

	"silofy/internal/model"
)

// FleetKey is the history key of the tonnage-weighted series over all bags.
const FleetKey = "*"

type History struct {
	mu     sync.RWMutex
	series map[string][]model.TrendPoint
	window int
}

func NewHistory(window int) *History {
	if window <= 0 {
		window = DefaultWindow
	}
	return &History{series: make(map[string][]model.TrendPoint), window: window}
}

// Record adds point to the series of key. A point for the same day as the
// newest one replaces it, so a series holds one point per day in ascending
// day order. Points older than the newest day are dropped and Record
// returns false.
func (h *History) Record(key string, point model.TrendPoint) bool {
	if key == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	cur := h.series[key]
	if n := len(cur); n > 0 {
		switch last := cur[n-1].Day; {
		case point.Day < last:
			return false
		case point.Day == last:
			next := make([]model.TrendPoint, n)
			copy(next, cur)
			next[n-1] = point
			h.series[key] = next
			return true
		}
	}
	h.series[key] = AppendWindow(cur, point, h.window)
	return true
}

// LastDay returns the newest day recorded for key.
func (h *History) LastDay(key string) (int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cur := h.series[key]
	if len(cur) == 0 {
		return 0, false
	}
	return cur[len(cur)-1].Day, true
}

// Series returns a copy of the series for key.
func (h *History) Series(key string) []model.TrendPoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cur := h.series[key]
	out := make([]model.TrendPoint, len(cur))
	copy(out, cur)
	return out
}

func (h *History) Keys() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.series))
	for k := range h.series {
		out = append(out, k)
	}
	return out
}

func (h *History) SetWindow(window int) {
	if window <= 0 {
		window = DefaultWindow
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.window = window
	for k, s := range h.series {
		if len(s) > window {
			h.series[k] = append([]model.TrendPoint{}, s[len(s)-window:]...)
		}
	}
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.series = make(map[string][]model.TrendPoint)
}
