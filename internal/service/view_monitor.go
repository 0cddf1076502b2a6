package service

import (
	"sort"
	"sync"
	"time"
)

// slowViewThreshold marks a derived view computation as slow
const slowViewThreshold = 500 * time.Millisecond

// ViewMonitor tracks cache effectiveness and compute latency of derived views
type ViewMonitor struct {
	mu         sync.RWMutex
	views      map[string]*viewSamples
	maxSamples int
}

type viewSamples struct {
	hits     int64
	misses   int64
	slow     int64
	computes []time.Duration
}

// ViewStat contains the statistics of one view
type ViewStat struct {
	CacheHits    int64   `json:"cacheHits"`
	CacheMisses  int64   `json:"cacheMisses"`
	SlowComputes int64   `json:"slowComputes"`
	CacheHitRate float64 `json:"cacheHitRate"` // Percentage
	AvgComputeMs float64 `json:"avgComputeMs"`
	P95ComputeMs float64 `json:"p95ComputeMs"`
}

// NewViewMonitor creates a monitor keeping the last 1000 compute samples per view
func NewViewMonitor() *ViewMonitor {
	return &ViewMonitor{
		views:      make(map[string]*viewSamples),
		maxSamples: 1000,
	}
}

func (m *ViewMonitor) samples(view string) *viewSamples {
	s, ok := m.views[view]
	if !ok {
		s = &viewSamples{}
		m.views[view] = s
	}
	return s
}

// RecordHit records a view served from the cache
func (m *ViewMonitor) RecordHit(view string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples(view).hits++
}

// RecordCompute records a view computed from the store. cached is false when
// no cache is configured or the store has no scan to key it by.
func (m *ViewMonitor) RecordCompute(view string, duration time.Duration, cached bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.samples(view)
	if cached {
		s.misses++
	}
	if duration > slowViewThreshold {
		s.slow++
	}

	s.computes = append(s.computes, duration)
	if len(s.computes) > m.maxSamples {
		s.computes = s.computes[len(s.computes)-m.maxSamples:]
	}
}

// Stats returns the statistics of every view seen so far
func (m *ViewMonitor) Stats() map[string]ViewStat {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]ViewStat, len(m.views))
	for view, s := range m.views {
		stat := ViewStat{
			CacheHits:    s.hits,
			CacheMisses:  s.misses,
			SlowComputes: s.slow,
		}
		if lookups := s.hits + s.misses; lookups > 0 {
			stat.CacheHitRate = float64(s.hits) / float64(lookups) * 100
		}

		if len(s.computes) > 0 {
			sorted := make([]time.Duration, len(s.computes))
			copy(sorted, s.computes)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

			var total time.Duration
			for _, d := range sorted {
				total += d
			}
			stat.AvgComputeMs = float64(total.Microseconds()) / 1000 / float64(len(sorted))
			stat.P95ComputeMs = float64(sorted[int(float64(len(sorted)-1)*0.95)].Microseconds()) / 1000
		}

		stats[view] = stat
	}
	return stats
}

// Reset clears all samples
func (m *ViewMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views = make(map[string]*viewSamples)
}
