package observability

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects and aggregates search metrics per dataset.
type Metrics struct {
	mu sync.Mutex

	requestTotal  atomic.Int64
	requestFailed atomic.Int64

	datasets map[string]*DatasetMetrics

	// durations is a FIFO window of recent request durations.
	durations    []time.Duration
	maxDurations int
}

// DatasetMetrics represents metrics for one dataset.
type DatasetMetrics struct {
	searchCount   atomic.Int64
	totalDuration atomic.Int64 // milliseconds
	errorCount    atomic.Int64
	hitCount      atomic.Int64
}

// NewMetrics creates a new metrics collector.
func NewMetrics(maxDurations int) *Metrics {
	if maxDurations <= 0 {
		maxDurations = 1000
	}
	return &Metrics{
		datasets:     make(map[string]*DatasetMetrics),
		durations:    make([]time.Duration, 0, maxDurations),
		maxDurations: maxDurations,
	}
}

var globalMetrics = NewMetrics(1000)

// GlobalMetrics returns the global metrics instance.
func GlobalMetrics() *Metrics {
	return globalMetrics
}

func (m *Metrics) dataset(name string) *DatasetMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	dm, ok := m.datasets[name]
	if !ok {
		dm = &DatasetMetrics{}
		m.datasets[name] = dm
	}
	return dm
}

// RecordSearch records a finished search, its duration and hit count.
func (m *Metrics) RecordSearch(dataset string, duration time.Duration, hits int, err error) {
	m.requestTotal.Add(1)
	dm := m.dataset(dataset)
	dm.searchCount.Add(1)
	dm.totalDuration.Add(duration.Milliseconds())
	dm.hitCount.Add(int64(hits))
	if err != nil {
		m.requestFailed.Add(1)
		dm.errorCount.Add(1)
	}

	m.mu.Lock()
	if len(m.durations) >= m.maxDurations {
		m.durations = m.durations[1:]
	}
	m.durations = append(m.durations, duration)
	m.mu.Unlock()
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.requestTotal.Store(0)
	m.requestFailed.Store(0)

	m.mu.Lock()
	m.datasets = make(map[string]*DatasetMetrics)
	m.durations = make([]time.Duration, 0, m.maxDurations)
	m.mu.Unlock()
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	datasets := make(map[string]*DatasetMetricsSnapshot, len(m.datasets))
	for name, dm := range m.datasets {
		count := dm.searchCount.Load()
		snap := &DatasetMetricsSnapshot{
			SearchCount:   count,
			TotalDuration: dm.totalDuration.Load(),
			ErrorCount:    dm.errorCount.Load(),
			HitCount:      dm.hitCount.Load(),
		}
		if count > 0 {
			snap.AverageDuration = snap.TotalDuration / count
		}
		datasets[name] = snap
	}

	sorted := append([]time.Duration(nil), m.durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return &MetricsSnapshot{
		RequestTotal:  m.requestTotal.Load(),
		RequestFailed: m.requestFailed.Load(),
		Datasets:      datasets,
		DurationCount: len(sorted),
		P50Ms:         percentile(sorted, 0.50).Milliseconds(),
		P95Ms:         percentile(sorted, 0.95).Milliseconds(),
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(q * float64(len(sorted)-1))
	return sorted[i]
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	RequestTotal  int64                              `json:"request_total"`
	RequestFailed int64                              `json:"request_failed"`
	Datasets      map[string]*DatasetMetricsSnapshot `json:"datasets"`
	DurationCount int                                `json:"duration_count"`
	P50Ms         int64                              `json:"p50_ms"`
	P95Ms         int64                              `json:"p95_ms"`
}

// DatasetMetricsSnapshot represents metrics for one dataset.
type DatasetMetricsSnapshot struct {
	SearchCount     int64 `json:"search_count"`
	TotalDuration   int64 `json:"total_duration_ms"`
	ErrorCount      int64 `json:"error_count"`
	HitCount        int64 `json:"hit_count"`
	AverageDuration int64 `json:"average_duration_ms"`
}

// SuccessRate returns the success rate as a percentage (0-100).
func (s *MetricsSnapshot) SuccessRate() float64 {
	if s.RequestTotal == 0 {
		return 100.0
	}
	return float64(s.RequestTotal-s.RequestFailed) / float64(s.RequestTotal) * 100.0
}
