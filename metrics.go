package atomgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    internCounter   prometheus.Counter
//	    searchHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordIntern(duration time.Duration, err error) {
//	    p.internCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordIntern is called after each intern operation.
	// duration is the total time taken, err is nil if successful.
	RecordIntern(duration time.Duration, err error)

	// RecordReconstruct is called after each reconstruction.
	// bytes is the reconstructed payload size.
	RecordReconstruct(bytes int, duration time.Duration, err error)

	// RecordSearch is called after each nearest-neighbor query.
	// k is the number of neighbors requested.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordPath is called after each path generation.
	// steps is the length of the returned path.
	RecordPath(steps int, duration time.Duration, err error)

	// RecordIngest is called when an ingestion job finishes.
	// atoms is the total number of atoms the job processed.
	RecordIngest(atoms uint64, duration time.Duration, err error)

	// RecordSnapshot is called after each snapshot save.
	RecordSnapshot(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIntern(time.Duration, error)           {}
func (NoopMetricsCollector) RecordReconstruct(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordPath(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordIngest(uint64, time.Duration, error)   {}
func (NoopMetricsCollector) RecordSnapshot(time.Duration, error)         {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InternCount      atomic.Int64
	InternErrors     atomic.Int64
	InternTotalNanos atomic.Int64
	ReconstructCount atomic.Int64
	ReconstructBytes atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	PathCount        atomic.Int64
	PathErrors       atomic.Int64
	IngestCount      atomic.Int64
	IngestErrors     atomic.Int64
	IngestAtoms      atomic.Int64
	SnapshotCount    atomic.Int64
	SnapshotErrors   atomic.Int64
}

// RecordIntern implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIntern(duration time.Duration, err error) {
	b.InternCount.Add(1)
	b.InternTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InternErrors.Add(1)
	}
}

// RecordReconstruct implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReconstruct(bytes int, duration time.Duration, err error) {
	b.ReconstructCount.Add(1)
	if err == nil {
		b.ReconstructBytes.Add(int64(bytes))
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(k int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordPath implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPath(steps int, duration time.Duration, err error) {
	b.PathCount.Add(1)
	if err != nil {
		b.PathErrors.Add(1)
	}
}

// RecordIngest implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIngest(atoms uint64, duration time.Duration, err error) {
	b.IngestCount.Add(1)
	b.IngestAtoms.Add(int64(atoms))
	if err != nil {
		b.IngestErrors.Add(1)
	}
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(duration time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InternCount:      b.InternCount.Load(),
		InternErrors:     b.InternErrors.Load(),
		InternAvgNanos:   b.getAvgInternNanos(),
		ReconstructCount: b.ReconstructCount.Load(),
		ReconstructBytes: b.ReconstructBytes.Load(),
		SearchCount:      b.SearchCount.Load(),
		SearchErrors:     b.SearchErrors.Load(),
		SearchAvgNanos:   b.getAvgSearchNanos(),
		PathCount:        b.PathCount.Load(),
		PathErrors:       b.PathErrors.Load(),
		IngestCount:      b.IngestCount.Load(),
		IngestErrors:     b.IngestErrors.Load(),
		IngestAtoms:      b.IngestAtoms.Load(),
		SnapshotCount:    b.SnapshotCount.Load(),
		SnapshotErrors:   b.SnapshotErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgInternNanos() int64 {
	count := b.InternCount.Load()
	if count == 0 {
		return 0
	}
	return b.InternTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgSearchNanos() int64 {
	count := b.SearchCount.Load()
	if count == 0 {
		return 0
	}
	return b.SearchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InternCount      int64
	InternErrors     int64
	InternAvgNanos   int64
	ReconstructCount int64
	ReconstructBytes int64
	SearchCount      int64
	SearchErrors     int64
	SearchAvgNanos   int64
	PathCount        int64
	PathErrors       int64
	IngestCount      int64
	IngestErrors     int64
	IngestAtoms      int64
	SnapshotCount    int64
	SnapshotErrors   int64
}
