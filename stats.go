package udns

import (
	"expvar"
	"sync/atomic"
	"time"
)

// CounterSink receives statistics updates from a resolver. Implementations
// must be safe for use from concurrent resolve calls.
type CounterSink interface {
	AddQuery()
	AddCacheHit()
	AddCacheMiss()
	AddFailure()
	AddResolutionTime(d time.Duration)
}

// Stats is the default counter sink. The individual counters are atomic
// and mirrored to expvar under the "udns.resolver" namespace.
type Stats struct {
	totalQueries   uint64
	cacheHits      uint64
	cacheMisses    uint64
	failedQueries  uint64
	resolutionTime int64 // cumulative nanoseconds

	metrics *statsMetrics
}

var _ CounterSink = &Stats{}

type statsMetrics struct {
	query   *expvar.Int
	hit     *expvar.Int
	miss    *expvar.Int
	failure *expvar.Int
}

// NewStats returns a counter sink publishing its values to expvar under
// the given id.
func NewStats(id string) *Stats {
	return &Stats{
		metrics: &statsMetrics{
			query:   getVarInt("resolver", id, "query"),
			hit:     getVarInt("resolver", id, "hit"),
			miss:    getVarInt("resolver", id, "miss"),
			failure: getVarInt("resolver", id, "failure"),
		},
	}
}

func (s *Stats) AddQuery() {
	atomic.AddUint64(&s.totalQueries, 1)
	s.metrics.query.Add(1)
}

func (s *Stats) AddCacheHit() {
	atomic.AddUint64(&s.cacheHits, 1)
	s.metrics.hit.Add(1)
}

func (s *Stats) AddCacheMiss() {
	atomic.AddUint64(&s.cacheMisses, 1)
	s.metrics.miss.Add(1)
}

func (s *Stats) AddFailure() {
	atomic.AddUint64(&s.failedQueries, 1)
	s.metrics.failure.Add(1)
}

func (s *Stats) AddResolutionTime(d time.Duration) {
	atomic.AddInt64(&s.resolutionTime, int64(d))
}

// StatsSnapshot is a point-in-time view of the counters.
type StatsSnapshot struct {
	TotalQueries        uint64
	CacheHits           uint64
	CacheMisses         uint64
	FailedQueries       uint64
	TotalResolutionTime time.Duration
}

// Snapshot reads all counters. The counters are updated independently, so
// the hit/miss/failure values are loaded before the query total to keep
// TotalQueries >= CacheHits+CacheMisses in the returned view.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		CacheHits:           atomic.LoadUint64(&s.cacheHits),
		CacheMisses:         atomic.LoadUint64(&s.cacheMisses),
		FailedQueries:       atomic.LoadUint64(&s.failedQueries),
		TotalResolutionTime: time.Duration(atomic.LoadInt64(&s.resolutionTime)),
	}
	snap.TotalQueries = atomic.LoadUint64(&s.totalQueries)
	return snap
}

// HitRate returns the fraction of queries answered from the cache, 0 if
// there were no queries.
func (s StatsSnapshot) HitRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.TotalQueries)
}

// AvgResolutionTime returns the mean time spent per query, 0 if there
// were no queries.
func (s StatsSnapshot) AvgResolutionTime() time.Duration {
	if s.TotalQueries == 0 {
		return 0
	}
	return s.TotalResolutionTime / time.Duration(s.TotalQueries)
}
