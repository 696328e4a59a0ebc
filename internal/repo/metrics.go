package repo

import "sync/atomic"

// Metrics counts cache effectiveness and origin traffic.
type Metrics struct {
	hits           atomic.Uint64
	misses         atomic.Uint64
	originReads    atomic.Uint64
	originWrites   atomic.Uint64
	originReadErr  atomic.Uint64
	originWriteErr atomic.Uint64
}

type MetricsSnapshot struct {
	Hits           uint64 `json:"hits"`
	Misses         uint64 `json:"misses"`
	OriginReads    uint64 `json:"origin_reads"`
	OriginWrites   uint64 `json:"origin_writes"`
	OriginReadErr  uint64 `json:"origin_read_errors"`
	OriginWriteErr uint64 `json:"origin_write_errors"`
}

func (r *Repository) Metrics() MetricsSnapshot {
	if r == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Hits:           r.metrics.hits.Load(),
		Misses:         r.metrics.misses.Load(),
		OriginReads:    r.metrics.originReads.Load(),
		OriginWrites:   r.metrics.originWrites.Load(),
		OriginReadErr:  r.metrics.originReadErr.Load(),
		OriginWriteErr: r.metrics.originWriteErr.Load(),
	}
}
