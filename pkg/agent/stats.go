package agent

import "sync/atomic"

// Stats tracks per-agent invocation counters. Multiple tasks may invoke
// the same agent concurrently, so all updates are lock-free increments.
type Stats struct {
	invocations    atomic.Int64
	successes      atomic.Int64
	totalLatencyMs atomic.Int64
}

// StatsSnapshot is a read-only copy of the counters.
type StatsSnapshot struct {
	Invocations    int64
	Successes      int64
	TotalLatencyMs int64
}

func (s *Stats) recordSuccess(latencyMs int64) {
	s.invocations.Add(1)
	s.successes.Add(1)
	s.totalLatencyMs.Add(latencyMs)
}

func (s *Stats) recordFailure(latencyMs int64) {
	s.invocations.Add(1)
	s.totalLatencyMs.Add(latencyMs)
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Invocations:    s.invocations.Load(),
		Successes:      s.successes.Load(),
		TotalLatencyMs: s.totalLatencyMs.Load(),
	}
}
