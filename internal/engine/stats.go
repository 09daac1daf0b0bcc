package engine

import (
	"sync/atomic"
	"time"
)

// Stats is the process-wide view of engine activity.
type Stats struct {
	ActiveSessions      int     `json:"active_sessions"`
	SessionsStarted     uint64  `json:"sessions_started"`
	SessionsEnded       uint64  `json:"sessions_ended"`
	AlertsGenerated     uint64  `json:"alerts_generated"`
	ProcessingCalls     uint64  `json:"processing_calls"`
	AvgProcessingMillis float64 `json:"avg_processing_ms"`
}

// statsCollector aggregates cross-session counters with atomics so it never
// contends with the per-session locks.
type statsCollector struct {
	sessionsStarted atomic.Uint64
	sessionsEnded   atomic.Uint64
	alertsGenerated atomic.Uint64
	processingCalls atomic.Uint64
	processingNanos atomic.Int64
}

func (c *statsCollector) recordEvaluation(dur time.Duration, accepted int) {
	c.processingCalls.Add(1)
	c.processingNanos.Add(int64(dur))
	c.alertsGenerated.Add(uint64(accepted))
}

func (c *statsCollector) snapshot(active int) Stats {
	calls := c.processingCalls.Load()
	var avg float64
	if calls > 0 {
		avg = float64(c.processingNanos.Load()) / float64(calls) / float64(time.Millisecond)
	}
	return Stats{
		ActiveSessions:      active,
		SessionsStarted:     c.sessionsStarted.Load(),
		SessionsEnded:       c.sessionsEnded.Load(),
		AlertsGenerated:     c.alertsGenerated.Load(),
		ProcessingCalls:     calls,
		AvgProcessingMillis: avg,
	}
}
