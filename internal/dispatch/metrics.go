package dispatch

import (
	"sync/atomic"
	"time"
)

// RunMetrics keeps in-process counters for the periodic log report. The
// prometheus series in pkg/prom carry the same numbers for scraping.
type RunMetrics struct {
	runsCompleted   int64
	runsAborted     int64
	recipientsSent  int64
	recipientsFail  int64
	totalDurationNs int64
	lastResetNs     int64
}

func NewRunMetrics() *RunMetrics {
	return &RunMetrics{
		lastResetNs: time.Now().UnixNano(),
	}
}

func (m *RunMetrics) RecordRun(res RunResult) {
	switch res.State {
	case StateCompleted:
		atomic.AddInt64(&m.runsCompleted, 1)
	case StateAborted:
		atomic.AddInt64(&m.runsAborted, 1)
	}
	atomic.AddInt64(&m.recipientsSent, int64(res.Sent))
	atomic.AddInt64(&m.recipientsFail, int64(res.Failed))
	atomic.AddInt64(&m.totalDurationNs, int64(res.Duration))
}

func (m *RunMetrics) GetStats() map[string]interface{} {
	completed := atomic.LoadInt64(&m.runsCompleted)
	aborted := atomic.LoadInt64(&m.runsAborted)
	sent := atomic.LoadInt64(&m.recipientsSent)
	failed := atomic.LoadInt64(&m.recipientsFail)
	durationNs := atomic.LoadInt64(&m.totalDurationNs)
	lastResetNs := atomic.LoadInt64(&m.lastResetNs)

	elapsed := time.Since(time.Unix(0, lastResetNs)).Seconds()

	rate := 0.0
	if elapsed > 0 {
		rate = float64(sent+failed) / elapsed
	}

	avgRun := time.Duration(0)
	if runs := completed + aborted; runs > 0 {
		avgRun = time.Duration(durationNs / runs)
	}

	return map[string]interface{}{
		"runs_completed":     completed,
		"runs_aborted":       aborted,
		"recipients_sent":    sent,
		"recipients_failed":  failed,
		"attempts_per_sec":   rate,
		"avg_run_duration_s": avgRun.Seconds(),
		"uptime_seconds":     elapsed,
	}
}

func (m *RunMetrics) Reset() {
	atomic.StoreInt64(&m.runsCompleted, 0)
	atomic.StoreInt64(&m.runsAborted, 0)
	atomic.StoreInt64(&m.recipientsSent, 0)
	atomic.StoreInt64(&m.recipientsFail, 0)
	atomic.StoreInt64(&m.totalDurationNs, 0)
	atomic.StoreInt64(&m.lastResetNs, time.Now().UnixNano())
}
