package gate

import (
	"sync"
	"time"
)

// dropMonitor tracks dropped observations in a sliding time window plus a
// consecutive-drop counter. The window prunes by age, the consecutive
// counter resets when any non-dropped observation passes through.
type dropMonitor struct {
	mu sync.Mutex

	timestamps  []time.Time
	consecCount int
}

func newDropMonitor() *dropMonitor {
	return &dropMonitor{}
}

// recordDrop registers one drop at now and reports whether either burst
// condition is met. The thresholds come from the caller's config snapshot
// so hot reloads take effect without rebuilding the gate.
func (m *dropMonitor) recordDrop(now time.Time, cfg DropEscalation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timestamps = append(m.timestamps, now)
	m.consecCount++

	cutoff := now.Add(-time.Duration(cfg.BurstWindowSec * float64(time.Second)))
	i := 0
	for i < len(m.timestamps) && m.timestamps[i].Before(cutoff) {
		i++
	}
	m.timestamps = m.timestamps[i:]

	return len(m.timestamps) >= cfg.BurstCountThreshold || m.consecCount >= cfg.ConsecutiveThreshold
}

// resetConsecutive clears the consecutive counter. Called for any
// observation that is not dropped by the hard-bypass stage.
func (m *dropMonitor) resetConsecutive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecCount = 0
}
