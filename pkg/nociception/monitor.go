package nociception

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/somabus/soma/pkg/schema"
)

// Config holds the protection thresholds.
type Config struct {
	PainWindow         time.Duration
	PainBurstThreshold int
	AdapterCooldown    time.Duration
	DropBurstThreshold int64
	FanoutSuppress     time.Duration
}

// DefaultConfig returns the built-in protection thresholds.
func DefaultConfig() Config {
	return Config{
		PainWindow:         60 * time.Second,
		PainBurstThreshold: 5,
		AdapterCooldown:    300 * time.Second,
		DropBurstThreshold: 50,
		FanoutSuppress:     60 * time.Second,
	}
}

// Stats is a point-in-time snapshot of the monitor counters.
type Stats struct {
	PainTotal             int64
	PainBySource          map[string]int64
	PainBySeverity        map[string]int64
	PainBySession         map[string]int64
	AdaptersCooldownTotal int64
	DropsOverloadTotal    int64
	FanoutSkippedTotal    int64
	AdaptersDisabled      []string
	FanoutSuppressed      bool
}

// Monitor aggregates pain alerts per source over a sliding window and owns
// the two protective reflexes: per-adapter cooldowns and fan-out
// suppression. All methods are safe for concurrent use.
type Monitor struct {
	mu  sync.Mutex
	cfg Config

	painTimes    map[string][]time.Time
	disableUntil map[string]time.Time
	fanoutUntil  time.Time
	dropsLast    int64

	painTotal             int64
	painBySource          map[string]int64
	painBySeverity        map[string]int64
	painBySession         map[string]int64
	adaptersCooldownTotal int64
	dropsOverloadTotal    int64
	fanoutSkippedTotal    int64
}

// NewMonitor builds a monitor. Zero-valued config fields fall back to the
// defaults.
func NewMonitor(cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.PainWindow <= 0 {
		cfg.PainWindow = def.PainWindow
	}
	if cfg.PainBurstThreshold <= 0 {
		cfg.PainBurstThreshold = def.PainBurstThreshold
	}
	if cfg.AdapterCooldown <= 0 {
		cfg.AdapterCooldown = def.AdapterCooldown
	}
	if cfg.DropBurstThreshold <= 0 {
		cfg.DropBurstThreshold = def.DropBurstThreshold
	}
	if cfg.FanoutSuppress <= 0 {
		cfg.FanoutSuppress = def.FanoutSuppress
	}
	return &Monitor{
		cfg:            cfg,
		painTimes:      make(map[string][]time.Time),
		disableUntil:   make(map[string]time.Time),
		painBySource:   make(map[string]int64),
		painBySeverity: make(map[string]int64),
		painBySession:  make(map[string]int64),
	}
}

// ObservePain records one ALERT and applies the burst reflex: when an
// adapter source crosses the burst threshold it is put on cooldown and
// fan-out is suppressed alongside.
func (m *Monitor) ObservePain(obs *schema.Observation, now time.Time) {
	key := ExtractPainKey(obs)
	severity := ExtractPainSeverity(obs)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.painTotal++
	m.painBySource[key]++
	m.painBySeverity[severity]++
	if p, ok := obs.Alert(); ok {
		if affected, ok := p.Data["affected_session"].(string); ok && affected != "" {
			m.painBySession[affected]++
		}
	}

	window := append(m.painTimes[key], now)
	cutoff := now.Add(-m.cfg.PainWindow)
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	window = window[i:]
	m.painTimes[key] = window

	if len(window) >= m.cfg.PainBurstThreshold {
		kind, id := splitPainKey(key)
		if kind == "adapter" {
			until := now.Add(m.cfg.AdapterCooldown)
			m.disableUntil[id] = until
			m.adaptersCooldownTotal++
			m.fanoutUntil = now.Add(m.cfg.FanoutSuppress)
			slog.Warn("Adapter cooldown triggered",
				"adapter", id,
				"until", until,
				"pain_count", len(window))
		}
	}

	slog.Debug("Pain recorded", "source", key, "severity", severity, "count", len(window))
}

// ObserveDrops samples the bus drop counter on each system tick. When the
// delta since the previous tick crosses the burst threshold, fan-out is
// suppressed and a high-severity pain alert is returned for publishing.
func (m *Monitor) ObserveDrops(droppedTotal int64, now time.Time) *schema.Observation {
	m.mu.Lock()
	delta := droppedTotal - m.dropsLast
	m.dropsLast = droppedTotal
	if delta < m.cfg.DropBurstThreshold {
		m.mu.Unlock()
		return nil
	}
	m.dropsOverloadTotal++
	m.fanoutUntil = now.Add(m.cfg.FanoutSuppress)
	m.mu.Unlock()

	slog.Warn("Drop overload detected", "drops_delta", delta)
	return NewPainAlert(PainParams{
		SourceKind: "system",
		SourceID:   "drop_overload",
		Severity:   schema.SeverityHigh,
		Message:    "observation drop burst in last tick window",
		Data:       map[string]any{"drops_delta": delta},
	})
}

// AdapterDisabled reports whether the adapter is currently on cooldown.
func (m *Monitor) AdapterDisabled(sourceID string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return now.Before(m.disableUntil[sourceID])
}

// FanoutSuppressed reports whether system-tick fan-out should be skipped.
// Each suppressed check increments the skipped counter.
func (m *Monitor) FanoutSuppressed(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Before(m.fanoutUntil) {
		m.fanoutSkippedTotal++
		return true
	}
	return false
}

// Snapshot copies the counters for reporting.
func (m *Monitor) Snapshot(now time.Time) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	disabled := make([]string, 0, len(m.disableUntil))
	for id, until := range m.disableUntil {
		if now.Before(until) {
			disabled = append(disabled, id)
		}
	}
	sort.Strings(disabled)

	return Stats{
		PainTotal:             m.painTotal,
		PainBySource:          copyCounts(m.painBySource),
		PainBySeverity:        copyCounts(m.painBySeverity),
		PainBySession:         copyCounts(m.painBySession),
		AdaptersCooldownTotal: m.adaptersCooldownTotal,
		DropsOverloadTotal:    m.dropsOverloadTotal,
		FanoutSkippedTotal:    m.fanoutSkippedTotal,
		AdaptersDisabled:      disabled,
		FanoutSuppressed:      now.Before(m.fanoutUntil),
	}
}

func splitPainKey(key string) (kind, id string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return key, "unknown"
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
