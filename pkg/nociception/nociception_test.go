package nociception

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/somabus/soma/pkg/schema"
)

func TestNewPainAlert(t *testing.T) {
	obs := NewPainAlert(PainParams{
		SourceKind: "adapter",
		SourceID:   "timer",
		Message:    "tick handler failed",
		Tags:       []string{"exception"},
	})

	assert.Equal(t, schema.ObsAlert, obs.ObsType)
	assert.Equal(t, "adapter:timer", obs.SourceName)
	assert.Equal(t, "system", obs.SessionKey)
	assert.Equal(t, schema.SourceInternal, obs.SourceKind)

	p, ok := obs.Alert()
	require.True(t, ok)
	assert.Equal(t, "pain", p.AlertType)
	assert.Equal(t, schema.SeverityMedium, p.Severity)
	assert.Equal(t, "adapter", p.Data["source_kind"])
	assert.Equal(t, "timer", p.Data["source_id"])

	require.NoError(t, obs.Validate())
}

func TestExtractPainKey(t *testing.T) {
	tests := []struct {
		name string
		obs  *schema.Observation
		want string
	}{
		{
			name: "standard pain alert",
			obs:  NewPainAlert(PainParams{SourceKind: "adapter", SourceID: "text_input"}),
			want: "adapter:text_input",
		},
		{
			name: "alert without convention fields",
			obs:  schema.NewAlert("something", "system", "misc", schema.SeverityLow, "", nil),
			want: "unknown:unknown",
		},
		{
			name: "non-alert observation",
			obs:  schema.New(schema.ObsSystem, "core", schema.SourceInternal, &schema.SystemPayload{Kind: "tick"}),
			want: "unknown:unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractPainKey(tt.obs))
		})
	}
}

func TestMonitorAdapterCooldownOnBurst(t *testing.T) {
	m := NewMonitor(Config{
		PainWindow:         time.Minute,
		PainBurstThreshold: 3,
		AdapterCooldown:    5 * time.Minute,
	})
	now := time.Now()

	pain := func() *schema.Observation {
		return NewPainAlert(PainParams{SourceKind: "adapter", SourceID: "timer"})
	}

	m.ObservePain(pain(), now)
	m.ObservePain(pain(), now.Add(time.Second))
	assert.False(t, m.AdapterDisabled("timer", now.Add(2*time.Second)))

	m.ObservePain(pain(), now.Add(2*time.Second))
	assert.True(t, m.AdapterDisabled("timer", now.Add(3*time.Second)))
	assert.True(t, m.FanoutSuppressed(now.Add(3*time.Second)))

	// Cooldown expires.
	assert.False(t, m.AdapterDisabled("timer", now.Add(6*time.Minute)))
}

func TestMonitorBurstWindowSlides(t *testing.T) {
	m := NewMonitor(Config{
		PainWindow:         10 * time.Second,
		PainBurstThreshold: 3,
	})
	now := time.Now()

	pain := NewPainAlert(PainParams{SourceKind: "adapter", SourceID: "timer"})
	m.ObservePain(pain, now)
	m.ObservePain(pain, now.Add(time.Second))
	// Third pain arrives after the first two left the window.
	m.ObservePain(pain, now.Add(30*time.Second))

	assert.False(t, m.AdapterDisabled("timer", now.Add(31*time.Second)))
}

func TestMonitorNonAdapterBurstDoesNotCooldown(t *testing.T) {
	m := NewMonitor(Config{PainBurstThreshold: 2})
	now := time.Now()

	pain := NewPainAlert(PainParams{SourceKind: "gate", SourceID: "drop_burst"})
	m.ObservePain(pain, now)
	m.ObservePain(pain, now.Add(time.Second))

	assert.False(t, m.AdapterDisabled("drop_burst", now.Add(2*time.Second)))
	assert.False(t, m.FanoutSuppressed(now.Add(2*time.Second)))
}

func TestMonitorObserveDrops(t *testing.T) {
	m := NewMonitor(Config{DropBurstThreshold: 50, FanoutSuppress: time.Minute})
	now := time.Now()

	assert.Nil(t, m.ObserveDrops(10, now))
	assert.False(t, m.FanoutSuppressed(now))

	// 60 new drops since the previous tick.
	alert := m.ObserveDrops(70, now.Add(30*time.Second))
	require.NotNil(t, alert)
	p, ok := alert.Alert()
	require.True(t, ok)
	assert.Equal(t, schema.SeverityHigh, p.Severity)
	assert.Equal(t, int64(60), p.Data["drops_delta"])
	assert.True(t, m.FanoutSuppressed(now.Add(31*time.Second)))
	assert.False(t, m.FanoutSuppressed(now.Add(2*time.Minute)))
}

func TestMonitorSnapshot(t *testing.T) {
	m := NewMonitor(DefaultConfig())
	now := time.Now()

	m.ObservePain(NewPainAlert(PainParams{
		SourceKind:      "adapter",
		SourceID:        "timer",
		Severity:        schema.SeverityHigh,
		AffectedSession: "user:alice",
	}), now)

	stats := m.Snapshot(now)
	assert.Equal(t, int64(1), stats.PainTotal)
	assert.Equal(t, int64(1), stats.PainBySource["adapter:timer"])
	assert.Equal(t, int64(1), stats.PainBySeverity["high"])
	assert.Equal(t, int64(1), stats.PainBySession["user:alice"])
	assert.Empty(t, stats.AdaptersDisabled)
	assert.False(t, stats.FanoutSuppressed)
}
