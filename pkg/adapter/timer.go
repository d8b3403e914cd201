package adapter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/somabus/soma/pkg/schema"
)

// TimerTick is the simplest active adapter: it publishes one SCHEDULE
// observation per interval to the system session, driving the core's
// tick fan-out. Observe failures become pain alerts.
type TimerTick struct {
	name       string
	scheduleID string
	sessionKey string
	interval   time.Duration
	cooldown   CooldownChecker

	// Observe produces the tick payload data; overridable for tests.
	Observe func(tick int64) (map[string]any, error)

	mu        sync.Mutex
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	started   bool
	tickCount int64
}

// NewTimerTick builds a timer adapter ticking every interval.
func NewTimerTick(name, sessionKey string, interval time.Duration, cooldown CooldownChecker) *TimerTick {
	if name == "" {
		name = "timer_tick"
	}
	if sessionKey == "" {
		sessionKey = "system"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if cooldown == nil {
		cooldown = NoCooldown
	}
	return &TimerTick{
		name:       name,
		scheduleID: "tick",
		sessionKey: sessionKey,
		interval:   interval,
		cooldown:   cooldown,
		stopCh:     make(chan struct{}),
	}
}

// Name implements Adapter.
func (t *TimerTick) Name() string { return t.name }

// Start launches the tick loop. Idempotent.
func (t *TimerTick) Start(ctx context.Context, pub Publisher) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}
	t.started = true

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopCh:
				return
			case now := <-ticker.C:
				t.tick(pub, now)
			}
		}
	}()
	slog.Info("Timer adapter started", "name", t.name, "interval", t.interval)
	return nil
}

func (t *TimerTick) tick(pub Publisher, now time.Time) {
	if t.cooldown.AdapterDisabled(t.name, now) {
		return
	}

	t.mu.Lock()
	t.tickCount++
	tick := t.tickCount
	t.mu.Unlock()

	data := map[string]any{"tick": tick, "ts_iso": now.UTC().Format(time.RFC3339)}
	if t.Observe != nil {
		extra, err := t.Observe(tick)
		if err != nil {
			pub.PublishNowait(observeError(t.name, err))
			return
		}
		for k, v := range extra {
			data[k] = v
		}
	}

	obs := schema.NewSchedule("adapter:"+t.name, t.sessionKey, t.scheduleID, data)
	if res := pub.PublishNowait(obs); res.Dropped {
		slog.Debug("Tick dropped", "name", t.name, "reason", res.Reason)
	}
}

// Stop terminates the loop and waits for it to exit.
func (t *TimerTick) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}
