package gate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Override keys accepted by Provider.ApplyOverrides. These are the only
// fields the reflex controller may toggle at runtime.
const (
	OverrideForceLowModel = "force_low_model"
	OverrideEmergencyMode = "emergency_mode"
)

// Provider owns the current gate configuration snapshot. The snapshot is
// immutable and swapped atomically; readers call Snapshot once per
// observation to avoid torn reads.
type Provider struct {
	ref  atomic.Pointer[Config]
	path string
	mu   sync.Mutex // serializes reloads and override updates
}

// NewProvider wraps an in-memory config. Used by tests and embedders that
// manage their own config source.
func NewProvider(cfg *Config) *Provider {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &Provider{}
	p.ref.Store(cfg)
	return p
}

// NewProviderFromFile loads the config document at path. A load failure is
// returned to the caller; the provider is still usable with defaults.
func NewProviderFromFile(path string) (*Provider, error) {
	p := &Provider{path: path}
	cfg, err := LoadConfig(path)
	if err != nil {
		p.ref.Store(DefaultConfig())
		return p, err
	}
	p.ref.Store(cfg)
	return p, nil
}

// Snapshot returns the current immutable config.
func (p *Provider) Snapshot() *Config {
	return p.ref.Load()
}

// Replace swaps in a whole new snapshot.
func (p *Provider) Replace(cfg *Config) {
	if cfg == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ref.Store(cfg)
}

// ApplyOverrides toggles whitelisted boolean overrides by publishing a new
// snapshot. Returns true when the snapshot actually changed. Unknown keys
// are ignored.
func (p *Provider) ApplyOverrides(changes map[string]bool) bool {
	if len(changes) == 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.ref.Load()
	ov := current.Overrides
	for key, val := range changes {
		switch key {
		case OverrideForceLowModel:
			ov.ForceLowModel = val
		case OverrideEmergencyMode:
			ov.EmergencyMode = val
		}
	}
	// Only the two booleans are mutable here; the slice fields never change.
	if ov.ForceLowModel == current.Overrides.ForceLowModel &&
		ov.EmergencyMode == current.Overrides.EmergencyMode {
		return false
	}
	p.ref.Store(current.WithOverrides(ov))
	return true
}

// Reload re-reads the config file. On failure the old snapshot is kept
// and the error returned. Runtime boolean overrides survive a reload only
// if present in the file; the reflex controller re-asserts its own.
func (p *Provider) Reload() error {
	if p.path == "" {
		return nil
	}
	cfg, err := LoadConfig(p.path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ref.Store(cfg)
	return nil
}

// Watch re-loads the config whenever the file changes, until the context
// is cancelled. Reload failures keep the previous snapshot.
func (p *Provider) Watch(ctx context.Context) error {
	if p.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(p.path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		// Editors often emit bursts of events per save; debounce them.
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					pending = time.After(200 * time.Millisecond)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Gate config watcher error", "error", err)
			case <-pending:
				pending = nil
				if err := p.Reload(); err != nil {
					slog.Warn("Gate config reload failed, keeping previous snapshot", "error", err)
				} else {
					slog.Info("Gate config reloaded", "path", p.path)
				}
			}
		}
	}()
	return nil
}
