// Package reflex applies bounded runtime tuning suggestions. The agent (or
// an operator via CONTROL observations) may suggest gate overrides; only
// whitelisted fields are honored, each application carries a TTL, and a
// cooldown rate-limits how often suggestions are accepted.
package reflex

import (
	"log/slog"
	"sync"
	"time"

	"github.com/somabus/soma/pkg/gate"
	"github.com/somabus/soma/pkg/schema"
)

// SourceName marks observations emitted by the controller.
const SourceName = "system_reflex"

// Config bounds what suggestions may do.
type Config struct {
	AllowAgentSuggestions   bool
	SuggestionTTLDefaultSec int
	SuggestionCooldownSec   int
	AgentOverrideWhitelist  []string
}

// DefaultConfig permits only force_low_model, with a 60s default TTL and a
// 5s cooldown between applications.
func DefaultConfig() Config {
	return Config{
		AllowAgentSuggestions:   true,
		SuggestionTTLDefaultSec: 60,
		SuggestionCooldownSec:   5,
		AgentOverrideWhitelist:  []string{gate.OverrideForceLowModel},
	}
}

// Controller consumes tuning_suggestion CONTROL observations on the system
// session and drives the gate provider's runtime overrides.
type Controller struct {
	provider         *gate.Provider
	cfg              Config
	systemSessionKey string

	mu              sync.Mutex
	activeUntil     time.Time
	lastApplied     time.Time
	activeOverrides map[string]bool
}

// NewController builds a controller over the given provider.
func NewController(provider *gate.Provider, cfg Config, systemSessionKey string) *Controller {
	if systemSessionKey == "" {
		systemSessionKey = "system"
	}
	if cfg.SuggestionTTLDefaultSec <= 0 {
		cfg.SuggestionTTLDefaultSec = 60
	}
	if cfg.SuggestionCooldownSec <= 0 {
		cfg.SuggestionCooldownSec = 5
	}
	return &Controller{
		provider:         provider,
		cfg:              cfg,
		systemSessionKey: systemSessionKey,
		activeOverrides:  make(map[string]bool),
	}
}

// HandleObservation processes one observation from the system session and
// returns the control observations to publish. Every call also evaluates
// the TTL of a previously applied suggestion, so any system-session
// traffic can trigger the revert.
func (c *Controller) HandleObservation(obs *schema.Observation, now time.Time) []*schema.Observation {
	var emits []*schema.Observation

	if p, ok := obs.Control(); ok && p.Kind == "tuning_suggestion" {
		emits = append(emits, c.handleSuggestion(p, now)...)
	}
	emits = append(emits, c.evaluateTTL(now)...)
	return emits
}

func (c *Controller) handleSuggestion(p *schema.ControlPayload, now time.Time) []*schema.Observation {
	if !c.cfg.AllowAgentSuggestions {
		return []*schema.Observation{c.tuningApplied(false, nil, "agent_suggestion_disabled", now)}
	}

	allowed := c.filterWhitelisted(p.Data["suggested_overrides"])
	if len(allowed) == 0 {
		return []*schema.Observation{c.tuningApplied(false, nil, "no_allowed_overrides", now)}
	}

	ttl := clampTTL(p.Data["ttl_sec"], c.cfg.SuggestionTTLDefaultSec)

	c.mu.Lock()
	defer c.mu.Unlock()

	cooldown := time.Duration(c.cfg.SuggestionCooldownSec) * time.Second
	if !c.lastApplied.IsZero() && now.Sub(c.lastApplied) < cooldown {
		return []*schema.Observation{c.tuningApplied(false, nil, "cooldown", now)}
	}

	changed := c.provider.ApplyOverrides(allowed)
	if changed {
		c.activeUntil = now.Add(ttl)
		c.lastApplied = now
		c.activeOverrides = allowed
		slog.Info("Tuning suggestion applied", "overrides", allowed, "ttl", ttl)
	}

	applied := map[string]bool(nil)
	if changed {
		applied = allowed
	}
	emits := []*schema.Observation{c.tuningApplied(changed, applied, "agent_suggestion", now)}
	if changed {
		emits = append(emits, c.systemModeChanged("agent_suggestion", now))
	}
	return emits
}

// evaluateTTL reverts an expired suggestion.
func (c *Controller) evaluateTTL(now time.Time) []*schema.Observation {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeUntil.IsZero() || !now.After(c.activeUntil) {
		return nil
	}

	revert := make(map[string]bool, len(c.activeOverrides))
	for key := range c.activeOverrides {
		revert[key] = false
	}
	changed := c.provider.ApplyOverrides(revert)
	c.activeUntil = time.Time{}
	c.activeOverrides = make(map[string]bool)

	applied := map[string]bool(nil)
	if changed {
		applied = revert
		slog.Info("Tuning suggestion expired, overrides reverted", "overrides", revert)
	}
	emits := []*schema.Observation{c.tuningApplied(changed, applied, "ttl_expired", now)}
	if changed {
		emits = append(emits, c.systemModeChanged("ttl_expired", now))
	}
	return emits
}

// filterWhitelisted keeps only whitelisted boolean overrides from the
// suggested_overrides payload field.
func (c *Controller) filterWhitelisted(raw any) map[string]bool {
	suggested, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	allowed := make(map[string]bool)
	for key, val := range suggested {
		if !c.whitelisted(key) {
			continue
		}
		if b, ok := val.(bool); ok {
			allowed[key] = b
		}
	}
	return allowed
}

func (c *Controller) whitelisted(key string) bool {
	for _, w := range c.cfg.AgentOverrideWhitelist {
		if w == key {
			return true
		}
	}
	return false
}

func clampTTL(raw any, fallback int) time.Duration {
	ttl := fallback
	switch v := raw.(type) {
	case int:
		ttl = v
	case int64:
		ttl = int(v)
	case float64:
		ttl = int(v)
	}
	if ttl < 1 {
		ttl = 1
	}
	if ttl > 3600 {
		ttl = 3600
	}
	return time.Duration(ttl) * time.Second
}

func (c *Controller) tuningApplied(accepted bool, applied map[string]bool, reason string, now time.Time) *schema.Observation {
	overrides := make(map[string]any, len(applied))
	for k, v := range applied {
		overrides[k] = v
	}
	return schema.NewControl(SourceName, c.systemSessionKey, "tuning_applied", map[string]any{
		"scope":             "global",
		"applied_overrides": overrides,
		"accepted":          accepted,
		"reason":            reason,
		"ts":                now.UTC().Unix(),
	})
}

func (c *Controller) systemModeChanged(reason string, now time.Time) *schema.Observation {
	ov := c.provider.Snapshot().Overrides
	return schema.NewControl(SourceName, c.systemSessionKey, "system_mode_changed", map[string]any{
		"scope": "global",
		"mode": map[string]any{
			"emergency_mode":  ov.EmergencyMode,
			"force_low_model": ov.ForceLowModel,
		},
		"reason": reason,
		"ts":     now.UTC().Unix(),
	})
}
