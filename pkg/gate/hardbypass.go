package gate

import (
	"github.com/somabus/soma/pkg/nociception"
	"github.com/somabus/soma/pkg/schema"
)

// hardBypass is the only stage allowed to short-circuit the pipeline on
// overload. It also runs the drop-burst monitor: empty-content messages
// are dropped here, and sustained drops escalate into a pain alert on the
// system session.
type hardBypass struct {
	monitor *dropMonitor
}

func newHardBypass() *hardBypass {
	return &hardBypass{monitor: newDropMonitor()}
}

func (*hardBypass) name() string { return "hard_bypass" }

func (h *hardBypass) apply(obs *schema.Observation, ctx *Context, w *wip) {
	cfg := ctx.Config.DropEscalation

	// Overload guard: everything drops, no exemptions. The pain emit is
	// suppressed for alerts and agent-originated observations, otherwise a
	// dropped pain alert (or the agent's own reply) would spawn another
	// pain alert and feed back forever.
	if ctx.SystemHealth != nil && ctx.SystemHealth.Overload {
		w.actionHint = ActionDrop
		w.reasons = append(w.reasons, "system_overload")
		if obs.ObsType == schema.ObsAlert || obs.AgentOriginated() {
			return
		}
		w.emit = append(w.emit, nociception.NewPainAlert(nociception.PainParams{
			SourceKind: "system",
			SourceID:   "gate_overload",
			AlertType:  "gate_overload",
			Severity:   schema.SeverityHigh,
			Message:    "gate overload detected",
			SessionKey: ctx.SystemSessionKey,
			Data:       map[string]any{"cooldown_seconds": cfg.CooldownSuggestSec},
		}))
		return
	}

	// Empty-content messages are pure noise.
	if p, ok := obs.Message(); ok && p.Empty() {
		w.actionHint = ActionDrop
		w.reasons = append(w.reasons, "empty_content")
	}

	if w.actionHint == ActionDrop {
		if h.monitor.recordDrop(ctx.Now, cfg) {
			w.tags["drop_burst"] = "true"
			w.emit = append(w.emit, nociception.NewPainAlert(nociception.PainParams{
				SourceKind: "gate",
				SourceID:   "drop_burst",
				AlertType:  "drop_burst",
				Severity:   schema.SeverityMedium,
				Message:    "drop burst detected",
				SessionKey: ctx.SystemSessionKey,
				Data: map[string]any{
					"burst_window_sec":      cfg.BurstWindowSec,
					"burst_count_threshold": cfg.BurstCountThreshold,
					"consecutive_threshold": cfg.ConsecutiveThreshold,
					"cooldown_seconds":      cfg.CooldownSuggestSec,
				},
			}))
		}
		return
	}

	h.monitor.resetConsecutive()
}
