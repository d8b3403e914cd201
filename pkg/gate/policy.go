package gate

import (
	"github.com/somabus/soma/pkg/schema"
)

// policyMapper turns the score, the pending action hint, and the runtime
// overrides into the final action plus the resource hint. Checks apply in
// strict priority order; the first match terminates the stage.
type policyMapper struct{}

func (policyMapper) name() string { return "policy" }

func (policyMapper) apply(obs *schema.Observation, ctx *Context, w *wip) {
	policy := ctx.Config.ScenePolicy(w.scene)
	overrides := ctx.Config.Overrides

	w.modelTier = policy.DefaultModelTier
	w.responsePolicy = policy.DefaultResponsePolicy

	// Emergency mode outranks everything, including the safety valve.
	if overrides.EmergencyMode {
		w.actionHint = ActionSink
		w.modelTier = TierLow
		w.reasons = append(w.reasons, "emergency_mode")
		w.hint = emergencyHint(ctx.Config, w)
		return
	}

	// User-visible dialogue must never be silently sunk by low scoring.
	// Drops (empty content, dedup, overload) still win.
	if w.scene == SceneDialogue && obs.Actor.ActorType == schema.ActorUser && w.actionHint != ActionDrop {
		if _, ok := obs.Message(); ok {
			w.actionHint = ActionDeliver
			w.reasons = append(w.reasons, "user_dialogue_safe_valve")
			w.hint = buildHint(ctx.Config, w, "user_dialogue_safe_valve")
			return
		}
	}

	if contains(overrides.DropSessions, obs.SessionKey) || contains(overrides.DropActors, obs.Actor.ActorID) {
		w.actionHint = ActionDrop
		w.reasons = append(w.reasons, "override_drop")
		w.hint = buildHint(ctx.Config, w, "override_drop")
		return
	}

	// Deliver overrides are suppressed for agent-originated observations
	// to break feedback loops.
	if !obs.AgentOriginated() &&
		(contains(overrides.DeliverSessions, obs.SessionKey) || contains(overrides.DeliverActors, obs.Actor.ActorID)) {
		w.actionHint = ActionDeliver
		w.reasons = append(w.reasons, "override_deliver")
		w.hint = buildHint(ctx.Config, w, "override_deliver")
		return
	}

	// An earlier stage already decided (empty content, dedup, overload).
	if w.actionHint != "" {
		w.reasons = append(w.reasons, "action_hint")
		w.hint = buildHint(ctx.Config, w, "action_hint")
		return
	}

	switch {
	case w.score >= policy.DeliverThreshold:
		w.actionHint = ActionDeliver
	case w.score >= policy.SinkThreshold:
		w.actionHint = ActionSink
	default:
		w.actionHint = policy.DefaultAction
	}

	if overrides.ForceLowModel && w.actionHint == ActionDeliver {
		w.modelTier = TierLow
		w.reasons = append(w.reasons, "force_low_model")
	}
	w.hint = buildHint(ctx.Config, w, scoreTag(ctx.Config, w.score))
}

func scoreTag(cfg *Config, score float64) string {
	switch {
	case score >= cfg.BudgetThresholds.HighScore:
		return "score_high"
	case score >= cfg.BudgetThresholds.MediumScore:
		return "score_medium"
	default:
		return "score_low"
	}
}

func buildHint(cfg *Config, w *wip, reasonTags ...string) *Hint {
	return &Hint{
		ModelTier:      w.modelTier,
		ResponsePolicy: w.responsePolicy,
		Budget:         cfg.SelectBudget(w.score, w.scene),
		ReasonTags:     reasonTags,
	}
}

// emergencyHint is the tiny profile with evidence and tools hard-disabled
// and the deadline cut to 300ms.
func emergencyHint(cfg *Config, w *wip) *Hint {
	budget := cfg.BudgetProfile(BudgetTiny)
	budget.EvidenceAllowed = false
	budget.MaxToolCalls = 0
	budget.TimeMS = 300
	return &Hint{
		ModelTier:      TierLow,
		ResponsePolicy: w.responsePolicy,
		Budget:         budget,
		ReasonTags:     []string{"emergency_mode"},
	}
}
