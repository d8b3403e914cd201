package gate

import (
	"github.com/somabus/soma/pkg/schema"
)

// finalizeStage assembles the immutable decision and bumps the metrics.
// It must always produce a valid decision.
type finalizeStage struct{}

func (finalizeStage) name() string { return "finalize" }

func (finalizeStage) apply(obs *schema.Observation, ctx *Context, w *wip) {
	action := w.actionHint
	if action == "" {
		action = ActionSink
	}
	scene := w.scene
	if scene == "" {
		scene = SceneUnknown
	}
	policy := ctx.Config.ScenePolicy(scene)

	reasons := w.reasons
	if policy.MaxReasons > 0 && len(reasons) > policy.MaxReasons {
		reasons = reasons[:policy.MaxReasons]
	}

	hint := Hint{ModelTier: w.modelTier, ResponsePolicy: w.responsePolicy}
	if w.hint != nil {
		hint = *w.hint
	}

	targetWorker := ""
	if scene == SceneSystem {
		targetWorker = ctx.SystemSessionKey
	}

	// Observations published without a key were still routed somewhere;
	// record the resolved key from the owning session's state.
	sessionKey := obs.SessionKey
	if sessionKey == "" && ctx.SessionState != nil {
		sessionKey = ctx.SessionState.SessionKey()
	}

	w.decision = &Decision{
		Action:       action,
		Scene:        scene,
		SessionKey:   sessionKey,
		TargetWorker: targetWorker,
		Score:        w.score,
		Reasons:      reasons,
		Tags:         w.tags,
		Fingerprint:  w.fingerprint,
		Hint:         hint,
	}

	if ctx.Metrics != nil {
		ctx.Metrics.record(scene, action)
	}
}
