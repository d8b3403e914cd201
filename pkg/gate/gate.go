package gate

import (
	"fmt"
	"log/slog"

	"github.com/somabus/soma/pkg/schema"
)

// Gate runs the admission pipeline. One Gate instance is shared by every
// session worker; the only cross-observation state lives in the dedup map
// and the drop monitor, both internally synchronized.
type Gate struct {
	stages []stage

	SinkPool *Pool
	DropPool *Pool
	ToolPool *Pool
}

// New builds a gate with the standard stage order. The gate itself holds
// no config: every Handle call reads the snapshot carried on its context,
// so provider reloads apply to the next observation.
func New() *Gate {
	return &Gate{
		stages: []stage{
			sceneInferencer{},
			newHardBypass(),
			featureExtractor{},
			scoringStage{},
			newDeduplicator(),
			policyMapper{},
			finalizeStage{},
		},
		SinkPool: NewPool(DefaultPoolSize),
		DropPool: NewPool(DefaultPoolSize),
		ToolPool: NewPool(DefaultPoolSize),
	}
}

// Handle classifies one observation. It never panics; a failing stage
// records "<stage>_error:<cause>" and the pipeline continues, so a valid
// outcome is always returned.
func (g *Gate) Handle(obs *schema.Observation, ctx *Context) *Outcome {
	w := newWip()
	for _, s := range g.stages {
		runStage(s, obs, ctx, w)
		// Overload is the only short-circuit; skip straight to finalize.
		if s.name() == "hard_bypass" && hasReason(w.reasons, "system_overload") {
			runStage(g.stages[len(g.stages)-1], obs, ctx, w)
			break
		}
	}

	decision := w.decision
	if decision == nil {
		action := w.actionHint
		if action == "" {
			action = ActionSink
		}
		scene := w.scene
		if scene == "" {
			scene = SceneUnknown
		}
		decision = &Decision{
			Action:      action,
			Scene:       scene,
			SessionKey:  obs.SessionKey,
			Score:       w.score,
			Reasons:     w.reasons,
			Tags:        w.tags,
			Fingerprint: w.fingerprint,
		}
	}

	outcome := &Outcome{Decision: *decision, Emit: w.emit, Ingest: w.ingest}
	if len(outcome.Ingest) == 0 && decision.Action != ActionDeliver {
		outcome.Ingest = append(outcome.Ingest, obs)
	}
	return outcome
}

// Ingest routes an observation to the audit pool matching its decision.
func (g *Gate) Ingest(obs *schema.Observation, decision *Decision) {
	switch decision.Action {
	case ActionDrop:
		g.DropPool.Ingest(obs)
	case ActionSink:
		if decision.Scene == SceneToolResult {
			g.ToolPool.Ingest(obs)
		} else {
			g.SinkPool.Ingest(obs)
		}
	}
}

func runStage(s stage, obs *schema.Observation, ctx *Context, w *wip) {
	defer func() {
		if r := recover(); r != nil {
			w.reasons = append(w.reasons, fmt.Sprintf("%s_error:%v", s.name(), r))
			slog.Error("Gate stage panicked", "stage", s.name(), "obs_id", obs.ObsID, "cause", r)
		}
	}()
	s.apply(obs, ctx, w)
}

func hasReason(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}
