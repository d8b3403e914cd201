package gate

import (
	"strings"

	"github.com/somabus/soma/pkg/schema"
)

// scoringStage computes the weighted relevance score in [0,1].
type scoringStage struct{}

func (scoringStage) name() string { return "scoring" }

func (scoringStage) apply(obs *schema.Observation, ctx *Context, w *wip) {
	score := 0.0
	rules := ctx.Config.Rules

	switch w.scene {
	case SceneDialogue:
		weights := rules.Dialogue.Weights
		score += weight(weights, "base", 0.10)
		if w.boolFeature("has_mention") {
			score += weight(weights, "mention", 0.40)
		}
		if w.boolFeature("has_question") {
			score += weight(weights, "question_mark", 0.15)
		}
		if w.intFeature("text_len") >= rules.Dialogue.LongTextLen {
			score += weight(weights, "long_text", 0.10)
		}
		if p, ok := obs.Message(); ok {
			text := strings.ToLower(p.Text)
			for kw, boost := range rules.Dialogue.Keywords {
				if strings.Contains(text, kw) {
					score += boost
				}
			}
		}
	case SceneGroup:
		weights := rules.Group.Weights
		score += weight(weights, "base", 0.05)
		if w.boolFeature("has_bot_mention") {
			score += weight(weights, "mention", 0.60)
		}
		if contains(rules.Group.WhitelistActors, obs.Actor.ActorID) {
			score += weight(weights, "whitelist_actor", 0.25)
		}
	case SceneAlert:
		score += 0.6
	case SceneSystem:
		score += weight(rules.System.Weights, "base", 0.0)
	case SceneToolCall:
		score += 0.7
	case SceneToolResult:
		score += 0.5
	}

	// Universal text-length nudge.
	if textLen := w.intFeature("text_len"); textLen > 0 {
		nudge := float64(textLen) / 200.0
		if nudge > 0.2 {
			nudge = 0.2
		}
		score += nudge
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	w.score = score
}

func weight(weights map[string]float64, key string, fallback float64) float64 {
	if v, ok := weights[key]; ok {
		return v
	}
	return fallback
}
