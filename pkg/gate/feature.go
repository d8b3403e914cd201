package gate

import (
	"strings"

	"github.com/somabus/soma/pkg/schema"
)

// featureExtractor populates the minimal feature set the scoring stage
// consumes.
type featureExtractor struct{}

func (featureExtractor) name() string { return "feature" }

func (featureExtractor) apply(obs *schema.Observation, _ *Context, w *wip) {
	w.features["obs_type"] = string(obs.ObsType)
	w.features["source_name"] = obs.SourceName
	w.features["actor_id"] = obs.Actor.ActorID

	if p, ok := obs.Message(); ok {
		text := strings.TrimSpace(p.Text)
		w.features["text_len"] = len(text)
		w.features["has_mention"] = strings.Contains(text, "@")
		w.features["has_bot_mention"] = strings.Contains(text, "@bot")
		w.features["has_question"] = strings.Contains(text, "?")
	}
	if p, ok := obs.Alert(); ok {
		w.features["alert_severity"] = string(p.Severity)
	}
}

func (w *wip) boolFeature(key string) bool {
	v, ok := w.features[key].(bool)
	return ok && v
}

func (w *wip) intFeature(key string) int {
	v, _ := w.features[key].(int)
	return v
}
