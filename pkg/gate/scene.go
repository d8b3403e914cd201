package gate

import (
	"strings"

	"github.com/somabus/soma/pkg/schema"
)

// sceneInferencer maps the observation type (and, for messages, a light
// content probe) to a scene.
type sceneInferencer struct{}

func (sceneInferencer) name() string { return "scene" }

func (sceneInferencer) apply(obs *schema.Observation, _ *Context, w *wip) {
	switch obs.ObsType {
	case schema.ObsAlert:
		w.scene = SceneAlert
	case schema.ObsSchedule, schema.ObsSystem, schema.ObsControl:
		w.scene = SceneSystem
	case schema.ObsWorldData:
		w.scene = SceneToolResult
	case schema.ObsMessage:
		w.scene = SceneDialogue
		if p, ok := obs.Message(); ok && strings.Contains(p.Text, "@") {
			w.scene = SceneGroup
		}
	default:
		w.scene = SceneUnknown
	}
}
