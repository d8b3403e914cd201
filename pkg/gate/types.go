// Package gate implements the staged admission classifier. Every
// observation runs through scene inference, hard bypass, feature
// extraction, scoring, deduplication, policy mapping, and finalization,
// producing exactly one DROP/SINK/DELIVER decision with a resource hint.
package gate

import (
	"time"

	"github.com/somabus/soma/pkg/schema"
	"github.com/somabus/soma/pkg/session"
)

// Action is a terminal gate decision.
type Action string

// Gate actions.
const (
	ActionDrop    Action = "drop"
	ActionSink    Action = "sink"
	ActionDeliver Action = "deliver"
)

// Scene is the coarse observation classification used to select policy.
type Scene string

// Scenes.
const (
	SceneDialogue   Scene = "dialogue"
	SceneGroup      Scene = "group"
	SceneSystem     Scene = "system"
	SceneToolCall   Scene = "tool_call"
	SceneToolResult Scene = "tool_result"
	SceneAlert      Scene = "alert"
	SceneUnknown    Scene = "unknown"
)

// ModelTier selects the model class the agent should use.
type ModelTier string

// Model tiers.
const (
	TierLow    ModelTier = "low"
	TierNormal ModelTier = "normal"
	TierHigh   ModelTier = "high"
)

// BudgetLevel names a budget profile.
type BudgetLevel string

// Budget levels.
const (
	BudgetTiny   BudgetLevel = "tiny"
	BudgetNormal BudgetLevel = "normal"
	BudgetDeep   BudgetLevel = "deep"
)

// Response policies carried on hints.
const (
	RespondNow = "respond_now"
	Clarify    = "clarify"
	Ack        = "ack"
)

// BudgetSpec bounds what the agent may spend on one request.
type BudgetSpec struct {
	BudgetLevel     BudgetLevel `yaml:"budget_level"`
	TimeMS          int         `yaml:"time_ms"`
	MaxTokens       int         `yaml:"max_tokens"`
	MaxParallel     int         `yaml:"max_parallel"`
	EvidenceAllowed bool        `yaml:"evidence_allowed"`
	MaxToolCalls    int         `yaml:"max_tool_calls"`
	CanSearchKB     bool        `yaml:"can_search_kb"`
	CanCallTools    bool        `yaml:"can_call_tools"`
	AutoClarify     bool        `yaml:"auto_clarify"`
	FallbackMode    bool        `yaml:"fallback_mode"`
}

// Deadline converts the time budget to a duration.
func (b BudgetSpec) Deadline() time.Duration {
	return time.Duration(b.TimeMS) * time.Millisecond
}

// Hint carries the budget and policy annotations attached to a decision.
type Hint struct {
	ModelTier      ModelTier
	ResponsePolicy string
	Budget         BudgetSpec
	ReasonTags     []string
}

// Decision is the immutable output of one gate pass.
type Decision struct {
	Action       Action
	Scene        Scene
	SessionKey   string
	TargetWorker string // reserved; set to the system key for SYSTEM scenes
	Score        float64
	Reasons      []string
	Tags         map[string]string
	Fingerprint  string
	Hint         Hint
}

// Outcome bundles the decision with the observations the gate wants
// published (emit) and the ones destined for the audit pools (ingest).
type Outcome struct {
	Decision Decision
	Emit     []*schema.Observation
	Ingest   []*schema.Observation
}

// SystemHealth is the health signal supplied by the core. Overload is the
// only field the hard-bypass stage inspects.
type SystemHealth struct {
	Overload bool
}

// Context carries per-observation inputs into the pipeline.
type Context struct {
	Now              time.Time
	Config           *Config
	SystemSessionKey string
	Metrics          *Metrics
	SessionState     *session.State
	SystemHealth     *SystemHealth
}

// wip is the mutable working object threaded through the stages.
type wip struct {
	scene       Scene
	features    map[string]any
	score       float64
	reasons     []string
	tags        map[string]string
	fingerprint string

	actionHint     Action // empty until a stage decides
	modelTier      ModelTier
	responsePolicy string
	hint           *Hint
	decision       *Decision // set by finalize

	emit   []*schema.Observation
	ingest []*schema.Observation
}

func newWip() *wip {
	return &wip{
		features: make(map[string]any),
		tags:     make(map[string]string),
	}
}

// stage is one step of the pipeline. Stages never abort the pipeline; on
// internal failure they append "<stage>_error:<cause>" to the reasons.
type stage interface {
	name() string
	apply(obs *schema.Observation, ctx *Context, w *wip)
}
