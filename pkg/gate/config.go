package gate

// Config is the immutable gate configuration snapshot. It is held behind
// an atomic reference in Provider and replaced wholesale on change;
// readers see either the old or the new value, never a partial one.

// DropEscalation controls the drop-burst monitor in the hard-bypass stage.
type DropEscalation struct {
	BurstWindowSec       float64 `yaml:"burst_window_sec"`
	BurstCountThreshold  int     `yaml:"burst_count_threshold"`
	ConsecutiveThreshold int     `yaml:"consecutive_threshold"`
	CooldownSuggestSec   float64 `yaml:"cooldown_suggest_sec"`
}

// Overrides are the runtime-mutable knobs. The reflex controller replaces
// them (via Provider) with a TTL; operators may also set them in config.
type Overrides struct {
	EmergencyMode   bool     `yaml:"emergency_mode"`
	ForceLowModel   bool     `yaml:"force_low_model"`
	DropSessions    []string `yaml:"drop_sessions"`
	DeliverSessions []string `yaml:"deliver_sessions"`
	DropActors      []string `yaml:"drop_actors"`
	DeliverActors   []string `yaml:"deliver_actors"`
}

// DialogueRules weight the dialogue-scene scoring.
type DialogueRules struct {
	Weights     map[string]float64 `yaml:"weights"`
	Keywords    map[string]float64 `yaml:"keywords"`
	LongTextLen int                `yaml:"long_text_len"`
}

// GroupRules weight the group-scene scoring.
type GroupRules struct {
	Weights         map[string]float64 `yaml:"weights"`
	SampleRate      float64            `yaml:"sample_rate"`
	WhitelistActors []string           `yaml:"whitelist_actors"`
}

// SystemRules weight the system-scene scoring.
type SystemRules struct {
	Weights map[string]float64 `yaml:"weights"`
}

// Rules groups the per-scene scoring rules.
type Rules struct {
	Dialogue DialogueRules `yaml:"dialogue"`
	Group    GroupRules    `yaml:"group"`
	System   SystemRules   `yaml:"system"`
}

// ScenePolicy holds the thresholds and defaults for one scene.
type ScenePolicy struct {
	DeliverThreshold      float64   `yaml:"deliver_threshold"`
	SinkThreshold         float64   `yaml:"sink_threshold"`
	DefaultAction         Action    `yaml:"default_action"`
	DefaultModelTier      ModelTier `yaml:"default_model_tier"`
	DefaultResponsePolicy string    `yaml:"default_response_policy"`
	DedupWindowSec        float64   `yaml:"dedup_window_sec"`
	MaxReasons            int       `yaml:"max_reasons"`
}

// BudgetThresholds map scores to budget levels.
type BudgetThresholds struct {
	HighScore   float64 `yaml:"high_score"`
	MediumScore float64 `yaml:"medium_score"`
}

// Config is the versioned gate configuration document.
type Config struct {
	Version          int                        `yaml:"version"`
	DropEscalation   DropEscalation             `yaml:"drop_escalation"`
	Overrides        Overrides                  `yaml:"overrides"`
	Rules            Rules                      `yaml:"rules"`
	ScenePolicies    map[Scene]ScenePolicy      `yaml:"scene_policies"`
	BudgetThresholds BudgetThresholds           `yaml:"budget_thresholds"`
	BudgetProfiles   map[BudgetLevel]BudgetSpec `yaml:"budget_profiles"`
}

// DefaultConfig returns the built-in gate defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		DropEscalation: DropEscalation{
			BurstWindowSec:       60,
			BurstCountThreshold:  5,
			ConsecutiveThreshold: 8,
			CooldownSuggestSec:   300,
		},
		Rules: Rules{
			Dialogue: DialogueRules{
				Weights: map[string]float64{
					"base":          0.10,
					"mention":       0.40,
					"question_mark": 0.15,
					"long_text":     0.10,
				},
				Keywords: map[string]float64{
					"urgent": 0.30,
					"error":  0.25,
					"help":   0.15,
				},
				LongTextLen: 300,
			},
			Group: GroupRules{
				Weights: map[string]float64{
					"base":            0.05,
					"mention":         0.60,
					"whitelist_actor": 0.25,
				},
				SampleRate: 0.02,
			},
			System: SystemRules{
				Weights: map[string]float64{"base": 0.0},
			},
		},
		ScenePolicies: map[Scene]ScenePolicy{},
		BudgetThresholds: BudgetThresholds{
			HighScore:   0.75,
			MediumScore: 0.50,
		},
		BudgetProfiles: defaultBudgetProfiles(),
	}
}

func defaultBudgetProfiles() map[BudgetLevel]BudgetSpec {
	return map[BudgetLevel]BudgetSpec{
		BudgetTiny: {
			BudgetLevel:     BudgetTiny,
			TimeMS:          800,
			MaxTokens:       256,
			MaxParallel:     1,
			EvidenceAllowed: false,
			MaxToolCalls:    0,
			CanSearchKB:     true,
			CanCallTools:    true,
			AutoClarify:     true,
		},
		BudgetNormal: {
			BudgetLevel:     BudgetNormal,
			TimeMS:          1500,
			MaxTokens:       512,
			MaxParallel:     2,
			EvidenceAllowed: true,
			MaxToolCalls:    1,
			CanSearchKB:     true,
			CanCallTools:    true,
		},
		BudgetDeep: {
			BudgetLevel:     BudgetDeep,
			TimeMS:          3000,
			MaxTokens:       1024,
			MaxParallel:     4,
			EvidenceAllowed: true,
			MaxToolCalls:    3,
			CanSearchKB:     true,
			CanCallTools:    true,
		},
	}
}

// ScenePolicy returns the policy for a scene, falling back to hard-coded
// per-scene defaults when the config document omits it.
func (c *Config) ScenePolicy(scene Scene) ScenePolicy {
	if p, ok := c.ScenePolicies[scene]; ok {
		return p
	}
	base := ScenePolicy{
		DeliverThreshold:      0.7,
		SinkThreshold:         0.3,
		DefaultAction:         ActionSink,
		DefaultModelTier:      TierLow,
		DefaultResponsePolicy: RespondNow,
		DedupWindowSec:        30,
		MaxReasons:            6,
	}
	switch scene {
	case SceneAlert:
		base.DeliverThreshold = 0
		base.SinkThreshold = 0
		base.DefaultAction = ActionDeliver
		base.DefaultModelTier = TierNormal
	case SceneToolCall:
		base.DefaultAction = ActionDeliver
		base.DefaultModelTier = TierNormal
	case SceneSystem, SceneToolResult:
		base.DefaultAction = ActionSink
	}
	return base
}

// BudgetProfile returns the spec for a level, falling back to the built-in
// profiles for levels missing from the document.
func (c *Config) BudgetProfile(level BudgetLevel) BudgetSpec {
	if b, ok := c.BudgetProfiles[level]; ok {
		return b
	}
	defaults := defaultBudgetProfiles()
	if b, ok := defaults[level]; ok {
		return b
	}
	return defaults[BudgetNormal]
}

// SelectBudget derives the budget from (scene, score):
// ALERT always deep; TOOL_CALL normal; TOOL_RESULT tiny with tool and
// evidence capabilities hard-disabled; dialogue/group by score thresholds.
func (c *Config) SelectBudget(score float64, scene Scene) BudgetSpec {
	var level BudgetLevel
	switch scene {
	case SceneAlert:
		level = BudgetDeep
	case SceneToolCall:
		level = BudgetNormal
	case SceneToolResult:
		level = BudgetTiny
	default:
		switch {
		case score >= c.BudgetThresholds.HighScore:
			level = BudgetDeep
		case score >= c.BudgetThresholds.MediumScore:
			level = BudgetNormal
		default:
			level = BudgetTiny
		}
	}

	budget := c.BudgetProfile(level)

	// Safety clamps, enforced irrespective of the configured profile.
	if scene == SceneToolResult {
		budget.CanSearchKB = false
		budget.CanCallTools = false
		budget.EvidenceAllowed = false
		budget.MaxToolCalls = 0
	}
	if scene == SceneDialogue && budget.BudgetLevel == BudgetTiny {
		budget.AutoClarify = true
	}
	return budget
}

// WithOverrides returns a copy of the config with the given override
// fields replaced. The receiver is never mutated.
func (c *Config) WithOverrides(ov Overrides) *Config {
	cp := *c
	cp.Overrides = ov
	return &cp
}

func contains(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
