package gate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigMergesDefaults(t *testing.T) {
	doc := []byte(`
budget_thresholds:
  high_score: 0.9
scene_policies:
  dialogue:
    deliver_threshold: 0.5
    sink_threshold: 0.2
    default_action: sink
    default_model_tier: low
    default_response_policy: respond_now
    dedup_window_sec: 10
    max_reasons: 4
`)
	cfg, err := ParseConfig(doc)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, 0.9, cfg.BudgetThresholds.HighScore)
	assert.Equal(t, 0.50, cfg.BudgetThresholds.MediumScore, "defaults fill omitted fields")
	assert.Equal(t, 0.5, cfg.ScenePolicy(SceneDialogue).DeliverThreshold)
	assert.Equal(t, 60.0, cfg.DropEscalation.BurstWindowSec)
	assert.Equal(t, 800, cfg.BudgetProfile(BudgetTiny).TimeMS)
}

func TestParseConfigRejectsUnknownVersion(t *testing.T) {
	_, err := ParseConfig([]byte("version: 2\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestParseConfigRejectsBadThresholds(t *testing.T) {
	_, err := ParseConfig([]byte("budget_thresholds: {high_score: 1.5}\n"))
	require.Error(t, err)
}

func TestParseConfigClampsMediumToHigh(t *testing.T) {
	cfg, err := ParseConfig([]byte("budget_thresholds: {high_score: 0.4, medium_score: 0.6}\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.4, cfg.BudgetThresholds.MediumScore)
}

func TestParseConfigRejectsUnknownAction(t *testing.T) {
	doc := []byte(`
scene_policies:
  dialogue:
    default_action: explode
`)
	_, err := ParseConfig(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_action")
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.75, cfg.BudgetThresholds.HighScore)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSelectBudgetByScoreAndScene(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name  string
		score float64
		scene Scene
		want  BudgetLevel
	}{
		{"high score dialogue is deep", 0.8, SceneDialogue, BudgetDeep},
		{"medium score dialogue is normal", 0.6, SceneDialogue, BudgetNormal},
		{"low score group is tiny", 0.1, SceneGroup, BudgetTiny},
		{"alert is always deep", 0.0, SceneAlert, BudgetDeep},
		{"tool call is normal", 0.0, SceneToolCall, BudgetNormal},
		{"tool result is tiny", 0.9, SceneToolResult, BudgetTiny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.SelectBudget(tt.score, tt.scene).BudgetLevel)
		})
	}
}

func TestSelectBudgetDialogueTinyAutoClarifies(t *testing.T) {
	cfg := DefaultConfig()
	budget := cfg.SelectBudget(0.1, SceneDialogue)
	assert.Equal(t, BudgetTiny, budget.BudgetLevel)
	assert.True(t, budget.AutoClarify)
}

func TestProviderApplyOverrides(t *testing.T) {
	p := NewProvider(DefaultConfig())
	before := p.Snapshot()

	changed := p.ApplyOverrides(map[string]bool{OverrideForceLowModel: true})
	assert.True(t, changed)
	assert.True(t, p.Snapshot().Overrides.ForceLowModel)
	assert.False(t, before.Overrides.ForceLowModel, "old snapshot is untouched")

	// Re-applying the same value is a no-op.
	changed = p.ApplyOverrides(map[string]bool{OverrideForceLowModel: true})
	assert.False(t, changed)

	// Unknown keys are ignored.
	changed = p.ApplyOverrides(map[string]bool{"drop_everything": true})
	assert.False(t, changed)

	changed = p.ApplyOverrides(map[string]bool{
		OverrideForceLowModel: false,
		OverrideEmergencyMode: true,
	})
	assert.True(t, changed)
	snap := p.Snapshot()
	assert.False(t, snap.Overrides.ForceLowModel)
	assert.True(t, snap.Overrides.EmergencyMode)
}

func TestProviderApplyOverridesKeepsSliceOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Overrides.DeliverSessions = []string{"user:vip"}
	cfg.Overrides.DropActors = []string{"spammer"}
	p := NewProvider(cfg)

	// Unchanged booleans are a no-op regardless of the slice fields.
	assert.False(t, p.ApplyOverrides(map[string]bool{OverrideForceLowModel: false}))

	require.True(t, p.ApplyOverrides(map[string]bool{OverrideForceLowModel: true}))
	snap := p.Snapshot()
	assert.Equal(t, []string{"user:vip"}, snap.Overrides.DeliverSessions)
	assert.Equal(t, []string{"spammer"}, snap.Overrides.DropActors)
}

func TestProviderReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("budget_thresholds: {high_score: 0.9}\n"), 0o600))

	p, err := NewProviderFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, p.Snapshot().BudgetThresholds.HighScore)

	require.NoError(t, os.WriteFile(path, []byte("budget_thresholds: {high_score: 0.8}\n"), 0o600))
	require.NoError(t, p.Reload())
	assert.Equal(t, 0.8, p.Snapshot().BudgetThresholds.HighScore)

	// A broken document keeps the previous snapshot.
	require.NoError(t, os.WriteFile(path, []byte("version: 99\n"), 0o600))
	require.Error(t, p.Reload())
	assert.Equal(t, 0.8, p.Snapshot().BudgetThresholds.HighScore)
}
