package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/somabus/soma/pkg/schema"
)

func testContext(cfg *Config) *Context {
	return &Context{
		Now:              time.Now().UTC(),
		Config:           cfg,
		SystemSessionKey: "system",
		Metrics:          NewMetrics(),
	}
}

func userMessage(t *testing.T, text string) *schema.Observation {
	t.Helper()
	obs, err := schema.NewMessage("adapter:text_input", "user:alice", "alice", text)
	require.NoError(t, err)
	return obs
}

func TestSceneInference(t *testing.T) {
	tests := []struct {
		name string
		obs  *schema.Observation
		want Scene
	}{
		{
			name: "plain message is dialogue",
			obs: schema.New(schema.ObsMessage, "adapter:text_input", schema.SourceExternal,
				&schema.MessagePayload{Text: "hello"}),
			want: SceneDialogue,
		},
		{
			name: "message with mention is group",
			obs: schema.New(schema.ObsMessage, "adapter:text_input", schema.SourceExternal,
				&schema.MessagePayload{Text: "@bob hi"}),
			want: SceneGroup,
		},
		{
			name: "alert maps to alert",
			obs:  schema.NewAlert("adapter:timer", "system", "pain", schema.SeverityLow, "", nil),
			want: SceneAlert,
		},
		{
			name: "control maps to system",
			obs:  schema.NewControl("api", "system", "tuning_suggestion", nil),
			want: SceneSystem,
		},
		{
			name: "schedule maps to system",
			obs:  schema.NewSchedule("adapter:timer", "system", "tick", nil),
			want: SceneSystem,
		},
		{
			name: "world data maps to tool result",
			obs: schema.New(schema.ObsWorldData, "skill:time", schema.SourceInternal,
				&schema.WorldDataPayload{SchemaID: "time.v1", Data: map[string]any{}}),
			want: SceneToolResult,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWip()
			sceneInferencer{}.apply(tt.obs, nil, w)
			assert.Equal(t, tt.want, w.scene)
		})
	}
}

func TestUserDialogueSafetyValve(t *testing.T) {
	g := New()
	ctx := testContext(DefaultConfig())

	// Low-scoring user message must still be delivered.
	outcome := g.Handle(userMessage(t, "ok"), ctx)

	assert.Equal(t, ActionDeliver, outcome.Decision.Action)
	assert.Equal(t, SceneDialogue, outcome.Decision.Scene)
	assert.Contains(t, outcome.Decision.Reasons, "user_dialogue_safe_valve")
	assert.Equal(t, BudgetTiny, outcome.Decision.Hint.Budget.BudgetLevel)
	assert.True(t, outcome.Decision.Hint.Budget.AutoClarify)
	assert.Empty(t, outcome.Ingest, "deliver never feeds the audit pools")
}

func TestDialogueScoringKeywords(t *testing.T) {
	g := New()
	ctx := testContext(DefaultConfig())

	// Service actor so the decision comes from the score thresholds
	// rather than the safety valve.
	obs := userMessage(t, "urgent? please help, there is an error")
	obs.Actor.ActorType = schema.ActorService
	outcome := g.Handle(obs, ctx)

	assert.Equal(t, ActionDeliver, outcome.Decision.Action)
	assert.GreaterOrEqual(t, outcome.Decision.Score, 0.75)
	assert.Equal(t, BudgetDeep, outcome.Decision.Hint.Budget.BudgetLevel)
	assert.Contains(t, outcome.Decision.Hint.ReasonTags, "score_high")
}

func TestGroupBotMentionDelivers(t *testing.T) {
	g := New()
	ctx := testContext(DefaultConfig())

	obs := userMessage(t, "@bot hello there")
	outcome := g.Handle(obs, ctx)

	assert.Equal(t, SceneGroup, outcome.Decision.Scene)
	assert.Equal(t, ActionDeliver, outcome.Decision.Action)
}

func TestGroupChatterIsSunk(t *testing.T) {
	g := New()
	ctx := testContext(DefaultConfig())

	obs := userMessage(t, "@carol lunch?")
	outcome := g.Handle(obs, ctx)

	assert.Equal(t, SceneGroup, outcome.Decision.Scene)
	assert.Equal(t, ActionSink, outcome.Decision.Action)
	require.Len(t, outcome.Ingest, 1)
}

func TestAlertAlwaysDeliversDeep(t *testing.T) {
	g := New()
	ctx := testContext(DefaultConfig())

	obs := schema.NewAlert("adapter:timer", "system", "pain", schema.SeverityHigh, "boom", nil)
	outcome := g.Handle(obs, ctx)

	assert.Equal(t, ActionDeliver, outcome.Decision.Action)
	assert.Equal(t, SceneAlert, outcome.Decision.Scene)
	assert.Equal(t, BudgetDeep, outcome.Decision.Hint.Budget.BudgetLevel)
	assert.Empty(t, outcome.Decision.Fingerprint, "alerts are never fingerprinted")
}

func TestEmptyMessageDropped(t *testing.T) {
	g := New()
	ctx := testContext(DefaultConfig())

	outcome := g.Handle(userMessage(t, "   "), ctx)

	assert.Equal(t, ActionDrop, outcome.Decision.Action)
	assert.Contains(t, outcome.Decision.Reasons, "empty_content")
	require.Len(t, outcome.Ingest, 1)
}

func TestOverloadShortCircuits(t *testing.T) {
	g := New()
	ctx := testContext(DefaultConfig())
	ctx.SystemHealth = &SystemHealth{Overload: true}

	outcome := g.Handle(userMessage(t, "hello there"), ctx)

	assert.Equal(t, ActionDrop, outcome.Decision.Action)
	assert.Contains(t, outcome.Decision.Reasons, "system_overload")
	require.Len(t, outcome.Emit, 1)
	p, ok := outcome.Emit[0].Alert()
	require.True(t, ok)
	assert.Equal(t, "gate_overload", p.AlertType)
	assert.Equal(t, schema.SeverityHigh, p.Severity)
	assert.Equal(t, "system", outcome.Emit[0].SessionKey)
}

func TestOverloadDropsAlertsSilently(t *testing.T) {
	g := New()
	ctx := testContext(DefaultConfig())
	ctx.SystemHealth = &SystemHealth{Overload: true}

	obs := schema.NewAlert("system:gate_overload", "system", "gate_overload",
		schema.SeverityHigh, "gate overload detected", nil)
	outcome := g.Handle(obs, ctx)

	assert.Equal(t, ActionDrop, outcome.Decision.Action)
	assert.Contains(t, outcome.Decision.Reasons, "system_overload")
	assert.Empty(t, outcome.Emit, "a dropped alert must never spawn another overload alert")
}

func TestOverloadDropsAgentRepliesSilently(t *testing.T) {
	g := New()
	ctx := testContext(DefaultConfig())
	ctx.SystemHealth = &SystemHealth{Overload: true}

	obs := schema.New(schema.ObsMessage, "agent:speaker", schema.SourceInternal,
		&schema.MessagePayload{Text: "done"})
	obs.SessionKey = "user:alice"
	obs.Actor = schema.Actor{ActorID: "agent", ActorType: schema.ActorSystem}
	outcome := g.Handle(obs, ctx)

	assert.Equal(t, ActionDrop, outcome.Decision.Action)
	assert.Contains(t, outcome.Decision.Reasons, "system_overload")
	assert.Empty(t, outcome.Emit)
}

func TestDropBurstEscalation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DropEscalation.BurstCountThreshold = 2
	g := New()
	ctx := testContext(cfg)

	first := g.Handle(userMessage(t, ""), ctx)
	assert.Empty(t, first.Emit)
	assert.NotContains(t, first.Decision.Tags, "drop_burst")

	second := g.Handle(userMessage(t, ""), ctx)
	assert.Equal(t, "true", second.Decision.Tags["drop_burst"])
	require.Len(t, second.Emit, 1)
	p, ok := second.Emit[0].Alert()
	require.True(t, ok)
	assert.Equal(t, "drop_burst", p.AlertType)
	assert.Equal(t, schema.SeverityMedium, p.Severity)
}

func TestDropEscalationFollowsConfigSnapshot(t *testing.T) {
	g := New()

	loose := DefaultConfig()
	loose.DropEscalation.BurstCountThreshold = 100
	loose.DropEscalation.ConsecutiveThreshold = 100

	first := g.Handle(userMessage(t, ""), testContext(loose))
	assert.NotContains(t, first.Decision.Tags, "drop_burst")

	// A reloaded config tightens the thresholds; the same gate instance
	// must honor the new snapshot on the next observation.
	tight := DefaultConfig()
	tight.DropEscalation.BurstCountThreshold = 2

	second := g.Handle(userMessage(t, ""), testContext(tight))
	assert.Equal(t, "true", second.Decision.Tags["drop_burst"])
	require.Len(t, second.Emit, 1)
}

func TestConsecutiveDropCounterResets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DropEscalation.BurstCountThreshold = 100
	cfg.DropEscalation.ConsecutiveThreshold = 3
	g := New()
	ctx := testContext(cfg)

	g.Handle(userMessage(t, ""), ctx)
	g.Handle(userMessage(t, ""), ctx)
	// A delivered message resets the streak.
	g.Handle(userMessage(t, "still here"), ctx)

	outcome := g.Handle(userMessage(t, ""), ctx)
	assert.NotContains(t, outcome.Decision.Tags, "drop_burst")
}

func TestDedupDropsRepeatWithinWindow(t *testing.T) {
	g := New()
	ctx := testContext(DefaultConfig())

	first := g.Handle(userMessage(t, "deploy the fix please"), ctx)
	assert.Equal(t, ActionDeliver, first.Decision.Action)

	second := g.Handle(userMessage(t, "deploy the fix please"), ctx)
	assert.Equal(t, ActionDrop, second.Decision.Action)
	assert.Contains(t, second.Decision.Reasons, "dedup_hit")
	assert.Equal(t, "hit", second.Decision.Tags["dedup"])
	assert.Equal(t, first.Decision.Fingerprint, second.Decision.Fingerprint)
}

func TestDedupWindowExpires(t *testing.T) {
	g := New()
	cfg := DefaultConfig()
	ctx := testContext(cfg)

	g.Handle(userMessage(t, "ping"), ctx)

	later := testContext(cfg)
	later.Now = ctx.Now.Add(31 * time.Second)
	outcome := g.Handle(userMessage(t, "ping"), later)
	assert.NotContains(t, outcome.Decision.Reasons, "dedup_hit")
}

func TestEmergencyModeSinksUserMessage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Overrides.EmergencyMode = true
	g := New()
	ctx := testContext(cfg)

	outcome := g.Handle(userMessage(t, "hello?"), ctx)

	assert.Equal(t, ActionSink, outcome.Decision.Action)
	assert.Contains(t, outcome.Decision.Reasons, "emergency_mode")
	assert.Equal(t, TierLow, outcome.Decision.Hint.ModelTier)
	budget := outcome.Decision.Hint.Budget
	assert.Equal(t, 300, budget.TimeMS)
	assert.False(t, budget.EvidenceAllowed)
	assert.Zero(t, budget.MaxToolCalls)
}

func TestDropOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Overrides.DropActors = []string{"mallory"}
	g := New()
	ctx := testContext(cfg)

	obs, err := schema.NewMessage("adapter:text_input", "user:mallory", "mallory", "let me in")
	require.NoError(t, err)

	// The safety valve outranks drop overrides for user dialogue; use a
	// non-user actor to observe the override.
	obs.Actor.ActorType = schema.ActorService
	outcome := g.Handle(obs, ctx)

	assert.Equal(t, ActionDrop, outcome.Decision.Action)
	assert.Contains(t, outcome.Decision.Reasons, "override_drop")
}

func TestDeliverOverrideSuppressedForAgent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Overrides.DeliverSessions = []string{"user:alice"}
	g := New()
	ctx := testContext(cfg)

	agentObs := schema.New(schema.ObsMessage, "agent:speaker", schema.SourceInternal,
		&schema.MessagePayload{Text: "done"})
	agentObs.SessionKey = "user:alice"
	agentObs.Actor = schema.Actor{ActorID: "agent", ActorType: schema.ActorSystem}

	outcome := g.Handle(agentObs, ctx)
	assert.Equal(t, ActionSink, outcome.Decision.Action)
	assert.NotContains(t, outcome.Decision.Reasons, "override_deliver")

	// The same session override does apply to a service-originated message.
	svcObs := schema.New(schema.ObsMessage, "adapter:text_input", schema.SourceExternal,
		&schema.MessagePayload{Text: "done"})
	svcObs.SessionKey = "user:alice"
	svcObs.Actor = schema.Actor{ActorID: "svc", ActorType: schema.ActorService}

	outcome = g.Handle(svcObs, ctx)
	assert.Equal(t, ActionDeliver, outcome.Decision.Action)
	assert.Contains(t, outcome.Decision.Reasons, "override_deliver")
}

func TestForceLowModelDemotesDeliver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Overrides.ForceLowModel = true
	g := New()
	ctx := testContext(cfg)

	obs := schema.NewAlert("adapter:timer", "system", "pain", schema.SeverityHigh, "boom", nil)
	outcome := g.Handle(obs, ctx)

	assert.Equal(t, ActionDeliver, outcome.Decision.Action)
	assert.Equal(t, TierLow, outcome.Decision.Hint.ModelTier)
	assert.Contains(t, outcome.Decision.Reasons, "force_low_model")
}

func TestToolResultBudgetClamped(t *testing.T) {
	g := New()
	ctx := testContext(DefaultConfig())

	obs := schema.New(schema.ObsWorldData, "skill:time", schema.SourceInternal,
		&schema.WorldDataPayload{SchemaID: "time.v1", Data: map[string]any{"now": "12:00"}})
	outcome := g.Handle(obs, ctx)

	assert.Equal(t, SceneToolResult, outcome.Decision.Scene)
	assert.Equal(t, ActionSink, outcome.Decision.Action)
	budget := outcome.Decision.Hint.Budget
	assert.Equal(t, BudgetTiny, budget.BudgetLevel)
	assert.False(t, budget.CanSearchKB)
	assert.False(t, budget.CanCallTools)
	assert.False(t, budget.EvidenceAllowed)
	assert.Zero(t, budget.MaxToolCalls)
}

func TestSystemSceneTargetsSystemWorker(t *testing.T) {
	g := New()
	ctx := testContext(DefaultConfig())

	obs := schema.NewControl("api", "system", "tuning_suggestion", nil)
	outcome := g.Handle(obs, ctx)

	assert.Equal(t, SceneSystem, outcome.Decision.Scene)
	assert.Equal(t, "system", outcome.Decision.TargetWorker)
}

func TestReasonsTruncatedToPolicyLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScenePolicies = map[Scene]ScenePolicy{
		SceneDialogue: {
			DeliverThreshold:      0.7,
			SinkThreshold:         0.3,
			DefaultAction:         ActionSink,
			DefaultModelTier:      TierLow,
			DefaultResponsePolicy: RespondNow,
			DedupWindowSec:        30,
			MaxReasons:            1,
		},
	}
	g := New()
	ctx := testContext(cfg)

	g.Handle(userMessage(t, "same thing"), ctx)
	outcome := g.Handle(userMessage(t, "same thing"), ctx)

	// dedup_hit plus action_hint would exceed the cap.
	assert.Len(t, outcome.Decision.Reasons, 1)
}

func TestIngestRouting(t *testing.T) {
	g := New()

	msg := &schema.Observation{ObsID: "m"}
	g.Ingest(msg, &Decision{Action: ActionDrop, Scene: SceneDialogue})
	g.Ingest(msg, &Decision{Action: ActionSink, Scene: SceneDialogue})
	g.Ingest(msg, &Decision{Action: ActionSink, Scene: SceneToolResult})
	g.Ingest(msg, &Decision{Action: ActionDeliver, Scene: SceneDialogue})

	assert.Equal(t, 1, g.DropPool.Len())
	assert.Equal(t, 1, g.SinkPool.Len())
	assert.Equal(t, 1, g.ToolPool.Len())
}

func TestPoolEvictsOldest(t *testing.T) {
	p := NewPool(2)
	a := &schema.Observation{ObsID: "a"}
	b := &schema.Observation{ObsID: "b"}
	c := &schema.Observation{ObsID: "c"}

	p.Ingest(a)
	p.Ingest(b)
	p.Ingest(c)

	items := p.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].ObsID)
	assert.Equal(t, "c", items[1].ObsID)
	assert.Equal(t, int64(3), p.Total())
}

func TestMetricsCounting(t *testing.T) {
	g := New()
	ctx := testContext(DefaultConfig())

	g.Handle(userMessage(t, "hello there"), ctx)
	g.Handle(userMessage(t, ""), ctx)
	g.Handle(schema.NewControl("api", "system", "noop", nil), ctx)

	assert.Equal(t, int64(3), ctx.Metrics.ProcessedTotal())
	assert.Equal(t, int64(1), ctx.Metrics.DeliveredTotal())
	assert.Equal(t, int64(1), ctx.Metrics.DroppedTotal())
	assert.Equal(t, int64(1), ctx.Metrics.SunkTotal())
	assert.Equal(t, int64(2), ctx.Metrics.ByScene()[SceneDialogue])
	assert.Equal(t, int64(1), ctx.Metrics.ByAction()[ActionSink])
}
