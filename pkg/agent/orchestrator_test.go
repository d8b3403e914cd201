package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/somabus/soma/pkg/gate"
	"github.com/somabus/soma/pkg/schema"
	"github.com/somabus/soma/pkg/session"
)

func deliverRequest(t *testing.T, text string) *Request {
	t.Helper()
	obs, err := schema.NewMessage("adapter:text_input", "user:alice", "alice", text)
	require.NoError(t, err)

	cfg := gate.DefaultConfig()
	return &Request{
		Obs: obs,
		Decision: &gate.Decision{
			Action:     gate.ActionDeliver,
			Scene:      gate.SceneDialogue,
			SessionKey: "user:alice",
			Hint: gate.Hint{
				ModelTier: gate.TierNormal,
				Budget:    cfg.SelectBudget(0.6, gate.SceneDialogue),
			},
		},
		Session: session.Snapshot{SessionKey: "user:alice"},
		Now:     time.Now(),
	}
}

func TestHandleProducesReply(t *testing.T) {
	o := New(Options{LLM: &StaticLLM{}})

	outcome := o.Handle(context.Background(), deliverRequest(t, "hello there"))

	require.Len(t, outcome.Emit, 1)
	reply := outcome.Emit[0]
	assert.Equal(t, SpeakerSource, reply.SourceName)
	assert.True(t, reply.AgentOriginated())
	assert.Equal(t, "user:alice", reply.SessionKey)
	p, ok := reply.Message()
	require.True(t, ok)
	assert.Contains(t, p.Text, "hello there")
	assert.Equal(t, false, reply.Metadata["fallback"])
	assert.Empty(t, outcome.Error)
	assert.Equal(t, TaskChat, outcome.Trace["task_type"])
}

func TestHandleRoutesTimeIntent(t *testing.T) {
	o := New(Options{})

	outcome := o.Handle(context.Background(), deliverRequest(t, "what time is it?"))

	require.Len(t, outcome.Emit, 1)
	p, ok := outcome.Emit[0].Message()
	require.True(t, ok)
	assert.Contains(t, p.Text, "current time")
	assert.Equal(t, PoolTime, outcome.Trace["pool_id"])
}

func TestHandleTimeIntentWithoutToolBudgetFallsBack(t *testing.T) {
	o := New(Options{})

	req := deliverRequest(t, "what time is it?")
	req.Decision.Hint.Budget.CanCallTools = false
	outcome := o.Handle(context.Background(), req)

	assert.Equal(t, PoolChat, outcome.Trace["pool_id"])
	assert.Equal(t, "tools_forbidden", outcome.Trace["pool_fallback"])
	assert.Empty(t, outcome.Error, "budget fallback is not an error")
}

type failingLLM struct{}

func (failingLLM) Complete(context.Context, []LLMMessage) (string, error) {
	return "", errors.New("gateway unreachable")
}

func TestHandleLLMFailureEmitsFallback(t *testing.T) {
	o := New(Options{LLM: failingLLM{}})

	outcome := o.Handle(context.Background(), deliverRequest(t, "hello"))

	require.Len(t, outcome.Emit, 1)
	assert.Equal(t, true, outcome.Emit[0].Metadata["fallback"])
	assert.Contains(t, outcome.Error, "pool:")
	p, ok := outcome.Emit[0].Message()
	require.True(t, ok)
	assert.NotEmpty(t, p.Text)
}

type panickyPlanner struct{}

func (panickyPlanner) Plan(context.Context, *Request) (Plan, error) {
	panic("planner exploded")
}

func TestHandlePlannerPanicIsAbsorbed(t *testing.T) {
	o := New(Options{Planner: panickyPlanner{}})

	outcome := o.Handle(context.Background(), deliverRequest(t, "hello"))

	require.Len(t, outcome.Emit, 1)
	assert.Contains(t, outcome.Error, "planner:")
	assert.Equal(t, TaskChat, outcome.Trace["task_type"], "falls back to chat plan")
}

func TestHandleHonorsCancelledContext(t *testing.T) {
	o := New(Options{LLM: &StaticLLM{}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome := o.Handle(ctx, deliverRequest(t, "hello"))

	// A cancelled LLM call degrades to the fallback reply, never a panic.
	require.Len(t, outcome.Emit, 1)
	assert.NotEmpty(t, outcome.Error)
}

func TestRulePlanner(t *testing.T) {
	p := NewRulePlanner()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"time question", "hey, what time is it?", PoolTime},
		{"clock mention", "check the clock please", PoolTime},
		{"plain chat", "how do I deploy this?", PoolChat},
		{"empty", "", PoolChat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := p.Plan(context.Background(), deliverRequest(t, tt.text))
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.PoolID)
		})
	}
}

func TestContextBuilderRespectsEvidenceBudget(t *testing.T) {
	req := deliverRequest(t, "hello")
	req.Decision.Hint.Budget.EvidenceAllowed = false

	pack, err := RecentObsBuilder{}.Build(context.Background(), req, Plan{})
	require.NoError(t, err)
	assert.Empty(t, pack.Evidence)

	req.Decision.Hint.Budget.EvidenceAllowed = true
	pack, err = RecentObsBuilder{}.Build(context.Background(), req, Plan{})
	require.NoError(t, err)
	assert.Len(t, pack.Evidence, 1)
}

func TestChatPoolEmptyInputAsksForDetail(t *testing.T) {
	pool := &ChatPool{LLM: &StaticLLM{}}
	req := deliverRequest(t, "   ")

	draft, err := pool.Run(context.Background(), req, Plan{TaskType: TaskChat}, ContextPack{})
	require.NoError(t, err)
	assert.Contains(t, draft.Text, "more detail")
	assert.Equal(t, "canned", draft.Meta["method"])
}

func TestSpeakerUsesResolvedSessionKey(t *testing.T) {
	obs, err := schema.NewMessage("adapter:text_input", "", "u1", "hello")
	require.NoError(t, err)
	require.Empty(t, obs.SessionKey)

	req := &Request{
		Obs:     obs,
		Session: session.Snapshot{SessionKey: "user:u1"},
		Now:     time.Now(),
	}
	emit := DefaultSpeaker{}.Render(req, "hi", nil)
	require.Len(t, emit, 1)
	assert.Equal(t, "user:u1", emit[0].SessionKey,
		"replies must land on the router-resolved session, not the raw observation key")
}
