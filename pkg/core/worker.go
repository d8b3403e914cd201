package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/somabus/soma/pkg/agent"
	"github.com/somabus/soma/pkg/gate"
	"github.com/somabus/soma/pkg/memory"
	"github.com/somabus/soma/pkg/router"
	"github.com/somabus/soma/pkg/schema"
	"github.com/somabus/soma/pkg/session"
)

// fallbackSource marks worker-built fallback replies. It carries the agent
// prefix so the reply never re-enters the agent path.
const fallbackSource = schema.AgentSourcePrefix + "fallback"

// defaultAgentDeadline bounds the agent call when the hint carries no
// time budget.
const defaultAgentDeadline = 1500 * time.Millisecond

// worker processes one session's inbox serially. It owns the session state
// and is the only place the agent is invoked.
type worker struct {
	core       *Core
	sessionKey string
	inbox      *router.Inbox
	state      *session.State
}

func (w *worker) run(ctx context.Context) {
	slog.Debug("Worker started", "session_key", w.sessionKey)
	defer slog.Debug("Worker stopped", "session_key", w.sessionKey)
	for {
		select {
		case <-ctx.Done():
			return
		case obs, ok := <-w.inbox.C():
			if !ok {
				return
			}
			w.process(ctx, obs)
		}
	}
}

// process handles one inbox item. A panic is fatal to that observation
// only: the session's error counter is bumped and a system-addressed ALERT
// is published.
func (w *worker) process(ctx context.Context, obs *schema.Observation) {
	defer func() {
		if r := recover(); r != nil {
			w.state.RecordError()
			slog.Error("Worker failed on observation",
				"session_key", w.sessionKey, "obs_id", obs.ObsID, "cause", r)
			w.core.publish(schema.NewAlert("core:worker", w.core.systemKey,
				"worker_error", schema.SeverityMedium,
				fmt.Sprintf("worker failed processing observation: %v", r),
				map[string]any{"session_key": w.sessionKey, "obs_id": obs.ObsID}))
		}
	}()

	w.state.Record(obs)

	gctx := &gate.Context{
		Now:              time.Now().UTC(),
		Config:           w.core.provider.Snapshot(),
		SystemSessionKey: w.core.systemKey,
		Metrics:          w.core.gateMetrics,
		SessionState:     w.state,
		SystemHealth:     &gate.SystemHealth{Overload: w.core.Overloaded()},
	}
	outcome := w.core.gate.Handle(obs, gctx)

	// Emits are published before the next inbox item is taken, so
	// downstream observers see a consistent post-condition.
	for _, emit := range outcome.Emit {
		w.core.publish(emit)
	}
	for _, ingest := range outcome.Ingest {
		w.core.gate.Ingest(ingest, &outcome.Decision)
	}

	if w.sessionKey == w.core.systemKey {
		w.processSystem(ctx, obs, gctx.Now)
	}

	if outcome.Decision.Action == gate.ActionDeliver && !obs.AgentOriginated() {
		w.invokeAgent(ctx, obs, &outcome.Decision, gctx.Now)
	}
}

// processSystem handles the system session's side duties: pain
// aggregation, tick-driven drop sampling and fan-out, and reflex tuning.
func (w *worker) processSystem(_ context.Context, obs *schema.Observation, now time.Time) {
	switch obs.ObsType {
	case schema.ObsAlert:
		w.core.monitor.ObservePain(obs, now)
	case schema.ObsSchedule:
		if pain := w.core.monitor.ObserveDrops(w.core.bus.DroppedTotal(), now); pain != nil {
			w.core.publish(pain)
		}
		w.core.fanOutTick(obs, now)
	}

	for _, emit := range w.core.reflex.HandleObservation(obs, now) {
		w.core.publish(emit)
	}
}

func (w *worker) invokeAgent(ctx context.Context, obs *schema.Observation, decision *gate.Decision, now time.Time) {
	w.core.metrics.AgentInvocations.Inc()

	eventID, _ := w.core.memory.AppendEvent(ctx, obs, w.sessionKey, map[string]any{
		"action": string(decision.Action),
		"scene":  string(decision.Scene),
	})
	turnID, _ := w.core.memory.AppendTurn(ctx, w.sessionKey, eventID, nil)

	deadline := decision.Hint.Budget.Deadline()
	if deadline <= 0 {
		deadline = defaultAgentDeadline
	}
	actx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	req := &agent.Request{
		Obs:      obs,
		Decision: decision,
		Session:  w.state.Snapshot(),
		Now:      now,
	}

	done := make(chan *agent.Outcome, 1)
	go func() { done <- w.core.orchestrator.Handle(actx, req) }()

	var outcome *agent.Outcome
	select {
	case outcome = <-done:
	case <-actx.Done():
		// Deadline or shutdown; the orchestration goroutine is abandoned
		// and its eventual result discarded.
	}

	if outcome == nil {
		w.state.RecordError()
		w.core.metrics.AgentErrors.Inc()
		fb := w.fallbackReply(turnID)
		w.core.publish(fb)
		w.core.memory.FinishTurn(context.WithoutCancel(ctx), turnID, fb.ObsID, memory.StatusError, "agent deadline exceeded")
		slog.Warn("Agent call timed out", "session_key", w.sessionKey, "deadline", deadline)
		return
	}

	finalObsID := ""
	for _, emit := range outcome.Emit {
		if turnID != "" {
			emit.SetMeta("memory_turn_id", turnID)
		}
		finalObsID = emit.ObsID
		w.core.publish(emit)
	}

	status := memory.StatusOK
	if outcome.Error != "" {
		status = memory.StatusError
		w.state.RecordError()
		w.core.metrics.AgentErrors.Inc()
	}
	w.core.memory.FinishTurn(ctx, turnID, finalObsID, status, outcome.Error)
}

func (w *worker) fallbackReply(turnID string) *schema.Observation {
	fb := schema.New(schema.ObsMessage, fallbackSource, schema.SourceInternal,
		&schema.MessagePayload{Text: "Sorry, I could not produce an answer in time."})
	fb.SessionKey = w.sessionKey
	fb.Actor = schema.Actor{ActorID: "agent", ActorType: schema.ActorSystem}
	fb.SetMeta("fallback", true)
	if turnID != "" {
		fb.SetMeta("memory_turn_id", turnID)
	}
	return fb
}
