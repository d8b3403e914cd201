// Package agent implements the orchestrator invoked on DELIVER decisions.
// The pipeline is fixed: planner -> context builder -> pool -> aggregator
// -> speaker. Every stage is pluggable and every failure is absorbed into
// the outcome; the orchestrator never propagates an error to the worker.
package agent

import (
	"context"
	"time"

	"github.com/somabus/soma/pkg/gate"
	"github.com/somabus/soma/pkg/schema"
	"github.com/somabus/soma/pkg/session"
)

// SpeakerSource is the source name stamped on agent replies. The prefix
// is what the worker's loop guard keys on.
const SpeakerSource = schema.AgentSourcePrefix + "speaker"

// Request is one agent invocation.
type Request struct {
	Obs      *schema.Observation
	Decision *gate.Decision
	Session  session.Snapshot
	Now      time.Time
}

// Hint returns the budget hint attached to the triggering decision.
func (r *Request) Hint() gate.Hint {
	if r.Decision == nil {
		return gate.Hint{}
	}
	return r.Decision.Hint
}

// Text returns the trimmed message text of the triggering observation, or
// "" for non-message observations.
func (r *Request) Text() string {
	if p, ok := r.Obs.Message(); ok {
		return trimmed(p.Text)
	}
	return ""
}

// Outcome is the result of one agent invocation. Emit is never empty: on
// failure it carries the fallback reply.
type Outcome struct {
	Emit  []*schema.Observation
	Trace map[string]any
	Error string
}

// Orchestrator is the contract the session worker invokes.
type Orchestrator interface {
	Handle(ctx context.Context, req *Request) *Outcome
}

// Plan is the planner's routing decision.
type Plan struct {
	TaskType string
	PoolID   string
	Reason   string
	Meta     map[string]any
}

// EvidenceItem is one piece of gathered context.
type EvidenceItem struct {
	Source  string
	Content string
}

// ContextPack is the assembled context handed to the pool.
type ContextPack struct {
	CurrentText string
	Recent      []*schema.Observation
	Evidence    []EvidenceItem
}

// Draft is a pool's raw answer before aggregation.
type Draft struct {
	Text string
	Meta map[string]any
}

// Planner decides which pool should handle the request.
type Planner interface {
	Plan(ctx context.Context, req *Request) (Plan, error)
}

// ContextBuilder assembles the context pack for a plan.
type ContextBuilder interface {
	Build(ctx context.Context, req *Request, plan Plan) (ContextPack, error)
}

// Pool produces a draft answer.
type Pool interface {
	ID() string
	Run(ctx context.Context, req *Request, plan Plan, pack ContextPack) (Draft, error)
}

// Aggregator reduces the draft to the final reply text.
type Aggregator interface {
	Aggregate(req *Request, plan Plan, draft Draft) (string, error)
}

// Speaker renders the final text into outbound observations.
type Speaker interface {
	Render(req *Request, text string, meta map[string]any) []*schema.Observation
}
