package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/somabus/soma/pkg/schema"
)

// DefaultOrchestrator runs the fixed pipeline. Each step is wrapped so a
// panic or error degrades to the next step's fallback input; Handle always
// returns an outcome with at least one emit.
type DefaultOrchestrator struct {
	planner    Planner
	contexts   ContextBuilder
	router     *PoolRouter
	aggregator Aggregator
	speaker    Speaker
}

// Options override individual pipeline components.
type Options struct {
	Planner        Planner
	ContextBuilder ContextBuilder
	Router         *PoolRouter
	Aggregator     Aggregator
	Speaker        Speaker
	LLM            LLMClient
}

// New assembles the orchestrator, defaulting any component left nil. The
// default pool set is the chat pool plus the time skill.
func New(opts Options) *DefaultOrchestrator {
	o := &DefaultOrchestrator{
		planner:    opts.Planner,
		contexts:   opts.ContextBuilder,
		router:     opts.Router,
		aggregator: opts.Aggregator,
		speaker:    opts.Speaker,
	}
	if o.planner == nil {
		o.planner = NewRulePlanner()
	}
	if o.contexts == nil {
		o.contexts = RecentObsBuilder{}
	}
	if o.router == nil {
		o.router = NewPoolRouter(&ChatPool{LLM: opts.LLM}, &TimeSkill{})
	}
	if o.aggregator == nil {
		o.aggregator = DraftAggregator{}
	}
	if o.speaker == nil {
		o.speaker = DefaultSpeaker{}
	}
	return o
}

// Handle implements Orchestrator.
func (o *DefaultOrchestrator) Handle(ctx context.Context, req *Request) *Outcome {
	started := time.Now()
	trace := make(map[string]any)
	var errs []string

	plan := o.safePlan(ctx, req, trace, &errs)
	pack := o.safeContext(ctx, req, plan, trace, &errs)
	pool, pickReason := o.router.Pick(req, plan)
	if pickReason != "" {
		trace["pool_fallback"] = pickReason
	}
	draft := o.safeRun(ctx, req, plan, pack, pool, trace, &errs)
	text := o.safeAggregate(req, plan, draft, &errs)
	emit := o.safeSpeak(req, text, draft.Meta, &errs)

	fallback := len(errs) > 0
	for _, obs := range emit {
		obs.SetMeta("fallback", fallback)
	}

	trace["task_type"] = plan.TaskType
	trace["pool_id"] = pool.ID()
	trace["elapsed_ms"] = time.Since(started).Milliseconds()
	trace["fallback_triggered"] = fallback

	outcome := &Outcome{Emit: emit, Trace: trace}
	if fallback {
		outcome.Error = strings.Join(errs, "; ")
		slog.Warn("Agent pipeline degraded", "session", req.Obs.SessionKey, "error", outcome.Error)
	}
	return outcome
}

func (o *DefaultOrchestrator) safePlan(ctx context.Context, req *Request, trace map[string]any, errs *[]string) Plan {
	plan, err := guard2(errs, "planner", func() (Plan, error) {
		return o.planner.Plan(ctx, req)
	})
	if err != nil || plan.PoolID == "" {
		plan = Plan{TaskType: TaskChat, PoolID: PoolChat, Reason: "planner_fallback"}
	}
	trace["plan_reason"] = plan.Reason
	return plan
}

func (o *DefaultOrchestrator) safeContext(ctx context.Context, req *Request, plan Plan, trace map[string]any, errs *[]string) ContextPack {
	pack, err := guard2(errs, "context", func() (ContextPack, error) {
		return o.contexts.Build(ctx, req, plan)
	})
	if err != nil {
		pack = ContextPack{CurrentText: req.Text()}
	}
	trace["recent_count"] = len(pack.Recent)
	return pack
}

func (o *DefaultOrchestrator) safeRun(ctx context.Context, req *Request, plan Plan, pack ContextPack, pool Pool, trace map[string]any, errs *[]string) Draft {
	draft, err := guard2(errs, "pool", func() (Draft, error) {
		return pool.Run(ctx, req, plan, pack)
	})
	if err != nil {
		draft = Draft{Meta: map[string]any{"method": "fallback"}}
	}
	trace["draft_method"] = draft.Meta["method"]
	return draft
}

func (o *DefaultOrchestrator) safeAggregate(req *Request, plan Plan, draft Draft, errs *[]string) string {
	text, err := guard2(errs, "aggregator", func() (string, error) {
		return o.aggregator.Aggregate(req, plan, draft)
	})
	if err != nil || trimmed(text) == "" {
		text = "I could not produce an answer this time."
	}
	return text
}

func (o *DefaultOrchestrator) safeSpeak(req *Request, text string, meta map[string]any, errs *[]string) []*schema.Observation {
	emit, err := guard2(errs, "speaker", func() ([]*schema.Observation, error) {
		return o.speaker.Render(req, text, meta), nil
	})
	if err != nil || len(emit) == 0 {
		emit = DefaultSpeaker{}.Render(req, text, meta)
	}
	return emit
}

// guard2 runs fn, converting both errors and panics into an entry in errs.
func guard2[T any](errs *[]string, step string, fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
			*errs = append(*errs, step+":"+err.Error())
		}
	}()
	out, err = fn()
	if err != nil {
		*errs = append(*errs, step+":"+err.Error())
	}
	return out, err
}
