package agent

import (
	"context"
	"fmt"
)

// ChatPool produces the conversational draft. With an LLM client it builds
// a chat completion; without one it falls back to a deterministic reply so
// the loop still closes end to end.
type ChatPool struct {
	LLM LLMClient
}

// ID implements Pool.
func (*ChatPool) ID() string { return PoolChat }

// Run implements Pool.
func (p *ChatPool) Run(ctx context.Context, req *Request, plan Plan, pack ContextPack) (Draft, error) {
	text := pack.CurrentText

	if text == "" {
		return Draft{
			Text: "I received your message. Could you add a bit more detail so I can help?",
			Meta: map[string]any{"method": "canned", "reason": "empty_input"},
		}, nil
	}

	if p.LLM == nil {
		return Draft{
			Text: "I received your message: " + text,
			Meta: map[string]any{"method": "canned"},
		}, nil
	}

	messages := []LLMMessage{{Role: RoleSystem, Content: systemPrompt(req, pack)}}
	for _, item := range pack.Evidence {
		messages = append(messages, LLMMessage{
			Role:    RoleSystem,
			Content: "Evidence (" + item.Source + "): " + item.Content,
		})
	}
	messages = append(messages, LLMMessage{Role: RoleUser, Content: text})

	reply, err := p.LLM.Complete(ctx, messages)
	if err != nil {
		return Draft{}, fmt.Errorf("llm completion: %w", err)
	}
	return Draft{
		Text: reply,
		Meta: map[string]any{"method": "llm", "evidence_count": len(pack.Evidence)},
	}, nil
}

func systemPrompt(req *Request, pack ContextPack) string {
	prompt := "You are a concise assistant replying inside session " + req.Session.SessionKey + "."
	budget := req.Hint().Budget
	if budget.MaxTokens > 0 {
		prompt += fmt.Sprintf(" Keep the answer under %d tokens.", budget.MaxTokens)
	}
	if budget.AutoClarify {
		prompt += " If the request is ambiguous, ask one clarifying question instead of guessing."
	}
	if n := len(pack.Recent); n > 0 {
		prompt += fmt.Sprintf(" The session has %d recent observations.", n)
	}
	return prompt
}

// PoolRouter picks the pool named by the plan, falling back to chat for
// unknown ids or when the budget forbids tool use.
type PoolRouter struct {
	pools    map[string]Pool
	fallback Pool
}

// NewPoolRouter registers the given pools; fallback must not be nil.
func NewPoolRouter(fallback Pool, pools ...Pool) *PoolRouter {
	r := &PoolRouter{pools: make(map[string]Pool), fallback: fallback}
	r.pools[fallback.ID()] = fallback
	for _, p := range pools {
		r.pools[p.ID()] = p
	}
	return r
}

// Pick returns the pool for the plan plus the reason when it fell back.
func (r *PoolRouter) Pick(req *Request, plan Plan) (Pool, string) {
	pool, ok := r.pools[plan.PoolID]
	if !ok {
		return r.fallback, "unknown_pool"
	}
	if pool != r.fallback && !req.Hint().Budget.CanCallTools {
		return r.fallback, "tools_forbidden"
	}
	return pool, ""
}
