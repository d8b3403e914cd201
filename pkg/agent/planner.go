package agent

import (
	"context"
	"strings"
)

// Task types and pool ids.
const (
	TaskChat = "chat"
	TaskTime = "time"

	PoolChat = "chat"
	PoolTime = "skill:time"
)

// RulePlanner routes by keyword. Time questions go to the time skill;
// everything else is a chat task.
type RulePlanner struct {
	TimeKeywords []string
}

// NewRulePlanner builds the planner with the default keyword set.
func NewRulePlanner() *RulePlanner {
	return &RulePlanner{
		TimeKeywords: []string{"what time", "current time", "time is it", "clock"},
	}
}

// Plan implements Planner.
func (p *RulePlanner) Plan(_ context.Context, req *Request) (Plan, error) {
	text := strings.ToLower(req.Text())
	for _, kw := range p.TimeKeywords {
		if strings.Contains(text, kw) {
			return Plan{
				TaskType: TaskTime,
				PoolID:   PoolTime,
				Reason:   "time_intent_detected",
			}, nil
		}
	}
	return Plan{
		TaskType: TaskChat,
		PoolID:   PoolChat,
		Reason:   "default_dialogue",
	}, nil
}
