package agent

import (
	"context"
	"time"
)

// TimeSkill answers time questions from the wall clock. Clock is
// overridable for tests.
type TimeSkill struct {
	Clock func() time.Time
}

func (s *TimeSkill) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// ID implements Pool.
func (*TimeSkill) ID() string { return PoolTime }

// Run implements Pool.
func (s *TimeSkill) Run(_ context.Context, _ *Request, _ Plan, _ ContextPack) (Draft, error) {
	now := s.now()
	zone, _ := now.Zone()
	return Draft{
		Text: "The current time is " + now.Format("2006-01-02 15:04:05") + " (" + zone + ").",
		Meta: map[string]any{"method": "skill", "skill": "time"},
	}, nil
}
