// Package adapter defines the ingress and egress organs of the core.
// Adapters turn the outside world into validated observations; errors
// inside an adapter become pain alerts, never crashes.
package adapter

import (
	"context"
	"time"

	"github.com/somabus/soma/pkg/bus"
	"github.com/somabus/soma/pkg/schema"
)

// Publisher is the bus surface adapters publish into.
type Publisher interface {
	PublishNowait(obs *schema.Observation) bus.PublishResult
}

// CooldownChecker tells active adapters whether they are on cooldown.
// The nociception monitor implements this.
type CooldownChecker interface {
	AdapterDisabled(sourceID string, now time.Time) bool
}

// Adapter is the common lifecycle. Start is idempotent and non-blocking;
// active adapters run their own loop until Stop or context cancellation.
type Adapter interface {
	Name() string
	Start(ctx context.Context, pub Publisher) error
	Stop()
}

// noCooldown is the checker used when no nociception monitor is wired.
type noCooldown struct{}

func (noCooldown) AdapterDisabled(string, time.Time) bool { return false }

// NoCooldown never reports a cooldown.
var NoCooldown CooldownChecker = noCooldown{}

// observeError converts a failure inside an adapter's observe step into a
// publishable ALERT.
func observeError(name string, err error) *schema.Observation {
	return schema.NewAlert(
		"adapter:"+name,
		"system",
		"adapter_observe_error",
		schema.SeverityMedium,
		err.Error(),
		map[string]any{
			"source_kind": "adapter",
			"source_id":   name,
		},
	)
}
