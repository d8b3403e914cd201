package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/somabus/soma/pkg/schema"
)

// Service errors.
var (
	ErrClosed      = errors.New("memory service closed")
	ErrUnknownTurn = errors.New("unknown turn id")
)

// FailOpen wraps a Service so persistence failures never reach the event
// loop: errors are logged, counted, and swallowed. A nil inner service is
// treated as a permanent no-op.
type FailOpen struct {
	inner  Service
	errors atomic.Int64
}

// NewFailOpen wraps inner, which may be nil.
func NewFailOpen(inner Service) *FailOpen {
	return &FailOpen{inner: inner}
}

// AppendEvent records the event, returning "" when persistence is
// unavailable.
func (f *FailOpen) AppendEvent(ctx context.Context, obs *schema.Observation, sessionKey string, meta map[string]any) (string, error) {
	if f.inner == nil {
		return "", nil
	}
	id, err := f.inner.AppendEvent(ctx, obs, sessionKey, meta)
	if err != nil {
		f.record("append_event", err)
		return "", nil
	}
	return id, nil
}

// AppendTurn opens a turn, returning "" when persistence is unavailable.
func (f *FailOpen) AppendTurn(ctx context.Context, sessionKey, inputEventID string, meta map[string]any) (string, error) {
	if f.inner == nil {
		return "", nil
	}
	id, err := f.inner.AppendTurn(ctx, sessionKey, inputEventID, meta)
	if err != nil {
		f.record("append_turn", err)
		return "", nil
	}
	return id, nil
}

// FinishTurn closes a turn; failures are swallowed. An empty turn id is a
// no-op so callers need not track whether AppendTurn succeeded.
func (f *FailOpen) FinishTurn(ctx context.Context, turnID, finalObsID, status, errMsg string) error {
	if f.inner == nil || turnID == "" {
		return nil
	}
	if err := f.inner.FinishTurn(ctx, turnID, finalObsID, status, errMsg); err != nil {
		f.record("finish_turn", err)
	}
	return nil
}

// Close closes the inner service.
func (f *FailOpen) Close() error {
	if f.inner == nil {
		return nil
	}
	if err := f.inner.Close(); err != nil {
		f.record("close", err)
	}
	return nil
}

// ErrorTotal returns the number of swallowed persistence failures.
func (f *FailOpen) ErrorTotal() int64 {
	return f.errors.Load()
}

func (f *FailOpen) record(op string, err error) {
	f.errors.Add(1)
	slog.Warn("Memory operation failed, continuing without persistence", "op", op, "error", err)
}
