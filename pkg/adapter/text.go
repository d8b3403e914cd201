package adapter

import (
	"context"
	"errors"
	"sync"

	"github.com/somabus/soma/pkg/bus"
	"github.com/somabus/soma/pkg/schema"
)

// ErrNotStarted is returned when text is ingested before Start.
var ErrNotStarted = errors.New("text adapter not started")

// TextInput is a passive adapter: external callers (an HTTP handler, a
// CLI loop) push text through Ingest and it publishes MESSAGE
// observations.
type TextInput struct {
	name string

	mu      sync.Mutex
	pub     Publisher
	started bool
}

// NewTextInput builds a text ingress adapter.
func NewTextInput(name string) *TextInput {
	if name == "" {
		name = "text_input"
	}
	return &TextInput{name: name}
}

// Name implements Adapter.
func (t *TextInput) Name() string { return t.name }

// Start wires the publisher. Idempotent; passive adapters have no loop.
func (t *TextInput) Start(_ context.Context, pub Publisher) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pub = pub
	t.started = true
	return nil
}

// Stop implements Adapter.
func (t *TextInput) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = false
}

// Ingest publishes one user message. An empty sessionKey leaves session
// resolution to the router.
func (t *TextInput) Ingest(sessionKey, actorID, text string) (bus.PublishResult, error) {
	t.mu.Lock()
	pub := t.pub
	started := t.started
	t.mu.Unlock()
	if !started || pub == nil {
		return bus.PublishResult{}, ErrNotStarted
	}

	obs, err := schema.NewMessage("adapter:"+t.name, sessionKey, actorID, text)
	if err != nil {
		return bus.PublishResult{}, err
	}
	return pub.PublishNowait(obs), nil
}
