package agent

import (
	"github.com/somabus/soma/pkg/schema"
)

// DraftAggregator passes the draft text through, substituting a stable
// fallback line when the pool produced nothing.
type DraftAggregator struct{}

// Aggregate implements Aggregator.
func (DraftAggregator) Aggregate(_ *Request, _ Plan, draft Draft) (string, error) {
	if trimmed(draft.Text) == "" {
		return "I could not produce an answer this time.", nil
	}
	return draft.Text, nil
}

// DefaultSpeaker renders the reply as a MESSAGE observation on the
// triggering session, stamped with the agent source prefix so the worker's
// loop guard keeps it out of the agent path.
type DefaultSpeaker struct{}

// Render implements Speaker.
func (DefaultSpeaker) Render(req *Request, text string, meta map[string]any) []*schema.Observation {
	obs := schema.New(schema.ObsMessage, SpeakerSource, schema.SourceInternal,
		&schema.MessagePayload{Text: text})
	// The router-resolved key lives on the session snapshot; the triggering
	// observation may have been published without one.
	obs.SessionKey = req.Session.SessionKey
	if obs.SessionKey == "" {
		obs.SessionKey = req.Obs.SessionKey
	}
	obs.Actor = schema.Actor{
		ActorID:     "agent",
		ActorType:   schema.ActorSystem,
		DisplayName: "Agent Assistant",
	}
	for k, v := range meta {
		obs.SetMeta(k, v)
	}
	return []*schema.Observation{obs}
}
