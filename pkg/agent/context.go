package agent

import (
	"context"
)

// RecentObsBuilder packs the current input text plus the session's recent
// observation ring. Evidence gathering is bounded by the hint budget.
type RecentObsBuilder struct{}

// Build implements ContextBuilder.
func (RecentObsBuilder) Build(_ context.Context, req *Request, _ Plan) (ContextPack, error) {
	pack := ContextPack{
		CurrentText: req.Text(),
		Recent:      req.Session.Recent,
	}
	if req.Hint().Budget.EvidenceAllowed {
		pack.Evidence = append(pack.Evidence, EvidenceItem{
			Source:  "session_state",
			Content: summarizeSession(req),
		})
	}
	return pack, nil
}

func summarizeSession(req *Request) string {
	if len(req.Session.Recent) == 0 {
		return "no prior activity in this session"
	}
	last := req.Session.Recent[len(req.Session.Recent)-1]
	return "last observation: " + string(last.ObsType) + " from " + last.SourceName
}
