// Package nociception turns ALERT frequency into protective back-pressure:
// adapters that emit pain in bursts are put on cooldown, and sustained bus
// drops suppress system-tick fan-out.
package nociception

import (
	"github.com/somabus/soma/pkg/schema"
)

// PainParams describe one standardized pain alert. SourceKind/SourceID are
// the aggregation identity ("adapter"+"timer", "gate"+"drop_burst");
// everything else is presentation.
type PainParams struct {
	SourceKind      string
	SourceID        string
	AlertType       string // defaults to "pain"
	Severity        schema.Severity
	Message         string
	SessionKey      string // defaults to "system"
	Where           string
	ExceptionType   string
	Tags            []string
	AffectedSession string
	Data            map[string]any
}

// NewPainAlert builds a standardized pain ALERT observation addressed to the
// system session. The aggregation identity is carried in payload data so
// ExtractPainKey can recover it regardless of source_name formatting.
func NewPainAlert(p PainParams) *schema.Observation {
	if p.AlertType == "" {
		p.AlertType = "pain"
	}
	if p.SessionKey == "" {
		p.SessionKey = "system"
	}
	if p.Severity == "" {
		p.Severity = schema.SeverityMedium
	}

	data := map[string]any{
		"source_kind": p.SourceKind,
		"source_id":   p.SourceID,
	}
	if p.Where != "" {
		data["where"] = p.Where
	}
	if p.ExceptionType != "" {
		data["exception_type"] = p.ExceptionType
	}
	if len(p.Tags) > 0 {
		data["tags"] = p.Tags
	}
	if p.AffectedSession != "" {
		data["affected_session"] = p.AffectedSession
	}
	for k, v := range p.Data {
		data[k] = v
	}

	return schema.NewAlert(
		p.SourceKind+":"+p.SourceID,
		p.SessionKey,
		p.AlertType,
		p.Severity,
		p.Message,
		data,
	)
}

// ExtractPainKey returns the "source_kind:source_id" aggregation key of a
// pain alert, or "unknown:unknown" for alerts that do not follow the
// convention.
func ExtractPainKey(obs *schema.Observation) string {
	p, ok := obs.Alert()
	if !ok {
		return "unknown:unknown"
	}
	kind := stringField(p.Data, "source_kind")
	id := stringField(p.Data, "source_id")
	return kind + ":" + id
}

// ExtractPainSeverity returns the alert severity, or "unknown" for
// non-alert observations.
func ExtractPainSeverity(obs *schema.Observation) string {
	if p, ok := obs.Alert(); ok {
		return string(p.Severity)
	}
	return "unknown"
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "unknown"
}
