// Package schema defines the Observation event model shared by every
// component of the core. An Observation is the only thing adapters produce
// and the only thing the bus, router, gate, and agent consume.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ObsType classifies what kind of world event was observed.
type ObsType string

// Observation types.
const (
	ObsMessage   ObsType = "message"
	ObsSchedule  ObsType = "schedule"
	ObsAlert     ObsType = "alert"
	ObsControl   ObsType = "control"
	ObsSystem    ObsType = "system"
	ObsWorldData ObsType = "world_data"
)

// SourceKind tells whether the observation came from the outside world or
// from the system itself. Used for observability, never for decisions.
type SourceKind string

// Source kinds.
const (
	SourceExternal SourceKind = "external"
	SourceInternal SourceKind = "internal"
)

// ActorType classifies who caused an observation.
type ActorType string

// Actor types.
const (
	ActorUser    ActorType = "user"
	ActorSystem  ActorType = "system"
	ActorService ActorType = "service"
	ActorUnknown ActorType = "unknown"
)

// Severity grades an alert.
type Severity string

// Alert severities.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AgentSourcePrefix marks observations emitted by the agent itself.
// Observations whose SourceName carries this prefix must never re-enter
// the agent path (loop prevention).
const AgentSourcePrefix = "agent:"

// Actor identifies who caused an observation.
type Actor struct {
	ActorID     string    `json:"actor_id"`
	ActorType   ActorType `json:"actor_type"`
	DisplayName string    `json:"display_name,omitempty"`
}

// EvidenceRef points at the raw event an observation was derived from.
// Used for audit and replay only.
type EvidenceRef struct {
	RawEventID  string         `json:"raw_event_id,omitempty"`
	RawEventURI string         `json:"raw_event_uri,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// AttachmentRef references attached content without carrying bytes.
type AttachmentRef struct {
	ID        string `json:"id"`
	Kind      string `json:"kind,omitempty"`
	URI       string `json:"uri,omitempty"`
	Filename  string `json:"filename,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Payload is the tagged union carried by an Observation. The concrete type
// must match the observation's ObsType; Validate enforces the pairing.
type Payload interface {
	payloadType() ObsType
}

// MessagePayload carries a conversational message.
type MessagePayload struct {
	Text        string          `json:"text,omitempty"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
	Extra       map[string]any  `json:"extra,omitempty"`
}

func (*MessagePayload) payloadType() ObsType { return ObsMessage }

// Empty reports whether the message has neither text nor attachments.
func (p *MessagePayload) Empty() bool {
	return strings.TrimSpace(p.Text) == "" && len(p.Attachments) == 0
}

// SchedulePayload carries a timer or scheduler tick.
type SchedulePayload struct {
	ScheduleID string         `json:"schedule_id"`
	Data       map[string]any `json:"data,omitempty"`
}

func (*SchedulePayload) payloadType() ObsType { return ObsSchedule }

// AlertPayload carries an alert or anomaly report.
type AlertPayload struct {
	AlertType string         `json:"alert_type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func (*AlertPayload) payloadType() ObsType { return ObsAlert }

// ControlPayload carries a control-plane command.
type ControlPayload struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data,omitempty"`
}

func (*ControlPayload) payloadType() ObsType { return ObsControl }

// SystemPayload carries an internal system event.
type SystemPayload struct {
	Kind string         `json:"kind,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

func (*SystemPayload) payloadType() ObsType { return ObsSystem }

// WorldDataPayload carries structured external data (tool results,
// sensor readings).
type WorldDataPayload struct {
	SchemaID string         `json:"schema_id"`
	Data     map[string]any `json:"data"`
}

func (*WorldDataPayload) payloadType() ObsType { return ObsWorldData }

// Observation is the universal typed event unit. It is immutable after
// construction except for Metadata, which the core may amend with
// correlation ids (memory_event_id, memory_turn_id, fallback markers).
type Observation struct {
	ObsID      string       `json:"obs_id"`
	ObsType    ObsType      `json:"obs_type"`
	SourceName string       `json:"source_name"`
	SourceKind SourceKind   `json:"source_kind"`
	SessionKey string       `json:"session_key,omitempty"`
	Actor      Actor        `json:"actor"`
	Timestamp  time.Time    `json:"timestamp"`
	ReceivedAt time.Time    `json:"received_at"`
	Payload    Payload      `json:"payload"`
	Evidence   *EvidenceRef `json:"evidence,omitempty"`

	// Metadata is the only mutable field. It belongs to the observation's
	// processing pipeline; adapters should leave it empty.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validation errors.
var (
	ErrMissingSource     = errors.New("source_name must not be empty")
	ErrMissingPayload    = errors.New("payload must not be nil")
	ErrPayloadMismatch   = errors.New("payload variant does not match obs_type")
	ErrMissingSchemaID   = errors.New("world_data payload requires schema_id")
	ErrMissingAlertType  = errors.New("alert payload requires alert_type")
	ErrMissingScheduleID = errors.New("schedule payload requires schedule_id")
)

// Validate performs the minimal construction-time checks: source present,
// payload variant matching obs_type, and variant-specific required fields.
func (o *Observation) Validate() error {
	if o.SourceName == "" {
		return ErrMissingSource
	}
	if o.Payload == nil {
		return ErrMissingPayload
	}
	if o.Payload.payloadType() != o.ObsType {
		return fmt.Errorf("%w: obs_type=%s payload=%s", ErrPayloadMismatch, o.ObsType, o.Payload.payloadType())
	}
	switch p := o.Payload.(type) {
	case *WorldDataPayload:
		if p.SchemaID == "" {
			return ErrMissingSchemaID
		}
	case *AlertPayload:
		if p.AlertType == "" {
			return ErrMissingAlertType
		}
	case *SchedulePayload:
		if p.ScheduleID == "" {
			return ErrMissingScheduleID
		}
	}
	return nil
}

// Message returns the message payload when the observation carries one.
func (o *Observation) Message() (*MessagePayload, bool) {
	p, ok := o.Payload.(*MessagePayload)
	return p, ok
}

// Alert returns the alert payload when the observation carries one.
func (o *Observation) Alert() (*AlertPayload, bool) {
	p, ok := o.Payload.(*AlertPayload)
	return p, ok
}

// Control returns the control payload when the observation carries one.
func (o *Observation) Control() (*ControlPayload, bool) {
	p, ok := o.Payload.(*ControlPayload)
	return p, ok
}

// Schedule returns the schedule payload when the observation carries one.
func (o *Observation) Schedule() (*SchedulePayload, bool) {
	p, ok := o.Payload.(*SchedulePayload)
	return p, ok
}

// WorldData returns the world-data payload when the observation carries one.
func (o *Observation) WorldData() (*WorldDataPayload, bool) {
	p, ok := o.Payload.(*WorldDataPayload)
	return p, ok
}

// AgentOriginated reports whether the observation was emitted by the agent
// itself (source_name prefixed "agent:").
func (o *Observation) AgentOriginated() bool {
	return strings.HasPrefix(o.SourceName, AgentSourcePrefix)
}

// SetMeta amends the observation metadata, allocating the map lazily.
func (o *Observation) SetMeta(key string, value any) {
	if o.Metadata == nil {
		o.Metadata = make(map[string]any)
	}
	o.Metadata[key] = value
}

// New constructs an Observation with a fresh id and both timestamps set to
// now. The caller is expected to Validate before publishing.
func New(obsType ObsType, sourceName string, sourceKind SourceKind, payload Payload) *Observation {
	now := time.Now().UTC()
	return &Observation{
		ObsID:      uuid.NewString(),
		ObsType:    obsType,
		SourceName: sourceName,
		SourceKind: sourceKind,
		Timestamp:  now,
		ReceivedAt: now,
		Payload:    payload,
	}
}

// NewMessage builds a validated MESSAGE observation from a user actor.
func NewMessage(sourceName, sessionKey, actorID, text string) (*Observation, error) {
	obs := New(ObsMessage, sourceName, SourceExternal, &MessagePayload{Text: text})
	obs.SessionKey = sessionKey
	actorType := ActorUnknown
	if actorID != "" {
		actorType = ActorUser
	}
	obs.Actor = Actor{ActorID: actorID, ActorType: actorType}
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	return obs, nil
}

// NewAlert builds an internal ALERT observation addressed to the given
// session (usually the system session).
func NewAlert(sourceName, sessionKey, alertType string, severity Severity, message string, data map[string]any) *Observation {
	obs := New(ObsAlert, sourceName, SourceInternal, &AlertPayload{
		AlertType: alertType,
		Severity:  severity,
		Message:   message,
		Data:      data,
	})
	obs.SessionKey = sessionKey
	obs.Actor = Actor{ActorID: "system", ActorType: ActorSystem}
	return obs
}

// NewControl builds an internal CONTROL observation.
func NewControl(sourceName, sessionKey, kind string, data map[string]any) *Observation {
	obs := New(ObsControl, sourceName, SourceInternal, &ControlPayload{Kind: kind, Data: data})
	obs.SessionKey = sessionKey
	obs.Actor = Actor{ActorID: "system", ActorType: ActorSystem}
	return obs
}

// NewSchedule builds a SCHEDULE observation.
func NewSchedule(sourceName, sessionKey, scheduleID string, data map[string]any) *Observation {
	obs := New(ObsSchedule, sourceName, SourceInternal, &SchedulePayload{ScheduleID: scheduleID, Data: data})
	obs.SessionKey = sessionKey
	obs.Actor = Actor{ActorID: "system", ActorType: ActorSystem}
	return obs
}
