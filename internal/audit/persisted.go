package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PersistedEvent wraps an Event with the request/session correlation and
// source metadata the host supplies, flattened into a single wire record
// (no nested "event" object).
type PersistedEvent struct {
	ID            string `json:"id"`
	RequestID     string `json:"request_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	Phase         string `json:"phase,omitempty"`
	EventType     string `json:"event_type"`
	Data          string `json:"data"`
	Timestamp     string `json:"timestamp"`
	Hash          string `json:"hash"`
	PreviousHash  string `json:"previous_hash,omitempty"`
	Regulation    string `json:"regulation,omitempty"`
	Severity      string `json:"severity"`
	Model         string `json:"model,omitempty"`
	SourceIPHash  string `json:"source_ip_hash,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	timestampTime time.Time
}

// NewPersistedEvent builds an unchained, unpersisted event record around
// the given event type and JSON-serializable payload. Call chain/Record to
// finish it.
func NewPersistedEvent(eventType string, data any, severity Severity) PersistedEvent {
	payload, _ := json.Marshal(data)
	now := time.Now().UTC()
	return PersistedEvent{
		ID:            "evt_" + uuid.NewString(),
		EventType:     eventType,
		Data:          string(payload),
		Timestamp:     now.Format(time.RFC3339Nano),
		Severity:      severity.String(),
		timestampTime: now,
	}
}

func (p PersistedEvent) WithRequestID(id string) PersistedEvent { p.RequestID = id; return p }
func (p PersistedEvent) WithSessionID(id string) PersistedEvent { p.SessionID = id; return p }
func (p PersistedEvent) WithPhase(phase string) PersistedEvent  { p.Phase = phase; return p }
func (p PersistedEvent) WithModel(model string) PersistedEvent  { p.Model = model; return p }
func (p PersistedEvent) WithRegulation(reg string) PersistedEvent {
	p.Regulation = reg
	return p
}
func (p PersistedEvent) WithSourceIPHash(h string) PersistedEvent { p.SourceIPHash = h; return p }
func (p PersistedEvent) WithUserAgent(ua string) PersistedEvent   { p.UserAgent = ua; return p }

func (p PersistedEvent) toEvent() Event {
	sev, err := ParseSeverity(p.Severity)
	if err != nil {
		sev = SeverityInfo
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		ts = p.timestampTime
	}
	return Event{
		EventType:    p.EventType,
		Data:         p.Data,
		Timestamp:    ts,
		Hash:         p.Hash,
		PreviousHash: p.PreviousHash,
		Regulation:   p.Regulation,
		Severity:     sev,
	}
}

func (p PersistedEvent) withEvent(e Event) PersistedEvent {
	p.Hash = e.Hash
	p.PreviousHash = e.PreviousHash
	return p
}
