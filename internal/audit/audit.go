// Package audit implements the hash-chained, asynchronously persisted audit
// trail: a background writer goroutine, JSONL rotation and retention, and
// query/export over the persisted trail.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Severity is the wire-level severity vocabulary persisted audit events
// use: info < warning < high < critical. Rule-authored Audit actions speak
// a richer Low/Medium/High/Critical vocabulary (internal/policy.AuditSeverity);
// SeverityFromPolicy maps one onto the other at persistence time.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// GTE reports whether s is at least as severe as min, for the
// min_severity query filter.
func (s Severity) GTE(min Severity) bool { return s >= min }

// ParseSeverity parses the wire string form back into a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "info":
		return SeverityInfo, nil
	case "warning":
		return SeverityWarning, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("audit: unknown severity %q", s)
	}
}

// Event is the core chained audit record. Data carries the event's
// JSON-serialized payload as a string.
type Event struct {
	EventType    string
	Data         string
	Timestamp    time.Time
	Hash         string
	PreviousHash string
	Regulation   string
	Severity     Severity
}

// computeHash recomputes the chained hash of an event: SHA-256 over
// event_type || data || RFC3339Nano timestamp || previous_hash. The
// timestamp is hashed as the same RFC3339Nano string that gets persisted,
// so a verifier reading the trail back can reproduce the hash exactly.
func computeHash(e Event) string {
	h := sha256.New()
	h.Write([]byte(e.EventType))
	h.Write([]byte(e.Data))
	h.Write([]byte(e.Timestamp.Format(time.RFC3339Nano)))
	h.Write([]byte(e.PreviousHash))
	return hex.EncodeToString(h.Sum(nil))
}

// chainEvent sets e's PreviousHash to prevHash and computes+installs its own
// Hash. Returns the chained event.
func chainEvent(e Event, prevHash string) Event {
	e.PreviousHash = prevHash
	e.Hash = computeHash(e)
	return e
}

// VerifyChain checks the hash-chain invariant over a sequence of
// persisted events in file order: for i > 0, events[i].PreviousHash must
// equal events[i-1].Hash, and every event's stored Hash must match its
// recomputed hash. Returns the index of the first violation, or -1 if the
// whole chain verifies.
func VerifyChain(events []Event) int {
	var prevHash string
	for i, e := range events {
		if i > 0 && e.PreviousHash != prevHash {
			return i
		}
		if computeHash(e) != e.Hash {
			return i
		}
		prevHash = e.Hash
	}
	return -1
}
