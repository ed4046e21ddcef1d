package audit

import "github.com/checkstream/gateway/internal/policy"

// SeverityFromPolicy maps a rule-authored policy.AuditSeverity onto the
// wire-level Severity vocabulary persisted events use: Low->Info,
// Medium->Warning, High->High, Critical->Critical.
func SeverityFromPolicy(s policy.AuditSeverity) Severity {
	switch s {
	case policy.SeverityLow:
		return SeverityInfo
	case policy.SeverityMedium:
		return SeverityWarning
	case policy.SeverityHigh:
		return SeverityHigh
	case policy.SeverityCritical:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}
