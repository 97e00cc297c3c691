package analyzer

import "strings"

// Severity grades an anomaly for triage and persistence decisions.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Anomaly categories derived from the capture source name.
const (
	CategoryDURU     = "DU-RU Communication"
	CategoryUEEvent  = "UE Event Pattern"
	CategoryTiming   = "Timing Synchronization"
	CategoryProtocol = "Protocol Violation"
)

// SeverityFor grades a record from ensemble confidence plus model
// agreement. Escalation to critical requires broad agreement, not just
// a loud score.
func SeverityFor(confidence float64, agreement int) Severity {
	switch {
	case confidence > 0.9 && agreement >= 3:
		return SeverityCritical
	case confidence > 0.7 && agreement >= 2:
		return SeverityHigh
	case confidence > 0.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SeverityFromConfidence grades on confidence alone, for call sites
// without agreement context (single-sample scoring paths).
func SeverityFromConfidence(confidence float64) Severity {
	switch {
	case confidence > 0.8:
		return SeverityCritical
	case confidence > 0.6:
		return SeverityHigh
	case confidence > 0.4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// CategoryFor buckets anomalies by source file name. Substring checks on
// the lowercased name, first hit wins; this is a documented heuristic,
// not a learned classifier.
func CategoryFor(filename string) string {
	name := strings.ToLower(filename)
	switch {
	case strings.Contains(name, "du") || strings.Contains(name, "ru"):
		return CategoryDURU
	case strings.Contains(name, "ue"):
		return CategoryUEEvent
	case strings.Contains(name, "timing") || strings.Contains(name, "sync"):
		return CategoryTiming
	default:
		return CategoryProtocol
	}
}
