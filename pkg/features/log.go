// Package features turns raw telecom log lines and fronthaul packets
// into the fixed-width numeric vectors the detector ensemble consumes.
package features

import (
	"strings"
	"unicode"
)

// LogFeatureCount is the dimensionality of log-derived vectors.
const LogFeatureCount = 18

// LogFeatureNames index-aligns with vectors from FromLogLine. The names
// are part of the explanation output contract.
var LogFeatureNames = []string{
	"line_length", "line_position", "word_count", "colon_count",
	"bracket_count", "error_mentions", "warning_mentions",
	"critical_mentions", "timeout_mentions", "failed_mentions",
	"lost_mentions", "retry_mentions", "digit_count", "du_ru_mention",
	"ue_mention", "timing_issues", "packet_mention", "ue_events",
}

// keyword counts run against the raw line; the binary indicators run
// against a lowercased copy.
var logKeywords = []string{"error", "warning", "critical", "timeout", "failed", "lost", "retry"}

// FromLogLine extracts the feature vector for one line at its 0-based
// position in the file. ok is false for non-informative lines (shorter
// than 5 characters after trimming), which are excluded from the batch
// entirely rather than zero-filled.
func FromLogLine(line string, position int) (vector []float64, ok bool) {
	lower := strings.TrimSpace(strings.ToLower(line))
	if len(lower) < 5 {
		return nil, false
	}

	vector = make([]float64, 0, LogFeatureCount)
	vector = append(vector,
		float64(len(line)),
		float64(position),
		float64(strings.Count(line, " ")),
		float64(strings.Count(line, ":")),
		float64(strings.Count(line, "[")),
	)
	for _, kw := range logKeywords {
		vector = append(vector, float64(strings.Count(line, kw)))
	}
	vector = append(vector,
		float64(digitCount(line)),
		indicator(strings.Contains(lower, "du") && strings.Contains(lower, "ru")),
		indicator(strings.Contains(lower, "ue")),
		indicator(containsAny(lower, "jitter", "latency", "delay")),
		indicator(containsAny(lower, "packet", "frame")),
		indicator(containsAny(lower, "attach", "detach")),
	)
	return vector, true
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func containsAny(s string, tokens ...string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
