package analyzer

import (
	"math"

	"l1sentry/pkg/ml"
)

// ModelVote is one detector's verdict on one sample. Prediction is 1
// when the detector flagged the sample, 0 otherwise; Confidence is the
// magnitude of its decision score.
type ModelVote struct {
	Prediction int     `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// VoteSummary folds every executed detector's verdict on a sample that
// at least one detector flagged.
type VoteSummary struct {
	SampleIndex int
	Agreement   int
	Executed    int
	Confidence  float64
	Persist     bool
	Votes       map[string]ModelVote
}

// AggregateVotes reduces per-detector outputs to per-sample summaries.
// Confidence is (agreement/executed) * (scoreSum/max(agreement,1)), with
// scoreSum taken over agreeing detectors only, clamped to [0,1]. Persist
// is set once agreement reaches ceil(agreementRatio*executed). Samples
// no detector flagged produce no summary. The denominator counts only
// detectors that produced output, so a skipped detector lowers the bar
// rather than silently voting "normal".
func AggregateVotes(outputs []ml.ModelOutput, agreementRatio float64) []VoteSummary {
	if len(outputs) == 0 {
		return nil
	}
	executed := len(outputs)
	quorum := persistQuorum(executed, agreementRatio)

	var summaries []VoteSummary
	for i := range outputs[0].Labels {
		agreement := 0
		scoreSum := 0.0
		for _, out := range outputs {
			if out.Labels[i] == ml.LabelAnomaly {
				agreement++
				scoreSum += math.Abs(out.Scores[i])
			}
		}
		if agreement == 0 {
			continue
		}
		votes := make(map[string]ModelVote, executed)
		for _, out := range outputs {
			pred := 0
			if out.Labels[i] == ml.LabelAnomaly {
				pred = 1
			}
			votes[out.Model] = ModelVote{Prediction: pred, Confidence: math.Abs(out.Scores[i])}
		}
		confidence := clamp(float64(agreement)/float64(executed)*(scoreSum/math.Max(float64(agreement), 1)), 0, 1)
		summaries = append(summaries, VoteSummary{
			SampleIndex: i,
			Agreement:   agreement,
			Executed:    executed,
			Confidence:  confidence,
			Persist:     agreement >= quorum,
			Votes:       votes,
		})
	}
	return summaries
}

// persistQuorum is the minimum agreeing-detector count for persistence.
// The epsilon absorbs float error in ratio*count before the ceil.
func persistQuorum(executed int, ratio float64) int {
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultAgreementRatio
	}
	q := int(math.Ceil(ratio*float64(executed) - 1e-9))
	if q < 1 {
		q = 1
	}
	return q
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
