package validation

import "github.com/procuresight/procuresight/internal/models"

// Per-issue confidence factors. Errors weigh much heavier than warnings so
// that the mapping stays monotonic: every additional issue strictly reduces
// confidence, and an error reduces it more than any warning.
const (
	errorFactor   = 0.5
	warningFactor = 0.9

	// ReviewThreshold is the confidence floor below which an invoice is
	// routed to a human even when it has no hard errors.
	ReviewThreshold = 0.7
)

// Confidence summarizes how trustworthy a validation outcome is.
type Confidence struct {
	Overall     float64            `json:"overall"`
	Fields      map[string]float64 `json:"fields"`
	NeedsReview bool               `json:"needs_review"`
}

// ComputeConfidence derives a confidence score from the shape of a
// validation report. The overall score starts at 1.0 and decays
// multiplicatively per issue; field scores decay only for issues on that
// field path, so untouched fields stay at 1.0 implicitly.
func ComputeConfidence(report *models.ValidationReport) Confidence {
	overall := 1.0
	fields := make(map[string]float64)

	apply := func(issues []models.ValidationIssue, factor float64) {
		for _, is := range issues {
			overall *= factor
			cur, ok := fields[is.Field]
			if !ok {
				cur = 1.0
			}
			fields[is.Field] = cur * factor
		}
	}
	apply(report.Errors, errorFactor)
	apply(report.Warnings, warningFactor)

	return Confidence{
		Overall:     overall,
		Fields:      fields,
		NeedsReview: report.HasErrors() || overall < ReviewThreshold,
	}
}
