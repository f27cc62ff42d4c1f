// Package rules holds the deterministic grant policy: hard declines, the baseline
// approve/decline verdict and the distance-based award tiers.
package rules

import "github.com/sells-group/grant-scorer/internal/model"

// Award tiers, keyed on the distance cutoff.
const (
	DistanceCutoffKm   = 30.0
	ResidencyCutoffYrs = 3.0

	AmountNear = 2560
	AmountFar  = 5697
)

// Reason strings surfaced in ScoreResult.Reasons.
const (
	ReasonParentsHigh    = "parents high income"
	ReasonImmigrant3y    = "immigrant ≥3y"
	ReasonLowIncome      = "low income"
	ReasonMiddleFar      = "middle & distance >30km"
	ReasonMiddleNear     = "middle & distance ≤30km"
	ReasonInvalidParents = "invalid parents_status"
)

// AmountByDistance returns the award for an applicant living distanceKm away.
// The cutoff itself belongs to the near tier.
func AmountByDistance(distanceKm float64) int {
	if distanceKm <= DistanceCutoffKm {
		return AmountNear
	}
	return AmountFar
}

// HardDecline reports whether a policy rule rejects the applicant outright.
// Parents income is checked before residency.
func HardDecline(a model.Applicant) (bool, string) {
	if a.ParentsStatus == model.ParentsHigh {
		return true, ReasonParentsHigh
	}
	if a.IsImmigrant && a.ResidencyYearsIE >= ResidencyCutoffYrs {
		return true, ReasonImmigrant3y
	}
	return false, ""
}

// RuleDecision is the baseline verdict for applicants that passed HardDecline.
func RuleDecision(a model.Applicant) (bool, string) {
	switch a.ParentsStatus {
	case model.ParentsLow:
		return true, ReasonLowIncome
	case model.ParentsMiddle:
		if a.DistanceKm > DistanceCutoffKm {
			return true, ReasonMiddleFar
		}
		return false, ReasonMiddleNear
	default:
		// Unreachable for validated applicants.
		return false, ReasonInvalidParents
	}
}

// Approve is the rules-only label: hard decline first, then the baseline verdict.
func Approve(a model.Applicant) bool {
	if hd, _ := HardDecline(a); hd {
		return false
	}
	ok, _ := RuleDecision(a)
	return ok
}
