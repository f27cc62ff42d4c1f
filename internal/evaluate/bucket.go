package evaluate

import (
	"github.com/sells-group/grant-scorer/internal/model"
	"github.com/sells-group/grant-scorer/internal/rules"
)

// Scenario buckets used to slice evaluation metrics.
const (
	BucketApproveEasy     = "APPROVE_easy"
	BucketHighIncome      = "DECLINE_high_income"
	BucketImmigrant3y     = "DECLINE_immigrant>=3y"
	BucketBorderMiddle    = "BORDER_middle_around_30"
	BucketBorderImmigrant = "BORDER_immigrant_around_3y"
	BucketMixRandom       = "MIX_random"

	// Overall is the summary key covering every row.
	Overall = "overall"
)

// BucketOf classifies an applicant that arrived without a bucket. The first
// matching bucket wins.
func BucketOf(a model.Applicant) string {
	switch {
	case a.ParentsStatus == model.ParentsHigh:
		return BucketHighIncome
	case a.IsImmigrant && a.ResidencyYearsIE >= rules.ResidencyCutoffYrs:
		return BucketImmigrant3y
	case a.ParentsStatus == model.ParentsLow && !a.IsImmigrant &&
		a.ResidencyYearsIE < rules.ResidencyCutoffYrs && a.DistanceKm <= rules.DistanceCutoffKm:
		return BucketApproveEasy
	case a.ParentsStatus == model.ParentsMiddle && a.DistanceKm >= 28.8 && a.DistanceKm <= 31.2:
		return BucketBorderMiddle
	case a.IsImmigrant && a.ResidencyYearsIE >= 2.8 && a.ResidencyYearsIE <= 3.2:
		return BucketBorderImmigrant
	default:
		return BucketMixRandom
	}
}

// bucketFor keeps a bucket carried by the row and classifies otherwise.
func bucketFor(r Row) string {
	if r.Bucket != "" {
		return r.Bucket
	}
	return BucketOf(r.Applicant)
}
