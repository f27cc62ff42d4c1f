package evaluate

import (
	"sort"
)

// DecisionThreshold is the fixed cutoff the headline metrics are reported at.
const DecisionThreshold = 0.5

// Threshold sweep bounds: sweepSteps evenly spaced cutoffs on [sweepStart, sweepStop].
const (
	sweepStart = 0.05
	sweepStop  = 0.95
	sweepSteps = 19
)

// Confusion is a 2x2 matrix indexed [actual][predicted], decline first.
type Confusion [2][2]int

// TN, FP, FN and TP read the matrix cells.
func (c Confusion) TN() int { return c[0][0] }
func (c Confusion) FP() int { return c[0][1] }
func (c Confusion) FN() int { return c[1][0] }
func (c Confusion) TP() int { return c[1][1] }

// NewConfusion tallies predictions against labels.
func NewConfusion(y, yhat []bool) Confusion {
	var c Confusion
	for i := range y {
		c[b2i(y[i])][b2i(yhat[i])]++
	}
	return c
}

// Metrics are the per-bucket evaluation figures. Pointer fields are null when
// the bucket holds a single class.
type Metrics struct {
	N             int       `json:"N"`
	ApproveRateML float64   `json:"approve_rate_ML"`
	Accuracy      float64   `json:"ACC@0.50"`
	AUC           *float64  `json:"AUC"`
	BestThreshold *float64  `json:"best_thr_ACC"`
	BestAccuracy  *float64  `json:"best_ACC"`
	Confusion     Confusion `json:"confusion@0.50"`
}

// Compute evaluates probabilities p against labels y. Both must be non-empty
// and of equal length.
func Compute(y []bool, p []float64) Metrics {
	yhat := Predict(p, DecisionThreshold)

	approved := 0
	for _, v := range yhat {
		if v {
			approved++
		}
	}

	m := Metrics{
		N:             len(y),
		ApproveRateML: float64(approved) / float64(len(y)),
		Accuracy:      Accuracy(y, yhat),
		Confusion:     NewConfusion(y, yhat),
	}
	if auc, ok := AUC(y, p); ok {
		thr, acc := SweepThreshold(y, p)
		m.AUC = &auc
		m.BestThreshold = &thr
		m.BestAccuracy = &acc
	}
	return m
}

// Predict applies a cutoff: p >= thr approves.
func Predict(p []float64, thr float64) []bool {
	out := make([]bool, len(p))
	for i, v := range p {
		out[i] = v >= thr
	}
	return out
}

// Accuracy is the share of matching predictions.
func Accuracy(y, yhat []bool) float64 {
	if len(y) == 0 {
		return 0
	}
	hits := 0
	for i := range y {
		if y[i] == yhat[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(y))
}

// AUC is the area under the ROC curve computed from average ranks, so tied
// scores count half. ok is false when y holds a single class.
func AUC(y []bool, p []float64) (auc float64, ok bool) {
	var pos, neg int
	for _, v := range y {
		if v {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0, false
	}

	order := make([]int, len(p))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return p[order[a]] < p[order[b]] })

	var posRankSum float64
	for i := 0; i < len(order); {
		j := i
		for j+1 < len(order) && p[order[j+1]] == p[order[i]] {
			j++
		}
		// Ranks are 1-based; the tie group i..j shares the mean rank.
		rank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			if y[order[k]] {
				posRankSum += rank
			}
		}
		i = j + 1
	}

	u := posRankSum - float64(pos)*float64(pos+1)/2
	return u / (float64(pos) * float64(neg)), true
}

// SweepThresholds returns the evenly spaced cutoffs tried by SweepThreshold.
func SweepThresholds() []float64 {
	step := (sweepStop - sweepStart) / float64(sweepSteps-1)
	out := make([]float64, sweepSteps)
	for i := range out {
		out[i] = sweepStart + float64(i)*step
	}
	out[sweepSteps-1] = sweepStop
	return out
}

// SweepThreshold finds the cutoff with the best accuracy. The lowest cutoff
// wins ties.
func SweepThreshold(y []bool, p []float64) (thr, acc float64) {
	acc = -1
	for _, t := range SweepThresholds() {
		if a := Accuracy(y, Predict(p, t)); a > acc {
			thr, acc = t, a
		}
	}
	return thr, acc
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
