// Package oracle provides probability oracles: predictors that return a calibrated
// approval probability for an applicant's features.
package oracle

import (
	"context"

	"github.com/sells-group/grant-scorer/internal/model"
)

// Predictor returns an approval probability in [0,1].
type Predictor interface {
	PredictProbability(ctx context.Context, f model.Features) (float64, error)
}

// Func adapts an ordinary function to Predictor.
type Func func(ctx context.Context, f model.Features) (float64, error)

// PredictProbability calls fn.
func (fn Func) PredictProbability(ctx context.Context, f model.Features) (float64, error) {
	return fn(ctx, f)
}

// Fixed returns a Predictor that always answers p.
func Fixed(p float64) Predictor {
	return Func(func(context.Context, model.Features) (float64, error) { return p, nil })
}
