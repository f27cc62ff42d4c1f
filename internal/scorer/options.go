package scorer

import (
	"math"

	"github.com/sells-group/grant-scorer/internal/config"
	"github.com/sells-group/grant-scorer/internal/model"
)

// Options are the per-call knobs of Score.
type Options struct {
	UseML     bool
	Threshold float64
}

// DefaultOptions consults the oracle with a 0.5 cutoff.
func DefaultOptions() Options {
	return Options{UseML: true, Threshold: 0.5}
}

// OptionsFromConfig maps the scoring config section onto Options.
func OptionsFromConfig(c config.ScoringConfig) Options {
	return Options{UseML: c.UseML, Threshold: c.Threshold}
}

// Validate checks that the threshold is a probability.
func (o Options) Validate() error {
	if math.IsNaN(o.Threshold) || o.Threshold < 0 || o.Threshold > 1 {
		return &model.ValidationError{Fields: map[string]string{
			"threshold": "must be within [0, 1]",
		}}
	}
	return nil
}
