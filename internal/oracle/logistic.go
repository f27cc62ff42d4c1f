package oracle

import (
	"context"
	"math"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/grant-scorer/internal/model"
)

// LogisticWeights are the coefficients of a logistic model over the engineered
// applicant features.
type LogisticWeights struct {
	DistanceKm       float64 `yaml:"distance_km"`
	ResidencyYearsIE float64 `yaml:"residency_years_ie"`
	IsImmigrant      float64 `yaml:"is_immigrant"`
	DistGT30         float64 `yaml:"dist_gt_30"`
	ImmGE3           float64 `yaml:"imm_ge_3"`
	MidXDist         float64 `yaml:"mid_x_dist"`

	// One-hot parents_status. Unknown labels contribute nothing.
	ParentsStatus map[string]float64 `yaml:"parents_status"`
}

// Logistic is an immutable logistic-regression oracle.
type Logistic struct {
	Version   string          `yaml:"version"`
	Intercept float64         `yaml:"intercept"`
	Weights   LogisticWeights `yaml:"weights"`
}

// DefaultLogistic returns built-in coefficients that follow the grant rules and
// soften near the 30 km and 3 year borders.
func DefaultLogistic() *Logistic {
	return &Logistic{
		Version:   "builtin-1",
		Intercept: 2.2,
		Weights: LogisticWeights{
			DistanceKm:       0.01,
			ResidencyYearsIE: -0.15,
			IsImmigrant:      0.4,
			DistGT30:         0.3,
			ImmGE3:           -4.5,
			MidXDist:         4.8,
			ParentsStatus: map[string]float64{
				"low":    1.2,
				"middle": -3.6,
				"high":   -6.5,
			},
		},
	}
}

// LoadLogistic reads a logistic model from a YAML file with a top-level "model" key.
func LoadLogistic(path string) (*Logistic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "oracle: read model %s", path)
	}

	var wrapper struct {
		Model Logistic `yaml:"model"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "oracle: parse model")
	}

	m := &wrapper.Model
	if m.Weights.ParentsStatus == nil {
		return nil, eris.Errorf("oracle: model %s has no parents_status weights", path)
	}
	for _, v := range append([]float64{m.Intercept}, m.vector()...) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, eris.Errorf("oracle: model %s has non-finite coefficients", path)
		}
	}
	return m, nil
}

// PredictProbability evaluates the model. It never blocks and ignores ctx.
func (m *Logistic) PredictProbability(_ context.Context, f model.Features) (float64, error) {
	return sigmoid(m.Intercept + dot(m.vector(), engineer(f)) + m.Weights.ParentsStatus[f.ParentsStatus]), nil
}

func (m *Logistic) vector() []float64 {
	w := m.Weights
	return []float64{w.DistanceKm, w.ResidencyYearsIE, w.IsImmigrant, w.DistGT30, w.ImmGE3, w.MidXDist}
}

// engineer expands the raw features in the same order as vector.
func engineer(f model.Features) []float64 {
	distGT30 := f.DistanceKm > 30
	return []float64{
		f.DistanceKm,
		f.ResidencyYearsIE,
		float64(f.IsImmigrant),
		indicator(distGT30),
		indicator(f.IsImmigrant == 1 && f.ResidencyYearsIE >= 3),
		indicator(f.ParentsStatus == string(model.ParentsMiddle) && distGT30),
	}
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
