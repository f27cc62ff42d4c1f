// Package scorer fuses the grant rules with an optional probability oracle into a
// single decision carrying its reason trail.
package scorer

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grant-scorer/internal/metrics"
	"github.com/sells-group/grant-scorer/internal/model"
	"github.com/sells-group/grant-scorer/internal/rules"
)

// Reason markers appended by the fuser.
const (
	ReasonRuleOverride = "rule override"
	ReasonMLApprove    = "ml ≥ thr"
	ReasonMLDecline    = "ml < thr"
)

// Oracle produces a calibrated approval probability in [0,1].
type Oracle interface {
	PredictProbability(ctx context.Context, f model.Features) (float64, error)
}

// Scorer is safe for concurrent use.
type Scorer struct {
	oracle  Oracle
	metrics *metrics.Metrics
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scorer) { s.metrics = m }
}

// New creates a Scorer. oracle may be nil when only rules-only scoring is needed;
// ML scoring then fails with ErrNoOracle.
func New(oracle Oracle, opts ...Option) *Scorer {
	s := &Scorer{oracle: oracle}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ErrNoOracle is returned when ML scoring is requested without an oracle.
var ErrNoOracle = eris.New("scorer: ml requested but no oracle configured")

// Score decides one applicant.
func (s *Scorer) Score(ctx context.Context, a model.Applicant, opts Options) (*model.ScoreResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveScoreLatency(time.Since(start)) }()

	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	// The probability is fetched before the hard-decline check so it is shown
	// even when a rule overrides it.
	var prob *float64
	if opts.UseML {
		p, err := s.predict(ctx, a.Features())
		if err != nil {
			return nil, err
		}
		prob = &p
	}

	if hd, reason := rules.HardDecline(a); hd {
		s.metrics.IncrementOutcome(string(model.DecisionDecline), metrics.PathHardDecline)
		return result(false, 0, prob, reason, ReasonRuleOverride), nil
	}

	okRule, reason := rules.RuleDecision(a)
	// Unreachable while Validate runs first. Kept so a validation regression
	// shows up as a logged, counted decline instead of a silent one.
	if reason == rules.ReasonInvalidParents {
		s.metrics.IncrementFallback()
		zap.L().Error("scorer: invalid parents_status reached rule fallback",
			zap.String("parents_status", string(a.ParentsStatus)),
		)
	}

	ok := okRule
	reasons := []string{reason}
	path := metrics.PathRules

	if opts.UseML {
		okML := prob != nil && *prob >= opts.Threshold
		if okML != okRule {
			if okML {
				reasons = append(reasons, ReasonMLApprove)
				s.metrics.IncrementDisagreement(string(model.DecisionApprove))
			} else {
				reasons = append(reasons, ReasonMLDecline)
				s.metrics.IncrementDisagreement(string(model.DecisionDecline))
			}
		}
		ok = okML
		path = metrics.PathML
	}

	amount := 0
	if ok {
		amount = rules.AmountByDistance(a.DistanceKm)
	}

	s.metrics.IncrementOutcome(string(model.DecisionFor(ok)), path)
	return result(ok, amount, prob, reasons...), nil
}

func (s *Scorer) predict(ctx context.Context, f model.Features) (float64, error) {
	if s.oracle == nil {
		return 0, ErrNoOracle
	}

	start := time.Now()
	p, err := s.oracle.PredictProbability(ctx, f)
	s.metrics.ObserveOracleLatency(time.Since(start))
	if err != nil {
		return 0, eris.Wrap(err, "scorer: oracle")
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, eris.Errorf("scorer: oracle returned probability %v outside [0,1]", p)
	}
	return p, nil
}

func result(ok bool, amount int, prob *float64, reasons ...string) *model.ScoreResult {
	return &model.ScoreResult{
		Approved: ok,
		Decision: model.DecisionFor(ok),
		Amount:   amount,
		Prob:     prob,
		Reasons:  reasons,
	}
}
