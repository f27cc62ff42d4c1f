// Package evaluate measures a probability oracle against a labelled applicant
// dataset, overall and per scenario bucket, and compares it with the rules.
package evaluate

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/grant-scorer/internal/model"
	"github.com/sells-group/grant-scorer/internal/rules"
)

// maxExamples caps the disagreement examples kept in a Comparison.
const maxExamples = 5

// Predictor is the oracle under evaluation.
type Predictor interface {
	PredictProbability(ctx context.Context, f model.Features) (float64, error)
}

// Evaluator runs a predictor over a dataset.
type Evaluator struct {
	predictor   Predictor
	concurrency int
}

// New creates an Evaluator predicting up to concurrency rows at once.
func New(p Predictor, concurrency int) *Evaluator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Evaluator{predictor: p, concurrency: concurrency}
}

// Report is the outcome of one evaluation.
type Report struct {
	Rows       []Row
	Buckets    []string
	Labels     []bool
	RuleLabels []bool
	Probs      []float64

	Summary    Summary
	Comparison Comparison
}

// BucketMetrics names one Summary entry.
type BucketMetrics struct {
	Name string
	Metrics
}

// Summary lists "overall" first, then buckets in order of first appearance.
type Summary []BucketMetrics

// Get returns the metrics for name.
func (s Summary) Get(name string) (Metrics, bool) {
	for _, b := range s {
		if b.Name == name {
			return b.Metrics, true
		}
	}
	return Metrics{}, false
}

// MarshalJSON writes the summary as an object keeping entry order.
func (s Summary) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, b := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		// Bucket names carry '>' which the default encoder would escape.
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(b.Name); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
		buf.WriteByte(':')
		if err := enc.Encode(b.Metrics); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Comparison sets the oracle at the 0.50 cutoff against the rules.
type Comparison struct {
	N                 int            `json:"N"`
	AccuracyRules     float64        `json:"acc_rules"`
	AccuracyML        float64        `json:"acc_ml"`
	AUCML             *float64       `json:"auc_ml"`
	DisagreementShare float64        `json:"disagreement_share"`
	RulesVsML         Confusion      `json:"confusion_rules_vs_ml"`
	Examples          []Disagreement `json:"examples"`
}

// Disagreement is one row where the oracle and the rules differ.
type Disagreement struct {
	Applicant model.Applicant `json:"applicant"`
	Rule      bool            `json:"rule"`
	ML        bool            `json:"ml"`
	Prob      float64         `json:"p_ml"`
}

// Run predicts every row and builds the report. Rows without a label are
// labelled by the rules.
func (e *Evaluator) Run(ctx context.Context, ds *Dataset) (*Report, error) {
	if ds == nil || len(ds.Rows) == 0 {
		return nil, eris.New("evaluate: dataset has no rows")
	}

	probs, err := e.Predict(ctx, ds.Rows)
	if err != nil {
		return nil, err
	}

	r := &Report{
		Rows:       ds.Rows,
		Buckets:    make([]string, len(ds.Rows)),
		Labels:     make([]bool, len(ds.Rows)),
		RuleLabels: make([]bool, len(ds.Rows)),
		Probs:      probs,
	}
	fallback := 0
	for i, row := range ds.Rows {
		r.RuleLabels[i] = rules.Approve(row.Applicant)
		if row.Label != nil {
			r.Labels[i] = *row.Label
		} else {
			r.Labels[i] = r.RuleLabels[i]
			fallback++
		}
		r.Buckets[i] = bucketFor(row)
	}
	if fallback > 0 {
		zap.L().Info("evaluate: labelled rows by rules", zap.Int("rows", fallback))
	}

	r.Summary = summarize(r.Buckets, r.Labels, probs)
	r.Comparison = compare(ds.Rows, r.Labels, r.RuleLabels, probs)
	return r, nil
}

// Predict returns one probability per row, in row order.
func (e *Evaluator) Predict(ctx context.Context, rows []Row) ([]float64, error) {
	probs := make([]float64, len(rows))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	var done atomic.Int64
	for i, row := range rows {
		g.Go(func() error {
			p, err := e.predictor.PredictProbability(gCtx, row.Applicant.Features())
			if err != nil {
				return eris.Wrapf(err, "evaluate: predict row %d", i)
			}
			if math.IsNaN(p) || p < 0 || p > 1 {
				return eris.Errorf("evaluate: row %d: probability %v outside [0,1]", i, p)
			}
			probs[i] = p
			done.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Debug("evaluate: predictions complete", zap.Int64("rows", done.Load()))
	return probs, nil
}

func summarize(buckets []string, y []bool, p []float64) Summary {
	summary := Summary{{Name: Overall, Metrics: Compute(y, p)}}

	var order []string
	groups := map[string][]int{}
	for i, b := range buckets {
		if _, seen := groups[b]; !seen {
			order = append(order, b)
		}
		groups[b] = append(groups[b], i)
	}

	for _, b := range order {
		idx := groups[b]
		by := make([]bool, len(idx))
		bp := make([]float64, len(idx))
		for j, i := range idx {
			by[j], bp[j] = y[i], p[i]
		}
		summary = append(summary, BucketMetrics{Name: b, Metrics: Compute(by, bp)})
	}
	return summary
}

func compare(rows []Row, y, yRule []bool, p []float64) Comparison {
	yML := Predict(p, DecisionThreshold)

	c := Comparison{
		N:             len(y),
		AccuracyRules: Accuracy(y, yRule),
		AccuracyML:    Accuracy(y, yML),
		RulesVsML:     NewConfusion(yRule, yML),
		Examples:      []Disagreement{},
	}
	if auc, ok := AUC(y, p); ok {
		c.AUCML = &auc
	}

	diff := 0
	for i := range yML {
		if yML[i] == yRule[i] {
			continue
		}
		diff++
		if len(c.Examples) < maxExamples {
			c.Examples = append(c.Examples, Disagreement{
				Applicant: rows[i].Applicant,
				Rule:      yRule[i],
				ML:        yML[i],
				Prob:      p[i],
			})
		}
	}
	c.DisagreementShare = float64(diff) / float64(len(y))
	return c
}
