// Package dataset generates synthetic applicant datasets for evaluating the
// oracle: labelled scenario blocks around the policy borders and unlabelled
// uniform samples.
package dataset

import (
	"encoding/csv"
	"io"
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/grant-scorer/internal/evaluate"
	"github.com/sells-group/grant-scorer/internal/model"
	"github.com/sells-group/grant-scorer/internal/rules"
)

// Defaults used by the generate command.
const (
	DefaultSeed     = 42
	DefaultNEach    = 4000
	DefaultNoise    = 0.03
	DefaultRandomN  = 50000
	duplicateFactor = 10 // Random appends n/duplicateFactor repeated rows
)

// Generator draws rows from a seeded source; equal seeds give equal datasets.
// It is not safe for concurrent use.
type Generator struct {
	rng *rand.Rand
}

// New creates a Generator seeded with seed.
func New(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Scenarios builds six labelled blocks of nEach rows, one per bucket, then
// flips each label with probability noise.
func (g *Generator) Scenarios(nEach int, noise float64) *evaluate.Dataset {
	ds := &evaluate.Dataset{
		Rows:       make([]evaluate.Row, 0, 6*nEach),
		HasLabels:  true,
		HasBuckets: true,
	}
	blocks := []func() evaluate.Row{
		g.approveEasy,
		g.highIncome,
		g.immigrant3y,
		g.borderMiddle,
		g.borderImmigrant,
		g.mixRandom,
	}
	for _, block := range blocks {
		for range nEach {
			ds.Rows = append(ds.Rows, block())
		}
	}

	if noise > 0 {
		for i := range ds.Rows {
			if g.rng.Float64() < noise {
				flipped := !*ds.Rows[i].Label
				ds.Rows[i].Label = &flipped
			}
		}
	}
	return ds
}

// Random builds n unlabelled uniform rows followed by n/10 rows repeated
// from among them.
func (g *Generator) Random(n int) *evaluate.Dataset {
	statuses := model.ParentsStatuses
	rows := make([]evaluate.Row, 0, n+n/duplicateFactor)
	for range n {
		rows = append(rows, evaluate.Row{Applicant: model.Applicant{
			DistanceKm:       round1(g.uniform(0, 100)),
			ResidencyYearsIE: round1(g.uniform(0, 10)),
			IsImmigrant:      g.rng.IntN(2) == 1,
			ParentsStatus:    statuses[g.rng.IntN(len(statuses))],
		}})
	}
	for range n / duplicateFactor {
		rows = append(rows, rows[g.rng.IntN(n)])
	}
	return &evaluate.Dataset{Rows: rows}
}

func (g *Generator) approveEasy() evaluate.Row {
	return labelled(evaluate.BucketApproveEasy, true, model.Applicant{
		DistanceKm:       round1(g.uniform(0, 30)),
		ResidencyYearsIE: round1(g.uniform(0, 3)),
		ParentsStatus:    model.ParentsLow,
	})
}

func (g *Generator) highIncome() evaluate.Row {
	return labelled(evaluate.BucketHighIncome, false, model.Applicant{
		DistanceKm:       round1(g.uniform(0, 80)),
		ResidencyYearsIE: round1(g.uniform(0, 6)),
		IsImmigrant:      g.rng.IntN(2) == 1,
		ParentsStatus:    model.ParentsHigh,
	})
}

func (g *Generator) immigrant3y() evaluate.Row {
	return labelled(evaluate.BucketImmigrant3y, false, model.Applicant{
		DistanceKm:       round1(g.uniform(0, 80)),
		ResidencyYearsIE: round1(g.uniform(3, 6)),
		IsImmigrant:      true,
		ParentsStatus:    g.status(0.6, 0.4, 0),
	})
}

// borderMiddle labels from the unrounded distance, so rows rounding onto
// 30.0 can carry either label.
func (g *Generator) borderMiddle() evaluate.Row {
	d := clamp(30+1.2*g.rng.NormFloat64(), 0, 80)
	return labelled(evaluate.BucketBorderMiddle, d > rules.DistanceCutoffKm, model.Applicant{
		DistanceKm:       round1(d),
		ResidencyYearsIE: round1(g.uniform(0, 6)),
		IsImmigrant:      g.rng.Float64() < 0.2,
		ParentsStatus:    model.ParentsMiddle,
	})
}

func (g *Generator) borderImmigrant() evaluate.Row {
	y := clamp(3+0.15*g.rng.NormFloat64(), 0, 6)
	return labelled(evaluate.BucketBorderImmigrant, y < rules.ResidencyCutoffYrs, model.Applicant{
		DistanceKm:       round1(g.uniform(0, 80)),
		ResidencyYearsIE: round1(y),
		IsImmigrant:      true,
		ParentsStatus:    g.status(0.7, 0.3, 0),
	})
}

func (g *Generator) mixRandom() evaluate.Row {
	a := model.Applicant{
		DistanceKm:       round1(g.uniform(0, 80)),
		ResidencyYearsIE: round1(g.uniform(0, 6)),
		IsImmigrant:      g.rng.Float64() < 0.35,
		ParentsStatus:    g.status(0.5, 0.35, 0.15),
	}
	return labelled(evaluate.BucketMixRandom, rules.Approve(a), a)
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// status draws low/middle/high with the given weights.
func (g *Generator) status(low, middle, high float64) model.ParentsStatus {
	u := g.rng.Float64() * (low + middle + high)
	switch {
	case u < low:
		return model.ParentsLow
	case u < low+middle:
		return model.ParentsMiddle
	default:
		return model.ParentsHigh
	}
}

func labelled(bucket string, approved bool, a model.Applicant) evaluate.Row {
	return evaluate.Row{Applicant: a, Label: &approved, Bucket: bucket}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// WriteCSV writes ds in the layout the evaluator reads. The approved and
// bucket columns are written when the dataset carries them.
func WriteCSV(w io.Writer, ds *evaluate.Dataset) error {
	cw := csv.NewWriter(w)

	header := []string{evaluate.ColDistance, evaluate.ColResidency, evaluate.ColImmigrant, evaluate.ColParents}
	if ds.HasLabels {
		header = append(header, evaluate.ColApproved)
	}
	if ds.HasBuckets {
		header = append(header, evaluate.ColBucket)
	}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "dataset: write header")
	}

	for _, r := range ds.Rows {
		rec := []string{
			strconv.FormatFloat(r.Applicant.DistanceKm, 'f', 1, 64),
			strconv.FormatFloat(r.Applicant.ResidencyYearsIE, 'f', 1, 64),
			strconv.FormatBool(r.Applicant.IsImmigrant),
			string(r.Applicant.ParentsStatus),
		}
		if ds.HasLabels {
			label := "0"
			if r.Label != nil && *r.Label {
				label = "1"
			}
			rec = append(rec, label)
		}
		if ds.HasBuckets {
			rec = append(rec, r.Bucket)
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "dataset: write row")
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "dataset: flush csv")
}
