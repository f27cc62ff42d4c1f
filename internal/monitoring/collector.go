package monitoring

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/grant-scorer/internal/model"
	"github.com/sells-group/grant-scorer/internal/rules"
	"github.com/sells-group/grant-scorer/internal/scorer"
	"github.com/sells-group/grant-scorer/internal/store"
)

const (
	defaultPageSize = 1000
	defaultMaxRows  = 100000
)

// Snapshot holds a point-in-time view of recorded decisions.
type Snapshot struct {
	Total       int     `json:"total"`
	Approved    int     `json:"approved"`
	Declined    int     `json:"declined"`
	ApproveRate float64 `json:"approve_rate"`
	AmountTotal int     `json:"amount_total"`

	// Decisions overridden by a hard-decline rule.
	HardDeclines int `json:"hard_declines"`

	// Oracle usage (within lookback window).
	MLDecisions      int      `json:"ml_decisions"`
	MLOverApprove    int      `json:"ml_over_approve"`
	MLOverDecline    int      `json:"ml_over_decline"`
	DisagreementRate float64  `json:"disagreement_rate"`
	AvgProb          *float64 `json:"avg_prob"`

	// Hits on the invalid parents_status arm. Score validates first, so this
	// stays zero unless a record was written around validation.
	InvalidStatus int `json:"invalid_status"`

	// Metadata. Truncated means the window held more decisions than one
	// snapshot scans and only the newest were summarized.
	Truncated     bool      `json:"truncated"`
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// DecisionLister is the store capability the collector reads from.
type DecisionLister interface {
	ListDecisions(ctx context.Context, filter store.DecisionFilter) ([]model.DecisionRecord, error)
}

// Collector summarizes the audit store.
// It pages through the window pageSize rows at a time, up to maxRows.
type Collector struct {
	store    DecisionLister
	now      func() time.Time
	pageSize int
	maxRows  int
}

// NewCollector creates a new decision collector.
func NewCollector(st DecisionLister) *Collector {
	return &Collector{store: st, now: time.Now, pageSize: defaultPageSize, maxRows: defaultMaxRows}
}

// Collect gathers a snapshot over the given lookback window. A non-positive
// lookback covers every recorded decision.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	// The upper bound keeps offsets stable while new decisions arrive.
	filter := store.DecisionFilter{CreatedBefore: now}
	if lookbackHours > 0 {
		filter.CreatedAfter = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}

	var probSum float64
	var probN int
	for filter.Offset < c.maxRows {
		filter.Limit = min(c.pageSize, c.maxRows-filter.Offset)
		recs, err := c.store.ListDecisions(ctx, filter)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list decisions")
		}
		for _, r := range recs {
			snap.add(r)
			if r.Result.Prob != nil {
				probSum += *r.Result.Prob
				probN++
			}
		}
		if len(recs) < filter.Limit {
			break
		}
		filter.Offset += len(recs)
	}
	if filter.Offset >= c.maxRows {
		filter.Limit = 1
		more, err := c.store.ListDecisions(ctx, filter)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list decisions")
		}
		snap.Truncated = len(more) > 0
	}

	if snap.Total > 0 {
		snap.ApproveRate = float64(snap.Approved) / float64(snap.Total)
	}
	if snap.MLDecisions > 0 {
		snap.DisagreementRate = float64(snap.MLOverApprove+snap.MLOverDecline) / float64(snap.MLDecisions)
	}
	if probN > 0 {
		avg := probSum / float64(probN)
		snap.AvgProb = &avg
	}

	return snap, nil
}

func (s *Snapshot) add(r model.DecisionRecord) {
	s.Total++
	if r.Result.Approved {
		s.Approved++
		s.AmountTotal += r.Result.Amount
	} else {
		s.Declined++
	}

	reasons := r.Result.Reasons
	switch {
	case slices.Contains(reasons, scorer.ReasonRuleOverride):
		s.HardDeclines++
	case slices.Contains(reasons, scorer.ReasonMLApprove):
		s.MLOverApprove++
	case slices.Contains(reasons, scorer.ReasonMLDecline):
		s.MLOverDecline++
	}
	if slices.Contains(reasons, rules.ReasonInvalidParents) {
		s.InvalidStatus++
	}
	if r.UseML {
		s.MLDecisions++
	}
}
