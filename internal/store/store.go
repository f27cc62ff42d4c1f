package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/grant-scorer/internal/model"
)

// ErrNotFound is returned when a decision id does not exist.
var ErrNotFound = eris.New("store: decision not found")

// DecisionFilter specifies criteria for listing decisions.
type DecisionFilter struct {
	Decision      model.Decision `json:"decision,omitempty"`
	CreatedAfter  time.Time      `json:"created_after,omitempty"`
	CreatedBefore time.Time      `json:"created_before,omitempty"` // inclusive
	Limit         int            `json:"limit,omitempty"`
	Offset        int            `json:"offset,omitempty"`
}

// Store persists scored decisions for audit.
type Store interface {
	// SaveDecision assigns ID and CreatedAt when unset and writes the record.
	SaveDecision(ctx context.Context, rec *model.DecisionRecord) error
	GetDecision(ctx context.Context, id string) (*model.DecisionRecord, error)
	// ListDecisions returns newest first. Limit defaults to 100.
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.DecisionRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func effectiveLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
