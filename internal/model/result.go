package model

import "time"

// Decision is the final verdict label.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDecline Decision = "decline"
)

// DecisionFor maps an approval flag onto its label.
func DecisionFor(approved bool) Decision {
	if approved {
		return DecisionApprove
	}
	return DecisionDecline
}

// ScoreResult is the outcome of scoring one applicant.
type ScoreResult struct {
	Approved bool     `json:"approved"`
	Decision Decision `json:"decision"`
	Amount   int      `json:"amount"`
	Prob     *float64 `json:"prob"`
	Reasons  []string `json:"reasons"`
}

// DecisionRecord is a persisted scoring, kept for audit.
type DecisionRecord struct {
	ID        string      `json:"id"`
	Applicant Applicant   `json:"applicant"`
	Result    ScoreResult `json:"result"`
	UseML     bool        `json:"use_ml"`
	Threshold float64     `json:"threshold"`
	CreatedAt time.Time   `json:"created_at"`
}
