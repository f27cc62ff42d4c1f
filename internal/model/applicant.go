package model

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// ParentsStatus is the declared household income band of the applicant's parents.
type ParentsStatus string

const (
	ParentsLow    ParentsStatus = "low"
	ParentsMiddle ParentsStatus = "middle"
	ParentsHigh   ParentsStatus = "high"
)

// ParentsStatuses lists every valid status in one-hot order.
var ParentsStatuses = []ParentsStatus{ParentsLow, ParentsMiddle, ParentsHigh}

// Valid reports whether s is one of the enumerated statuses.
func (s ParentsStatus) Valid() bool {
	switch s {
	case ParentsLow, ParentsMiddle, ParentsHigh:
		return true
	}
	return false
}

// ParseParentsStatus maps free-form input ("Low", " MIDDLE ") onto a status.
func ParseParentsStatus(raw string) (ParentsStatus, error) {
	s := ParentsStatus(cases.Fold().String(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", &ValidationError{Fields: map[string]string{
			"parents_status": fmt.Sprintf("must be one of low, middle, high (got %q)", raw),
		}}
	}
	return s, nil
}

// Applicant is a single grant application.
type Applicant struct {
	DistanceKm       float64       `json:"distance_km"`
	ResidencyYearsIE float64       `json:"residency_years_ie"`
	IsImmigrant      bool          `json:"is_immigrant"`
	ParentsStatus    ParentsStatus `json:"parents_status"`
}

// Validate checks field constraints and reports every violation at once.
func (a Applicant) Validate() error {
	fields := map[string]string{}
	if math.IsNaN(a.DistanceKm) || a.DistanceKm < 0 {
		fields["distance_km"] = "must be a non-negative number"
	}
	if math.IsNaN(a.ResidencyYearsIE) || a.ResidencyYearsIE < 0 {
		fields["residency_years_ie"] = "must be a non-negative number"
	}
	if !a.ParentsStatus.Valid() {
		fields["parents_status"] = fmt.Sprintf("must be one of low, middle, high (got %q)", a.ParentsStatus)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Features returns the oracle encoding of the applicant.
func (a Applicant) Features() Features {
	f := Features{
		DistanceKm:       a.DistanceKm,
		ResidencyYearsIE: a.ResidencyYearsIE,
		ParentsStatus:    string(a.ParentsStatus),
	}
	if a.IsImmigrant {
		f.IsImmigrant = 1
	}
	return f
}

// Features is the numeric view of an Applicant handed to a probability oracle.
type Features struct {
	DistanceKm       float64 `json:"distance_km"`
	ResidencyYearsIE float64 `json:"residency_years_ie"`
	IsImmigrant      int     `json:"is_immigrant"`
	ParentsStatus    string  `json:"parents_status"`
}

// Key returns a stable string identifying the feature vector.
func (f Features) Key() string {
	return fmt.Sprintf("%g|%g|%d|%s", f.DistanceKm, f.ResidencyYearsIE, f.IsImmigrant, f.ParentsStatus)
}

// ValidationError describes invalid input, keyed by field name.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
