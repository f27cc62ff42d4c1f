package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"

	"github.com/sells-group/grant-scorer/internal/model"
)

// applicantSchema checks request shape only. The status is matched exactly
// ("low", not "Low") by model validation, which also owns value ranges.
const applicantSchema = `{
  "type": "object",
  "required": ["distance_km", "residency_years_ie", "is_immigrant", "parents_status"],
  "properties": {
    "distance_km":        {"type": "number"},
    "residency_years_ie": {"type": "number"},
    "is_immigrant":       {"type": "boolean"},
    "parents_status":     {"type": "string"}
  }
}`

var applicantSchemaLoader = gojsonschema.NewStringLoader(applicantSchema)

type scoreRequest struct {
	DistanceKm       float64 `json:"distance_km"`
	ResidencyYearsIE float64 `json:"residency_years_ie"`
	IsImmigrant      bool    `json:"is_immigrant"`
	ParentsStatus    string  `json:"parents_status"`
}

// decodeApplicant validates body against the applicant schema and builds the
// Applicant. Schema and model violations come back as *model.ValidationError.
func decodeApplicant(body []byte) (model.Applicant, error) {
	result, err := gojsonschema.Validate(applicantSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return model.Applicant{}, &model.ValidationError{Fields: map[string]string{
			"body": "must be a JSON object",
		}}
	}
	if !result.Valid() {
		return model.Applicant{}, schemaError(result.Errors())
	}

	var req scoreRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return model.Applicant{}, eris.Wrap(err, "decode applicant")
	}

	a := model.Applicant{
		DistanceKm:       req.DistanceKm,
		ResidencyYearsIE: req.ResidencyYearsIE,
		IsImmigrant:      req.IsImmigrant,
		ParentsStatus:    model.ParentsStatus(req.ParentsStatus),
	}
	return a, a.Validate()
}

func schemaError(errs []gojsonschema.ResultError) *model.ValidationError {
	fields := make(map[string]string, len(errs))
	for _, e := range errs {
		field := e.Field()
		if e.Type() == "required" {
			if p, ok := e.Details()["property"].(string); ok {
				field = p
			}
		}
		if _, seen := fields[field]; !seen {
			fields[field] = e.Description()
		}
	}
	return &model.ValidationError{Fields: fields}
}
