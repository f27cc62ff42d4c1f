package evaluate

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/grant-scorer/internal/model"
)

// Column names shared by the reader, the prediction writer and the dataset
// generator.
const (
	ColDistance  = "distance_km"
	ColResidency = "residency_years_ie"
	ColImmigrant = "is_immigrant"
	ColParents   = "parents_status"
	ColApproved  = "approved"
	ColBucket    = "bucket"
	ColProb      = "p_ml"
	ColPredicted = "y_ml@0.50"
)

var requiredColumns = []string{ColDistance, ColResidency, ColImmigrant, ColParents}

// Row is one applicant read from a dataset.
type Row struct {
	Applicant model.Applicant
	// Label is the recorded outcome; nil when the file carries none for this row.
	Label  *bool
	Bucket string
}

// Dataset is a parsed evaluation input.
type Dataset struct {
	Rows       []Row
	HasLabels  bool
	HasBuckets bool
}

// ReadFile parses a .csv or .xlsx dataset.
func ReadFile(path string) (*Dataset, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "evaluate: open csv")
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(f)
	case ".xlsx":
		return ReadXLSX(path)
	default:
		return nil, eris.Errorf("evaluate: unsupported input %q (want .csv or .xlsx)", path)
	}
}

// ReadCSV parses a header-led CSV dataset.
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "evaluate: read csv")
	}
	return parseTable(records)
}

// ReadXLSX parses the first sheet of a workbook; its first row is the header.
func ReadXLSX(path string) (*Dataset, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "evaluate: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("evaluate: workbook has no sheets")
	}

	sheet := f.Sheets[0]
	records := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		records = append(records, cells)
	}
	return parseTable(records)
}

func parseTable(records [][]string) (*Dataset, error) {
	if len(records) == 0 {
		return nil, eris.New("evaluate: input is empty")
	}

	idx := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("evaluate: missing required columns: %s", strings.Join(missing, ", "))
	}

	_, hasLabels := idx[ColApproved]
	_, hasBuckets := idx[ColBucket]
	ds := &Dataset{
		Rows:       make([]Row, 0, len(records)-1),
		HasLabels:  hasLabels,
		HasBuckets: hasBuckets,
	}

	for n, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		line := n + 2
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		row, err := parseRow(get)
		if err != nil {
			return nil, eris.Wrapf(err, "evaluate: line %d", line)
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func parseRow(get func(string) string) (Row, error) {
	var row Row

	dist, err := strconv.ParseFloat(get(ColDistance), 64)
	if err != nil {
		return row, eris.Wrap(err, ColDistance)
	}
	res, err := strconv.ParseFloat(get(ColResidency), 64)
	if err != nil {
		return row, eris.Wrap(err, ColResidency)
	}
	imm, err := parseFlag(get(ColImmigrant))
	if err != nil {
		return row, eris.Wrap(err, ColImmigrant)
	}
	status, err := model.ParseParentsStatus(get(ColParents))
	if err != nil {
		return row, err
	}

	row.Applicant = model.Applicant{
		DistanceKm:       dist,
		ResidencyYearsIE: res,
		IsImmigrant:      imm,
		ParentsStatus:    status,
	}
	if err := row.Applicant.Validate(); err != nil {
		return row, err
	}

	if v := get(ColApproved); v != "" {
		label, err := parseFlag(v)
		if err != nil {
			return row, eris.Wrap(err, ColApproved)
		}
		row.Label = &label
	}
	row.Bucket = get(ColBucket)
	return row, nil
}

// parseFlag accepts true/false spellings as well as numeric 0/1 ("1.0" included).
func parseFlag(s string) (bool, error) {
	if b, err := strconv.ParseBool(s); err == nil {
		return b, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false, eris.Errorf("not a boolean: %q", s)
	}
	return f != 0, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
