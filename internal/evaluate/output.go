package evaluate

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
)

// Output file names written by WriteAll.
const (
	PredictionsFile = "preds_from_csv.csv"
	MetricsFile     = "metrics_from_csv.json"
	ComparisonFile  = "rules_vs_ml.json"
)

// WriteAll writes the predictions CSV, the bucket metrics and the rules
// comparison into dir, creating it if needed.
func WriteAll(dir string, ds *Dataset, r *Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "evaluate: create output dir")
	}

	if err := writeFile(filepath.Join(dir, PredictionsFile), func(w io.Writer) error {
		return WritePredictions(w, ds, r)
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, MetricsFile), func(w io.Writer) error {
		return writeJSON(w, r.Summary)
	}); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, ComparisonFile), func(w io.Writer) error {
		return writeJSON(w, r.Comparison)
	})
}

// WritePredictions writes the input columns followed by bucket, p_ml and the
// 0.50 verdict. The approved column is written only when the input had one.
func WritePredictions(w io.Writer, ds *Dataset, r *Report) error {
	cw := csv.NewWriter(w)

	header := []string{ColDistance, ColResidency, ColImmigrant, ColParents}
	if ds.HasLabels {
		header = append(header, ColApproved)
	}
	header = append(header, ColBucket, ColProb, ColPredicted)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "evaluate: write header")
	}

	for i, row := range r.Rows {
		a := row.Applicant
		rec := []string{
			formatFloat(a.DistanceKm),
			formatFloat(a.ResidencyYearsIE),
			strconv.FormatBool(a.IsImmigrant),
			string(a.ParentsStatus),
		}
		if ds.HasLabels {
			rec = append(rec, strconv.Itoa(b2i(r.Labels[i])))
		}
		rec = append(rec,
			r.Buckets[i],
			formatFloat(r.Probs[i]),
			strconv.Itoa(b2i(r.Probs[i] >= DecisionThreshold)),
		)
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "evaluate: write row")
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "evaluate: flush csv")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return eris.Wrap(enc.Encode(v), "evaluate: encode json")
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "evaluate: create %s", path)
	}
	if err := fn(f); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "evaluate: close %s", path)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
