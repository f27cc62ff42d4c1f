package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/grant-scorer/internal/model"
	"github.com/sells-group/grant-scorer/internal/scorer"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a single applicant",
	Long: `Score one applicant with the policy rules and, unless disabled, the
probability oracle.

Examples:
  # Rules plus oracle with the configured threshold
  score --distance-km 42 --residency-years 1 --parents-status middle

  # Rules only, as a table
  score --distance-km 12 --parents-status low --use-ml=false --format table

  # Stricter cutoff, saved to the decision store
  score --distance-km 35 --immigrant --residency-years 2 --parents-status low --threshold 0.7 --record`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.Float64("distance-km", 0, "distance from home to campus in km")
	f.Float64("residency-years", 0, "years of residency in Ireland")
	f.Bool("immigrant", false, "applicant is an immigrant")
	f.String("parents-status", "", "parents' income band: low, middle or high")
	f.Bool("use-ml", true, "consult the probability oracle (default from config)")
	f.Float64("threshold", 0.5, "oracle approval cutoff (default from config)")
	f.String("format", "json", "output format: json or table")
	f.Bool("record", false, "save the decision to the store")
	_ = scoreCmd.MarkFlagRequired("parents-status")
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := zap.L().With(zap.String("command", "score"))
	f := cmd.Flags()

	format, _ := f.GetString("format")
	if format != "json" && format != "table" {
		return eris.Errorf("unsupported format %q (want json or table)", format)
	}

	status, _ := f.GetString("parents-status")
	ps, err := model.ParseParentsStatus(status)
	if err != nil {
		return err
	}
	a := model.Applicant{ParentsStatus: ps}
	a.DistanceKm, _ = f.GetFloat64("distance-km")
	a.ResidencyYearsIE, _ = f.GetFloat64("residency-years")
	a.IsImmigrant, _ = f.GetBool("immigrant")

	opts := scorer.OptionsFromConfig(cfg.Scoring)
	if f.Changed("use-ml") {
		opts.UseML, _ = f.GetBool("use-ml")
	}
	if f.Changed("threshold") {
		opts.Threshold, _ = f.GetFloat64("threshold")
	}
	record, _ := f.GetBool("record")

	env, err := initScoring(ctx, record)
	if err != nil {
		return err
	}
	defer env.Close()
	if record && env.Store == nil {
		return eris.New("--record needs a decision store (store.driver is none)")
	}

	res, err := env.Scorer.Score(ctx, a, opts)
	if err != nil {
		return eris.Wrap(err, "score")
	}

	if record {
		rec := &model.DecisionRecord{Applicant: a, Result: *res, UseML: opts.UseML, Threshold: opts.Threshold}
		if err := env.Store.SaveDecision(ctx, rec); err != nil {
			return eris.Wrap(err, "record decision")
		}
		log.Info("decision recorded", zap.String("id", rec.ID))
	}

	if format == "table" {
		return formatScoreTable(os.Stdout, a, res)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(res)
}

// formatScoreTable writes the applicant and its decision as aligned rows.
func formatScoreTable(out io.Writer, a model.Applicant, res *model.ScoreResult) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	prob := "-"
	if res.Prob != nil {
		prob = strconv.FormatFloat(*res.Prob, 'f', 4, 64)
	}

	fmt.Fprintf(w, "APPLICANT\t%.1f km, %.1f yrs, immigrant=%t, parents=%s\n",
		a.DistanceKm, a.ResidencyYearsIE, a.IsImmigrant, a.ParentsStatus)
	fmt.Fprintf(w, "DECISION\t%s\n", res.Decision)
	fmt.Fprintf(w, "AMOUNT\t%d\n", res.Amount)
	fmt.Fprintf(w, "PROB\t%s\n", prob)
	fmt.Fprintf(w, "REASONS\t%s\n", strings.Join(res.Reasons, "; "))
	return w.Flush()
}
