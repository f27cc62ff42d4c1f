package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/grant-scorer/internal/evaluate"
)

var (
	evaluateInput       string
	evaluateOutDir      string
	evaluateConcurrency int
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate the oracle on a CSV or XLSX dataset",
	Long: `Reads applicants from a CSV or XLSX file, predicts approval probabilities
with the configured oracle, and writes per-row predictions, per-bucket metrics
and a rules-versus-oracle comparison to --out-dir.

Rows without an approved label are labelled by the policy rules.

Examples:
  # Evaluate a generated scenario file
  grant-scorer evaluate --input scenarios.csv --out-dir results

  # Spreadsheet input, more concurrent oracle calls
  grant-scorer evaluate --input applicants.xlsx --concurrency 32`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "evaluate"))

		ds, err := evaluate.ReadFile(evaluateInput)
		if err != nil {
			return eris.Wrap(err, "evaluate: read input")
		}
		log.Info("dataset loaded",
			zap.String("input", evaluateInput),
			zap.Int("rows", len(ds.Rows)),
			zap.Bool("labelled", ds.HasLabels),
		)

		env, err := initScoring(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := evaluateConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.Concurrency
		}

		report, err := evaluate.New(env.Oracle, concurrency).Run(ctx, ds)
		if err != nil {
			return eris.Wrap(err, "evaluate: run")
		}
		if err := evaluate.WriteAll(evaluateOutDir, ds, report); err != nil {
			return err
		}
		log.Info("evaluation written", zap.String("out_dir", evaluateOutDir))

		return formatSummary(os.Stdout, report)
	},
}

// formatSummary prints one row per bucket followed by the comparison line.
func formatSummary(out io.Writer, r *evaluate.Report) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BUCKET\tN\tAPPROVE_ML\tACC@0.50\tAUC\tBEST_THR\tBEST_ACC")
	for _, b := range r.Summary {
		fmt.Fprintf(w, "%s\t%d\t%.3f\t%.3f\t%s\t%s\t%s\n",
			b.Name, b.N, b.ApproveRateML, b.Accuracy,
			optFloat(b.AUC), optFloat(b.BestThreshold), optFloat(b.BestAccuracy),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	c := r.Comparison
	_, err := fmt.Fprintf(out, "\nrules acc %.3f, oracle acc %.3f, disagreement %.1f%% of %d rows\n",
		c.AccuracyRules, c.AccuracyML, c.DisagreementShare*100, c.N)
	return err
}

func optFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *v)
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateInput, "input", "", "CSV or XLSX dataset (required)")
	evaluateCmd.Flags().StringVar(&evaluateOutDir, "out-dir", ".", "directory for prediction and metric files")
	evaluateCmd.Flags().IntVar(&evaluateConcurrency, "concurrency", 0, "concurrent oracle calls (default from config)")
	_ = evaluateCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(evaluateCmd)
}
