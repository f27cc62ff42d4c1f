package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/grant-scorer/internal/model"
	"github.com/sells-group/grant-scorer/internal/monitoring"
	"github.com/sells-group/grant-scorer/internal/store"
)

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Inspect recorded decisions",
	Long:  "Commands for listing, viewing, and summarizing decisions saved by serve and score --record.",
}

// openStore opens and migrates the configured store, failing when none is
// configured.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("no decision store configured (store.driver is none)")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// -- decisions list --

var decisionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded decisions, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		decision, _ := cmd.Flags().GetString("decision")
		limit, _ := cmd.Flags().GetInt("limit")
		since, _ := cmd.Flags().GetDuration("since")

		filter := store.DecisionFilter{Decision: model.Decision(decision), Limit: limit}
		switch filter.Decision {
		case "", model.DecisionApprove, model.DecisionDecline:
		default:
			return eris.Errorf("--decision must be approve or decline (got %q)", decision)
		}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.ListDecisions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "decisions list")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No decisions found.")
			return nil
		}

		formatDecisionsList(os.Stdout, recs)
		return nil
	},
}

// -- decisions show --

var decisionsShowCmd = &cobra.Command{
	Use:   "show <decision-id>",
	Short: "Show one recorded decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetDecision(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "decisions show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(rec)
	},
}

// -- decisions stats --

var decisionsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recorded decisions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		hours, _ := cmd.Flags().GetInt("hours")
		if !cmd.Flags().Changed("hours") {
			hours = cfg.Monitoring.LookbackWindowHours
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "decisions stats")
		}

		formatDecisionStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	decisionsListCmd.Flags().String("decision", "", "filter by decision (approve, decline)")
	decisionsListCmd.Flags().Int("limit", 50, "max number of decisions to display")
	decisionsListCmd.Flags().Duration("since", 0, "only decisions newer than this (e.g. 24h)")

	decisionsStatsCmd.Flags().Int("hours", 24, "lookback window in hours, 0 for all (default from config)")

	decisionsCmd.AddCommand(decisionsListCmd)
	decisionsCmd.AddCommand(decisionsShowCmd)
	decisionsCmd.AddCommand(decisionsStatsCmd)
	rootCmd.AddCommand(decisionsCmd)
}

// formatDecisionsList writes a tabular list of decisions to w.
func formatDecisionsList(out io.Writer, recs []model.DecisionRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDECISION\tAMOUNT\tPROB\tPARENTS\tDISTANCE\tCREATED\tREASONS")
	_, _ = fmt.Fprintln(w, "--\t--------\t------\t----\t-------\t--------\t-------\t-------")

	for _, r := range recs {
		prob := "-"
		if r.Result.Prob != nil {
			prob = strconv.FormatFloat(*r.Result.Prob, 'f', 3, 64)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%.1f\t%s\t%s\n",
			truncateID(r.ID),
			r.Result.Decision,
			r.Result.Amount,
			prob,
			r.Applicant.ParentsStatus,
			r.Applicant.DistanceKm,
			r.CreatedAt.Format("2006-01-02 15:04"),
			strings.Join(r.Result.Reasons, "; "),
		)
	}
	_ = w.Flush()
}

// formatDecisionStats writes a monitoring snapshot to w.
func formatDecisionStats(out io.Writer, s *monitoring.Snapshot) {
	window := "all time"
	if s.LookbackHours > 0 {
		window = fmt.Sprintf("last %dh", s.LookbackHours)
	}

	if s.Truncated {
		window += " (newest decisions only, window truncated)"
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%s\n", window)
	_, _ = fmt.Fprintf(w, "Total decisions:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Approved:\t%d (%.1f%%)\n", s.Approved, s.ApproveRate*100)
	_, _ = fmt.Fprintf(w, "Declined:\t%d\n", s.Declined)
	_, _ = fmt.Fprintf(w, "  Hard declines:\t%d\n", s.HardDeclines)
	_, _ = fmt.Fprintf(w, "Amount awarded:\t%d\n", s.AmountTotal)
	_, _ = fmt.Fprintf(w, "Oracle decisions:\t%d\n", s.MLDecisions)
	_, _ = fmt.Fprintf(w, "  Overrode to approve:\t%d\n", s.MLOverApprove)
	_, _ = fmt.Fprintf(w, "  Overrode to decline:\t%d\n", s.MLOverDecline)
	_, _ = fmt.Fprintf(w, "  Disagreement rate:\t%.1f%%\n", s.DisagreementRate*100)
	if s.AvgProb != nil {
		_, _ = fmt.Fprintf(w, "  Mean probability:\t%.3f\n", *s.AvgProb)
	}
	if s.InvalidStatus > 0 {
		_, _ = fmt.Fprintf(w, "Invalid status hits:\t%d\n", s.InvalidStatus)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
