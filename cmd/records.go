package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/shp-enrich/internal/ident"
	"github.com/sells-group/shp-enrich/internal/model"
	"github.com/sells-group/shp-enrich/internal/review"
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete records by bib number or OCN",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		bib, _ := cmd.Flags().GetString("bib")
		ocn, _ := cmd.Flags().GetString("ocn")
		if (bib == "") == (ocn == "") {
			return eris.New("delete: exactly one of --bib or --ocn is required")
		}

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var n int64
		if bib != "" {
			id, ok := ident.NormalizeBibNumber(bib)
			if !ok {
				return eris.Errorf("delete: invalid bib number %q", bib)
			}
			n, err = st.DeleteByLocalID(ctx, id)
		} else {
			id, ok := ident.NormalizeIdentifier(ocn)
			if !ok {
				return eris.Errorf("delete: invalid ocn %q", ocn)
			}
			n, err = st.DeleteByExternalID(ctx, id)
		}
		if err != nil {
			return eris.Wrap(err, "delete")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d record(s)\n", n)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show record and outcome counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := st.CountByStatus(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		summary, err := st.OutcomeSummary(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		formatStatus(cmd.OutOrStdout(), counts, summary)
		return nil
	},
}

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List OCNs claimed by more than one local record",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		dups, err := st.DuplicateExternalIDs(ctx)
		if err != nil {
			return eris.Wrap(err, "duplicates")
		}
		if len(dups) == 0 {
			fmt.Fprintln(os.Stderr, "No duplicate OCNs found.")
			return nil
		}

		formatDuplicates(cmd.OutOrStdout(), dups)
		return nil
	},
}

var changedCmd = &cobra.Command{
	Use:   "changed",
	Short: "Export report outcomes whose OCN differs from the local one",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		outcomes, err := st.ChangedOutcomes(ctx)
		if err != nil {
			return eris.Wrap(err, "changed")
		}

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return review.WriteChangedOutcomes(cmd.OutOrStdout(), outcomes)
		}
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrap(err, "changed")
		}
		defer f.Close() //nolint:errcheck
		if err := review.WriteChangedOutcomes(f, outcomes); err != nil {
			return err
		}
		return f.Close()
	},
}

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Manage loaded BibProcessingReports",
}

var reportsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a loaded report and its outcomes",
	Long:  "Removes the report and every outcome it contributed so the file can be loaded again.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return eris.Errorf("reports delete: invalid report id %q", args[0])
		}

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.DeleteReport(ctx, id)
		if err != nil {
			return eris.Wrap(err, "reports delete")
		}
		zap.L().Info("report deleted", zap.Int64("report_id", id), zap.Int64("outcomes", n))
		fmt.Fprintf(cmd.OutOrStdout(), "deleted report %d and %d outcome(s)\n", id, n)
		return nil
	},
}

func init() {
	reportsCmd.AddCommand(reportsDeleteCmd)
	rootCmd.AddCommand(reportsCmd)

	deleteCmd.Flags().String("bib", "", "local bib number (b12345678a)")
	deleteCmd.Flags().String("ocn", "", "OCLC number; deletes every record carrying it")

	changedCmd.Flags().String("out", "", "CSV output file (default stdout)")

	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(duplicatesCmd)
	rootCmd.AddCommand(changedCmd)
}

// formatStatus writes record counts by status and outcome counts by category.
func formatStatus(out io.Writer, counts map[model.Status]int64, summary map[model.OutcomeCategory]int64) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RECORDS\tCOUNT")
	for _, s := range []model.Status{model.StatusPending, model.StatusEnriched} {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", s, counts[s])
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "OUTCOMES\tCOUNT")
	for _, c := range model.AllOutcomeCategories {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", c, summary[c])
	}
	_ = w.Flush()
}

// formatDuplicates writes one line per duplicated OCN, ascending.
func formatDuplicates(out io.Writer, dups map[int64][]int64) {
	ocns := make([]int64, 0, len(dups))
	for ocn := range dups {
		ocns = append(ocns, ocn)
	}
	sort.Slice(ocns, func(i, j int) bool { return ocns[i] < ocns[j] })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "OCN\tBIBS")
	for _, ocn := range ocns {
		bibs := make([]string, 0, len(dups[ocn]))
		for _, id := range dups[ocn] {
			bibs = append(bibs, ident.FormatBibNumber(id))
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\n", ocn, strings.Join(bibs, ","))
	}
	_ = w.Flush()
}
