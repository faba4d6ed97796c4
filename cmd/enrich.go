package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/shp-enrich/internal/enrich"
	"github.com/sells-group/shp-enrich/internal/marc"
	"github.com/sells-group/shp-enrich/internal/model"
	"github.com/sells-group/shp-enrich/internal/review"
	"github.com/sells-group/shp-enrich/internal/transform"
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Write the bib numbers of pending records for a local MARC export",
	Long:  "Writes one b{bibNo}a line per pending record, in ascending bib number order, for list creation in the local system.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		out, _ := cmd.Flags().GetString("out")
		if limit <= 0 {
			limit = cfg.Enrich.BatchSize
		}

		recs, err := st.SelectForExport(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "select")
		}

		f, err := os.Create(out)
		if err != nil {
			return eris.Wrap(err, "select")
		}
		defer f.Close() //nolint:errcheck

		if err := review.WriteSierraList(f, recs); err != nil {
			return err
		}
		zap.L().Info("selected records for export", zap.Int("count", len(recs)), zap.String("out", out))
		return f.Close()
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Fetch, transform and write enriched records",
	Long: "Optionally attaches a local MARC export, then fetches the full authority record for each pending record in " +
		"ascending bib number order, appends the transformed record to --out and commits it. The run stops at the first " +
		"record that fails; rerun (or use resume) to continue from it.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		lib, t, err := initTransformer()
		if err != nil {
			return err
		}

		st, err := initStore(ctx, "enrich")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if input, _ := cmd.Flags().GetString("input"); input != "" {
			if _, err := attachFile(cmd, st, input); err != nil {
				return err
			}
		}
		return runEnrichment(cmd, st, lib, t)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue enrichment from the first pending record",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		lib, t, err := initTransformer()
		if err != nil {
			return err
		}

		st, err := initStore(ctx, "enrich")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return runEnrichment(cmd, st, lib, t)
	},
}

func init() {
	selectCmd.Flags().Int("limit", 0, "max records to select (default enrich.batch_size)")
	selectCmd.Flags().String("out", "", "output list file")
	_ = selectCmd.MarkFlagRequired("out")

	for _, c := range []*cobra.Command{enrichCmd, resumeCmd} {
		c.Flags().String("out", "", "MARC file enriched records are appended to")
		c.Flags().String("failures", "", "CSV file failure rows are appended to")
		c.Flags().Int("limit", 0, "max records to process (default enrich.batch_size)")
		_ = c.MarkFlagRequired("out")
		_ = c.MarkFlagRequired("failures")
	}
	enrichCmd.Flags().String("input", "", "local MARC export to attach before enriching")

	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(resumeCmd)
}

// initTransformer resolves the configured library and its edit policy. It
// fails for libraries the policy cannot transform.
func initTransformer() (model.Library, *transform.Transformer, error) {
	lib, err := library()
	if err != nil {
		return "", nil, err
	}

	policy := transform.DefaultPolicy()
	if cfg.Enrich.PolicyPath != "" {
		if policy, err = transform.LoadPolicy(cfg.Enrich.PolicyPath); err != nil {
			return "", nil, err
		}
	}
	t := transform.New(policy)
	if err := t.Supports(lib); err != nil {
		return "", nil, err
	}
	return lib, t, nil
}

func runEnrichment(cmd *cobra.Command, st enrich.Store, lib model.Library, t *transform.Transformer) error {
	ctx := cmd.Context()

	client, err := initWorldCat()
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("out")
	failuresPath, _ := cmd.Flags().GetString("failures")
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = cfg.Enrich.BatchSize
	}

	sink, err := marc.OpenWriter(out)
	if err != nil {
		return err
	}
	defer sink.Close() //nolint:errcheck

	failures, err := enrich.OpenCSVFailureReport(failuresPath)
	if err != nil {
		return err
	}
	defer failures.Close() //nolint:errcheck

	orch := enrich.New(st, client, t, sink, lib, enrich.WithFailureReporter(failures))
	report, runErr := orch.Run(ctx, limit)
	if report != nil {
		if err := printJSON(cmd, report); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	zap.L().Info("enrichment run finished",
		zap.Int("written", sink.Written()),
		zap.String("out", out),
	)
	if err := sink.Close(); err != nil {
		return err
	}
	if report.Failed() {
		return eris.Errorf("enrich: stopped at record %d: %s", *report.FailedAt, report.Reason)
	}
	return nil
}
