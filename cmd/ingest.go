package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/shp-enrich/internal/fetcher"
	"github.com/sells-group/shp-enrich/internal/ingest"
	"github.com/sells-group/shp-enrich/internal/outcome"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load authority reports and local exports into the datastore",
}

var ingestCrossRefCmd = &cobra.Command{
	Use:   "crossref <file>",
	Short: "Load bib number to OCN cross-reference rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "ingest crossref")
		}
		defer f.Close() //nolint:errcheck

		stats, err := ingest.CrossRef(ctx, st, f)
		if err != nil {
			return eris.Wrap(err, "ingest crossref")
		}
		return printJSON(cmd, stats)
	},
}

var ingestReportsCmd = &cobra.Command{
	Use:   "reports <dir|file>",
	Short: "Load BibProcessingReport files",
	Long:  "Loads one report file, or every BibProcessingReport in a directory. Reports already loaded are skipped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		info, err := os.Stat(args[0])
		if err != nil {
			return eris.Wrap(err, "ingest reports")
		}
		if !info.IsDir() {
			_, stats, err := ingest.Report(ctx, st, args[0])
			if err != nil {
				return eris.Wrap(err, "ingest reports")
			}
			return printJSON(cmd, stats)
		}

		ds, err := ingest.ReportDir(ctx, st, args[0])
		if err != nil {
			return eris.Wrap(err, "ingest reports")
		}
		return printJSON(cmd, ds)
	},
}

var ingestFetchCmd = &cobra.Command{
	Use:   "fetch <dir>",
	Short: "Download new BibProcessingReport files from the delivery server",
	Long:  "Copies reports not yet present in dir from reports.ftp_url. With --load the directory is then loaded as by ingest reports.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rc := cfg.Reports
		if rc.FTPURL == "" {
			return eris.New("ingest fetch: reports.ftp_url is required (SHP_REPORTS_FTP_URL)")
		}
		f := fetcher.NewFTPFetcher(fetcher.FTPOptions{
			User:     rc.User,
			Password: rc.Password,
			Timeout:  time.Duration(rc.TimeoutSecs) * time.Second,
		})
		fetched, err := f.FetchNew(ctx, rc.FTPURL, args[0], outcome.IsBibProcessingReport)
		if err != nil {
			return eris.Wrap(err, "ingest fetch")
		}
		zap.L().Info("reports fetched", zap.Int("count", len(fetched)), zap.String("dir", args[0]))

		if load, _ := cmd.Flags().GetBool("load"); !load {
			return printJSON(cmd, fetched)
		}

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ds, err := ingest.ReportDir(ctx, st, args[0])
		if err != nil {
			return eris.Wrap(err, "ingest fetch")
		}
		return printJSON(cmd, ds)
	},
}

var ingestDeletionsCmd = &cobra.Command{
	Use:   "deletions <file>",
	Short: "Load an ocn|title holdings deletion report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "ingest deletions")
		}
		defer f.Close() //nolint:errcheck

		stats, err := ingest.Deletions(ctx, st, f)
		if err != nil {
			return eris.Wrap(err, "ingest deletions")
		}
		return printJSON(cmd, stats)
	},
}

var ingestExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Load the caret delimited local catalog export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "ingest export")
		}
		defer f.Close() //nolint:errcheck

		stats, err := ingest.SierraExport(ctx, st, f, cfg.Export)
		if err != nil {
			return eris.Wrap(err, "ingest export")
		}
		return printJSON(cmd, stats)
	},
}

var attachCmd = &cobra.Command{
	Use:   "attach <marc>",
	Short: "Attach format, display and ISBN data from a local MARC export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := attachFile(cmd, st, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	},
}

func init() {
	ingestFetchCmd.Flags().Bool("load", false, "load the directory after downloading")

	ingestCmd.AddCommand(ingestCrossRefCmd)
	ingestCmd.AddCommand(ingestFetchCmd)
	ingestCmd.AddCommand(ingestReportsCmd)
	ingestCmd.AddCommand(ingestDeletionsCmd)
	ingestCmd.AddCommand(ingestExportCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(attachCmd)
}

func attachFile(cmd *cobra.Command, st ingest.LocalDataStore, path string) (ingest.Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ingest.Stats{}, eris.Wrap(err, "attach")
	}
	defer f.Close() //nolint:errcheck

	stats, err := ingest.AttachMARC(cmd.Context(), st, f, ingest.DefaultAttachLayout())
	if err != nil {
		return stats, eris.Wrap(err, "attach")
	}
	return stats, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
