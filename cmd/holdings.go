package main

import (
	"errors"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/shp-enrich/internal/review"
	"github.com/sells-group/shp-enrich/internal/store"
)

var holdingsCmd = &cobra.Command{
	Use:   "holdings",
	Short: "Review holdings deletion candidates",
}

var holdingsExportCmd = &cobra.Command{
	Use:   "export <xlsx>",
	Short: "Write holdings deletion candidates to a review workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		candidates, err := st.ListHoldingsCandidates(ctx)
		if err != nil {
			return eris.Wrap(err, "holdings export")
		}
		if err := review.ExportHoldings(args[0], candidates); err != nil {
			return err
		}
		zap.L().Info("holdings review exported", zap.Int("candidates", len(candidates)), zap.String("path", args[0]))
		return nil
	},
}

type holdingsImportStats struct {
	Updated int `json:"updated"`
	Unknown int `json:"unknown"`
}

var holdingsImportCmd = &cobra.Command{
	Use:   "import <xlsx>",
	Short: "Apply curated keep flags from a review workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		flags, err := review.ReadKeepFlags(args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var stats holdingsImportStats
		for ocn, keep := range flags {
			err := st.SetHoldingsKeep(ctx, ocn, keep)
			if errors.Is(err, store.ErrRecordNotFound) {
				stats.Unknown++
				zap.L().Warn("holdings candidate not found", zap.Int64("external_id", ocn))
				continue
			}
			if err != nil {
				return eris.Wrap(err, "holdings import")
			}
			stats.Updated++
		}
		return printJSON(cmd, stats)
	},
}

func init() {
	holdingsCmd.AddCommand(holdingsExportCmd)
	holdingsCmd.AddCommand(holdingsImportCmd)
	rootCmd.AddCommand(holdingsCmd)
}
