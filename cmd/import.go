package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/signmatch/internal/importer"
)

var (
	importWorkspace string
	importFmKey     string
	importSheet     string
	importDryRun    bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import work orders from a CSV, TSV or XLSX export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		summary, err := importer.ImportFile(ctx, st, args[0], importer.Options{
			WorkspaceID:  importWorkspace,
			DefaultFmKey: importFmKey,
			Sheet:        importSheet,
			DryRun:       importDryRun,
		})
		if err != nil {
			return eris.Wrap(err, "import work orders")
		}

		zap.L().Info("import complete",
			zap.String("file", args[0]),
			zap.Int("rows", summary.Rows),
			zap.Int64("upserted", summary.Upserted),
			zap.Int("skipped", len(summary.Skipped)),
			zap.Bool("dry_run", importDryRun),
		)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	importCmd.Flags().StringVar(&importWorkspace, "workspace", "", "workspace ID (required)")
	importCmd.Flags().StringVar(&importFmKey, "fm-key", "", "fm key for rows without one")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "workbook sheet name (default first sheet)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "parse and validate without writing")
	_ = importCmd.MarkFlagRequired("workspace")
	rootCmd.AddCommand(importCmd)
}
