package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/signmatch/internal/resilience"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect documents that failed at a collaborator",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letter entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		workspace, _ := cmd.Flags().GetString("workspace")
		errType, _ := cmd.Flags().GetString("error-type")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := st.ListDLQ(ctx, resilience.DLQFilter{
			WorkspaceID: workspace,
			ErrorType:   errType,
			Limit:       limit,
		})
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead letter queue is empty.")
			return nil
		}

		formatDLQList(cmd.OutOrStdout(), entries)
		return nil
	},
}

var dlqRemoveCmd = &cobra.Command{
	Use:   "remove <entry-id>",
	Short: "Remove a dead letter entry after the document was replayed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.RemoveDLQ(ctx, args[0]); err != nil {
			return eris.Wrap(err, "dlq remove")
		}
		zap.L().Info("dead letter entry removed", zap.String("id", args[0]))
		return nil
	},
}

func init() {
	dlqListCmd.Flags().String("workspace", "", "filter by workspace ID")
	dlqListCmd.Flags().String("error-type", "", "filter by error type (transient, permanent)")
	dlqListCmd.Flags().Int("limit", 50, "max number of entries to display")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRemoveCmd)
	rootCmd.AddCommand(dlqCmd)
}

// formatDLQList writes a tabular list of dead letter entries to out.
func formatDLQList(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tWORKSPACE\tFILE\tSTAGE\tTYPE\tRETRIES\tREPLAY\tMESSAGE\tFAILED\tERROR")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.WorkspaceID,
			truncate(e.Filename, 40),
			e.Stage,
			e.ErrorType,
			e.RetryCount, e.MaxRetries,
			yesNo(e.Replayable()),
			orDash(e.MessageID),
			e.LastFailedAt.Format(time.DateTime),
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
