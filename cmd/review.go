package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/internal/store"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and resolve the human review queue",
}

// -- review list --

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		workspace, _ := cmd.Flags().GetString("workspace")
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		resolved, err := parseResolvedState(state)
		if err != nil {
			return err
		}

		items, err := st.ListReviewItems(ctx, store.ReviewFilter{
			WorkspaceID: workspace,
			Resolved:    resolved,
			Limit:       limit,
		})
		if err != nil {
			return eris.Wrap(err, "review list")
		}

		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "No review items found.")
			return nil
		}

		formatReviewList(cmd.OutOrStdout(), items)
		return nil
	},
}

// -- review resolve --

var reviewResolveCmd = &cobra.Command{
	Use:   "resolve <review-id>",
	Short: "Mark a review item resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		workspace, _ := cmd.Flags().GetString("workspace")
		manual, _ := cmd.Flags().GetString("work-order")

		var marker resolvedMarker
		if n := reviewNotifier(); n != nil {
			marker = n
		}
		return resolveReview(ctx, st, marker, workspace, args[0], manual)
	},
}

// -- review clear-resolved --

var reviewClearCmd = &cobra.Command{
	Use:   "clear-resolved",
	Short: "Delete resolved review items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		workspace, _ := cmd.Flags().GetString("workspace")
		n, err := st.ClearResolved(ctx, workspace)
		if err != nil {
			return eris.Wrap(err, "review clear-resolved")
		}

		zap.L().Info("cleared resolved review items", zap.String("workspace_id", workspace), zap.Int("deleted", n))
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d resolved review items.\n", n)
		return nil
	},
}

func init() {
	reviewListCmd.Flags().String("workspace", "", "filter by workspace ID")
	reviewListCmd.Flags().String("state", "open", "open, resolved, or all")
	reviewListCmd.Flags().Int("limit", 50, "max number of items to display")

	reviewResolveCmd.Flags().String("workspace", "", "workspace ID that owns the item (required)")
	reviewResolveCmd.Flags().String("work-order", "", "work-order number assigned by the reviewer")
	_ = reviewResolveCmd.MarkFlagRequired("workspace")

	reviewClearCmd.Flags().String("workspace", "", "workspace ID (required)")
	_ = reviewClearCmd.MarkFlagRequired("workspace")

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewResolveCmd)
	reviewCmd.AddCommand(reviewClearCmd)
	rootCmd.AddCommand(reviewCmd)
}

// resolvedMarker mirrors a resolution to an external tracker.
type resolvedMarker interface {
	MarkResolved(ctx context.Context, reviewItemID, manualWorkOrderNumber string) (int, error)
}

type reviewResolver interface {
	ResolveReviewItem(ctx context.Context, workspaceID, id, manualWorkOrderNumber string) error
}

// resolveReview resolves the workspace's item in the store, then mirrors it
// to marker. An item owned by another workspace is store.ErrNotFound and is
// never mirrored. A marker failure is logged; the store is the record of truth.
func resolveReview(ctx context.Context, reviews reviewResolver, marker resolvedMarker, workspaceID, id, manual string) error {
	if err := reviews.ResolveReviewItem(ctx, workspaceID, id, manual); err != nil {
		return eris.Wrap(err, "resolve review item")
	}

	log := zap.L().With(zap.String("workspace_id", workspaceID), zap.String("review_item_id", id))
	log.Info("review item resolved", zap.String("manual_work_order_number", manual))

	if marker == nil {
		return nil
	}
	n, err := marker.MarkResolved(ctx, id, manual)
	if err != nil {
		log.Warn("mirror resolution failed", zap.Error(err))
		return nil
	}
	log.Debug("mirrored resolution", zap.Int("pages", n))
	return nil
}

// parseResolvedState maps open/resolved/all onto a review filter.
func parseResolvedState(state string) (*bool, error) {
	switch state {
	case "open", "":
		f := false
		return &f, nil
	case "resolved":
		t := true
		return &t, nil
	case "all":
		return nil, nil
	default:
		return nil, eris.Errorf("unknown review state %q (want open, resolved, or all)", state)
	}
}

// formatReviewList writes a tabular list of review items to out.
func formatReviewList(out io.Writer, items []model.ReviewItem) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tWORKSPACE\tFILE\tCANDIDATE\tTIER\tOUTCOME\tREASON\tCREATED")
	for _, it := range items {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			it.ID,
			it.WorkspaceID,
			truncate(it.Filename, 40),
			orDash(it.CandidateNumber),
			it.Confidence,
			it.Outcome,
			it.Reason,
			it.CreatedAt.Format(time.DateTime),
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
