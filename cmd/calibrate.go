package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/signmatch/internal/matching"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate <corpus.yaml>",
	Short: "Score the matcher against a labelled corpus at several length ratios",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ratios, _ := cmd.Flags().GetFloat64Slice("ratios")
		verbose, _ := cmd.Flags().GetBool("verbose")

		for _, r := range ratios {
			if r <= 0 || r > 1 {
				return eris.Errorf("ratio %v must be in (0, 1]", r)
			}
		}

		cases, err := matching.LoadCorpus(args[0])
		if err != nil {
			return err
		}
		if len(cases) == 0 {
			return eris.Errorf("corpus %s has no cases", args[0])
		}

		formatCalibration(cmd.OutOrStdout(), matching.Sweep(cases, ratios), verbose)
		return nil
	},
}

func init() {
	calibrateCmd.Flags().Float64Slice("ratios", []float64{0.5, 0.6, 0.7, 0.8}, "min length ratios to evaluate")
	calibrateCmd.Flags().Bool("verbose", false, "print failing cases")
	rootCmd.AddCommand(calibrateCmd)
}

// formatCalibration writes one row per ratio, then failures when verbose.
func formatCalibration(out io.Writer, results []matching.Calibration, verbose bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RATIO\tCORRECT\tTOTAL\tACCURACY")
	for _, c := range results {
		_, _ = fmt.Fprintf(w, "%.2f\t%d\t%d\t%.1f%%\n", c.MinLengthRatio, c.Correct, c.Total, c.Accuracy()*100)
	}
	_ = w.Flush()

	if !verbose {
		return
	}
	for _, c := range results {
		for _, f := range c.Failures {
			_, _ = fmt.Fprintf(out, "ratio %.2f: %s\n", c.MinLengthRatio, f)
		}
	}
}
