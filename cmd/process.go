package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/signmatch/internal/model"
)

var (
	processWorkspace string
	processFmKey     string
	processCrop      string
)

var processCmd = &cobra.Command{
	Use:   "process <file.pdf>",
	Short: "Process a single signed PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		content, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		doc := model.Document{
			WorkspaceID: processWorkspace,
			Filename:    filepath.Base(args[0]),
			Content:     content,
			FmKey:       processFmKey,
		}
		if doc.Crop, err = parseCrop(processCrop); err != nil {
			return err
		}

		env, err := initPipeline(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Process(ctx, doc)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	processCmd.Flags().StringVar(&processWorkspace, "workspace", "", "workspace ID (required)")
	processCmd.Flags().StringVar(&processFmKey, "fm-key", "", "restrict matching to one issuer")
	processCmd.Flags().StringVar(&processCrop, "crop", "", `number region as JSON, e.g. {"page":1,"x":0.1,"y":0.05,"width":0.3,"height":0.08}`)
	_ = processCmd.MarkFlagRequired("workspace")
	rootCmd.AddCommand(processCmd)
}

// parseCrop decodes a crop geometry; an empty string means none.
func parseCrop(raw string) (*model.CropGeometry, error) {
	if raw == "" {
		return nil, nil
	}
	var g model.CropGeometry
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, eris.Wrap(err, "parse crop")
	}
	return &g, nil
}
