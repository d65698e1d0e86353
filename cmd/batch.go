package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/internal/pipeline"
)

var (
	batchWorkspace string
	batchFmKey     string
	batchLimit     int
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Process every PDF in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		jobs, err := dirJobs(args[0], batchWorkspace, batchFmKey)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := processBatch(ctx, jobs, batchLimit, cfg.Batch.MaxConcurrentDocuments, env.Pipeline.Process)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchWorkspace, "workspace", "", "workspace ID (required)")
	batchCmd.Flags().StringVar(&batchFmKey, "fm-key", "", "restrict matching to one issuer")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max number of files to process")
	_ = batchCmd.MarkFlagRequired("workspace")
	rootCmd.AddCommand(batchCmd)
}

// batchJob yields the documents for one unit of work, such as a file or a
// mailbox message. Documents are loaded inside the worker.
type batchJob struct {
	Name string
	Load func(ctx context.Context) ([]model.Document, error)
}

// processFunc is the callback signature for running one document.
type processFunc func(ctx context.Context, doc model.Document) (*pipeline.Result, error)

// batchSummary counts documents by result.
type batchSummary struct {
	Jobs      int                   `json:"jobs"`
	Succeeded int64                 `json:"succeeded"`
	Failed    int64                 `json:"failed"`
	Outcomes  map[model.Outcome]int `json:"outcomes"`
}

// dirJobs lists the PDFs in dir, sorted by name, one job per file.
func dirJobs(dir, workspaceID, fmKey string) ([]batchJob, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read dir %s", dir)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	jobs := make([]batchJob, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		jobs = append(jobs, batchJob{
			Name: path,
			Load: func(context.Context) ([]model.Document, error) {
				content, err := os.ReadFile(path)
				if err != nil {
					return nil, eris.Wrapf(err, "read %s", path)
				}
				return []model.Document{{
					WorkspaceID: workspaceID,
					Filename:    name,
					Content:     content,
					FmKey:       fmKey,
				}}, nil
			},
		})
	}
	return jobs, nil
}

// processBatch applies limit, then runs jobs concurrently. Documents within
// a job run in order and a failure skips the rest of that job. Individual
// failures are counted, never returned.
func processBatch(ctx context.Context, jobs []batchJob, limit, concurrency int, process processFunc) (*batchSummary, error) {
	summary := &batchSummary{Outcomes: make(map[model.Outcome]int)}
	if len(jobs) == 0 {
		zap.L().Info("no documents to process")
		return summary, nil
	}

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	summary.Jobs = len(jobs)

	zap.L().Info("processing batch",
		zap.Int("jobs", len(jobs)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var (
		succeeded, failed atomic.Int64
		mu                sync.Mutex
	)

	for _, job := range jobs {
		g.Go(func() error {
			log := zap.L().With(zap.String("job", job.Name))

			docs, err := job.Load(gctx)
			if err != nil {
				failed.Add(1)
				log.Error("load documents failed", zap.Error(err))
				return nil
			}

			for _, doc := range docs {
				res, err := process(gctx, doc)
				if err != nil {
					failed.Add(1)
					log.Error("document failed", zap.String("filename", doc.Filename), zap.Error(err))
					return nil // don't abort batch on individual failure
				}

				succeeded.Add(1)
				mu.Lock()
				summary.Outcomes[res.Outcome]++
				mu.Unlock()
				log.Info("document processed",
					zap.String("filename", doc.Filename),
					zap.String("outcome", string(res.Outcome)),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "batch")
	}

	summary.Succeeded = succeeded.Load()
	summary.Failed = failed.Load()

	zap.L().Info("batch complete",
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("failed", summary.Failed),
	)
	return summary, nil
}
