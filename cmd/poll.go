package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/pkg/gmail"
)

var (
	pollWorkspace string
	pollFmKey     string
	pollLimit     int
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Process PDF attachments on messages carrying the queue label",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Gmail == nil {
			return eris.New("poll requires gmail.credentials_file")
		}
		if cfg.Gmail.QueueLabel == "" || cfg.Gmail.ProcessedLabel == "" {
			return eris.New("poll requires gmail.queue_label and gmail.processed_label")
		}

		jobs, err := mailboxJobs(ctx, env.Gmail, mailboxQuery{
			WorkspaceID:    pollWorkspace,
			FmKey:          pollFmKey,
			QueueLabel:     cfg.Gmail.QueueLabel,
			ProcessedLabel: cfg.Gmail.ProcessedLabel,
			Limit:          pollLimit,
		})
		if err != nil {
			return err
		}

		summary, err := processBatch(ctx, jobs, pollLimit, cfg.Batch.MaxConcurrentDocuments, env.Pipeline.Process)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	pollCmd.Flags().StringVar(&pollWorkspace, "workspace", "", "workspace ID (required)")
	pollCmd.Flags().StringVar(&pollFmKey, "fm-key", "", "restrict matching to one issuer")
	pollCmd.Flags().IntVar(&pollLimit, "limit", 50, "max number of messages to process")
	_ = pollCmd.MarkFlagRequired("workspace")
	rootCmd.AddCommand(pollCmd)
}

// mailbox is the part of the Gmail client poll reads from.
type mailbox interface {
	ListLabeled(ctx context.Context, labelID string, limit int) ([]string, error)
	PDFAttachments(ctx context.Context, messageID string) ([]gmail.Attachment, error)
}

type mailboxQuery struct {
	WorkspaceID    string
	FmKey          string
	QueueLabel     string
	ProcessedLabel string
	Limit          int
}

// mailboxJobs returns one job per queued message. Only the last attachment
// of a message carries the message source, so the queue label stays until
// every attachment has been processed. A replay dedups the ones that were.
func mailboxJobs(ctx context.Context, mb mailbox, q mailboxQuery) ([]batchJob, error) {
	ids, err := mb.ListLabeled(ctx, q.QueueLabel, q.Limit)
	if err != nil {
		return nil, eris.Wrap(err, "list queued messages")
	}

	jobs := make([]batchJob, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, batchJob{
			Name: "message:" + id,
			Load: func(ctx context.Context) ([]model.Document, error) {
				atts, err := mb.PDFAttachments(ctx, id)
				if err != nil {
					return nil, err
				}
				if len(atts) == 0 {
					zap.L().Warn("queued message has no PDF attachments", zap.String("message_id", id))
					return nil, nil
				}

				docs := make([]model.Document, len(atts))
				for i, att := range atts {
					docs[i] = model.Document{
						WorkspaceID: q.WorkspaceID,
						Filename:    att.Filename,
						Content:     att.Content,
						FmKey:       q.FmKey,
					}
				}
				docs[len(docs)-1].Source = &model.MessageSource{
					MessageID:        id,
					QueueLabelID:     q.QueueLabel,
					ProcessedLabelID: q.ProcessedLabel,
				}
				return docs, nil
			},
		})
	}
	return jobs, nil
}
