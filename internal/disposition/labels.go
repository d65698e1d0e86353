package disposition

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/signmatch/internal/model"
)

// LabelPort moves labels on an inbound message. Both calls must be
// idempotent: removing an absent label or applying a present one succeeds.
type LabelPort interface {
	RemoveLabel(ctx context.Context, messageID, labelID string) error
	ApplyLabel(ctx context.Context, messageID, labelID string) error
}

// LabelReport records what a label transition did.
type LabelReport struct {
	Attempted bool     `json:"attempted"`
	Removed   bool     `json:"removed"`
	Applied   bool     `json:"applied"`
	Errors    []string `json:"errors,omitempty"`
}

// OK reports whether every attempted call succeeded.
func (r LabelReport) OK() bool {
	return len(r.Errors) == 0
}

// TransitionLabels removes the queue label and applies the processed label.
// It runs only after the disposition is committed and never returns an
// error: failures are logged and recorded in the report. Both calls are
// attempted even if the first fails.
func TransitionLabels(ctx context.Context, port LabelPort, src *model.MessageSource) LabelReport {
	var report LabelReport
	if port == nil || src == nil || src.MessageID == "" {
		return report
	}
	report.Attempted = true

	log := zap.L().With(zap.String("message_id", src.MessageID))

	if src.QueueLabelID != "" {
		if err := port.RemoveLabel(ctx, src.MessageID, src.QueueLabelID); err != nil {
			log.Warn("disposition: remove queue label failed", zap.String("label_id", src.QueueLabelID), zap.Error(err))
			report.Errors = append(report.Errors, "remove "+src.QueueLabelID+": "+err.Error())
		} else {
			report.Removed = true
		}
	}

	if src.ProcessedLabelID != "" {
		if err := port.ApplyLabel(ctx, src.MessageID, src.ProcessedLabelID); err != nil {
			log.Warn("disposition: apply processed label failed", zap.String("label_id", src.ProcessedLabelID), zap.Error(err))
			report.Errors = append(report.Errors, "apply "+src.ProcessedLabelID+": "+err.Error())
		} else {
			report.Applied = true
		}
	}

	return report
}
