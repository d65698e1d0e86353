// Package pipeline runs one signed document through dedup, OCR, matching,
// decision and disposition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signmatch/internal/decision"
	"github.com/sells-group/signmatch/internal/dedup"
	"github.com/sells-group/signmatch/internal/disposition"
	"github.com/sells-group/signmatch/internal/matching"
	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/internal/monitoring"
	"github.com/sells-group/signmatch/internal/ocr"
	"github.com/sells-group/signmatch/internal/resilience"
	"github.com/sells-group/signmatch/internal/storage"
)

// Pipeline stages, used for timing, failure metrics and DLQ entries.
const (
	StageDedup  = "dedup"
	StageOCR    = "ocr"
	StageLookup = "match_lookup"
	StageMatch  = "match"
	StageApply  = "apply"
	StageLabels = "labels"
)

// Outcomes recorded for documents that never reach a decision.
const (
	outcomeRejected = "REJECTED"
	outcomeFailed   = "FAILED"
)

// WorkOrders is the work-order store as the pipeline uses it.
type WorkOrders interface {
	dedup.WorkOrderLookup
	disposition.WorkOrderWriter
	ListOpen(ctx context.Context, workspaceID string, fmKey *string) ([]model.WorkOrder, error)
}

// Reviews is the review store as the pipeline uses it.
type Reviews interface {
	dedup.ReviewLookup
	disposition.ReviewWriter
}

// DeadLetters records failed documents.
type DeadLetters interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
}

// Deps are the pipeline's collaborators. DLQ, Labels, Notifier and
// Metrics are optional.
type Deps struct {
	Extractor  ocr.Extractor
	WorkOrders WorkOrders
	Reviews    Reviews
	Uploader   storage.Uploader
	DLQ        DeadLetters
	Labels     disposition.LabelPort
	Notifier   disposition.ReviewNotifier
	Metrics    *monitoring.Metrics
}

// Options tune matching and decisions.
type Options struct {
	Matching   matching.Options
	Thresholds decision.Thresholds
	// MaxBytes rejects larger documents; zero disables the check.
	MaxBytes int
	// SerializeByFmKey runs documents for the same workspace and fm key
	// one at a time from match lookup through disposition.
	SerializeByFmKey bool
	DLQMaxRetries    int
}

// DefaultOptions returns the default matcher and thresholds.
func DefaultOptions() Options {
	return Options{
		Matching:      matching.DefaultOptions(),
		Thresholds:    decision.DefaultThresholds(),
		DLQMaxRetries: 3,
	}
}

// Result describes what happened to one document.
type Result struct {
	Outcome        model.Outcome           `json:"outcome"`
	FoundIn        model.DedupSource       `json:"found_in,omitempty"`
	FileHash       string                  `json:"file_hash"`
	WorkOrderID    string                  `json:"work_order_id,omitempty"`
	ReviewItemID   string                  `json:"review_item_id,omitempty"`
	ReviewCreated  bool                    `json:"review_created,omitempty"`
	SignedURL      string                  `json:"signed_url,omitempty"`
	UploadWarnings []string                `json:"upload_warnings,omitempty"`
	Decision       *model.Decision         `json:"decision,omitempty"`
	Extraction     *model.Extraction       `json:"extraction,omitempty"`
	Labels         disposition.LabelReport `json:"labels"`
}

// Pipeline processes documents. It is safe for concurrent use.
type Pipeline struct {
	extractor  ocr.Extractor
	workOrders WorkOrders
	dedup      *dedup.Guard
	executor   *disposition.Executor
	dlq        DeadLetters
	labels     disposition.LabelPort
	metrics    *monitoring.Metrics
	opts       Options
	locks      *keyLock
	now        func() time.Time
}

// New creates a Pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Extractor == nil:
		return nil, eris.New("pipeline: extractor is required")
	case deps.WorkOrders == nil || deps.Reviews == nil:
		return nil, eris.New("pipeline: work order and review stores are required")
	case deps.Uploader == nil:
		return nil, eris.New("pipeline: uploader is required")
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, eris.Wrap(err, "pipeline: thresholds")
	}

	var execOpts []disposition.Option
	if deps.Notifier != nil {
		execOpts = append(execOpts, disposition.WithNotifier(deps.Notifier))
	}

	return &Pipeline{
		extractor:  deps.Extractor,
		workOrders: deps.WorkOrders,
		dedup:      dedup.NewGuard(deps.WorkOrders, deps.Reviews),
		executor:   disposition.NewExecutor(deps.WorkOrders, deps.Reviews, deps.Uploader, execOpts...),
		dlq:        deps.DLQ,
		labels:     deps.Labels,
		metrics:    deps.Metrics,
		opts:       opts,
		locks:      newKeyLock(),
		now:        time.Now,
	}, nil
}

// Process runs doc through the pipeline. A document whose bytes were
// already processed returns OutcomeAlreadyProcessed without store writes;
// if it came from a message, the label transition is repeated so a move
// that failed on the first run is completed. Errors are *ValidationError
// or *CollaboratorError.
func (p *Pipeline) Process(ctx context.Context, doc model.Document) (*Result, error) {
	if err := p.validate(doc); err != nil {
		p.metrics.RecordOutcome(outcomeRejected)
		return nil, err
	}

	hash := model.HashContent(doc.Content)
	log := zap.L().With(
		zap.String("workspace_id", doc.WorkspaceID),
		zap.String("file_hash", hash),
		zap.String("filename", doc.Filename),
	)
	result := &Result{FileHash: hash}

	var dup dedup.Result
	p.track(StageDedup, func() error {
		dup = p.dedup.IsAlreadyProcessed(ctx, hash, doc.WorkspaceID)
		return nil
	})
	if dup.Exists {
		result.Outcome = model.OutcomeAlreadyProcessed
		result.FoundIn = dup.FoundIn
		p.metrics.RecordOutcome(string(result.Outcome))
		log.Info("pipeline: already processed",
			zap.String("found_in", string(dup.FoundIn)),
			zap.String("record_id", dup.RecordID),
		)
		p.moveLabels(ctx, doc.Source, result)
		return result, nil
	}

	var ex model.Extraction
	err := p.track(StageOCR, func() error {
		var err error
		ex, err = p.extractor.Extract(ctx, ocrInput(doc))
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, doc, hash, StageOCR, "", err)
	}
	result.Extraction = &ex

	if p.opts.SerializeByFmKey {
		unlock := p.locks.Lock(doc.WorkspaceID + "\x00" + doc.FmKey)
		defer unlock()
	}

	var open []model.WorkOrder
	err = p.track(StageLookup, func() error {
		var err error
		open, err = p.workOrders.ListOpen(ctx, doc.WorkspaceID, doc.FmKeyRef())
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, doc, hash, StageLookup, "", err)
	}

	var d model.Decision
	p.track(StageMatch, func() error {
		m := matching.FindBestMatch(ex.Candidate(), doc.FmKeyRef(), open, p.opts.Matching)
		d = decision.Decide(ex, m, p.opts.Thresholds)
		return nil
	})
	result.Decision = &d
	log = log.With(zap.String("outcome", string(d.Outcome)), zap.String("reason", d.ReasonCode))
	log.Debug("pipeline: decided",
		zap.String("candidate", ex.Candidate()),
		zap.Float64("confidence", decision.SanitizeConfidence(ex.Confidence)),
		zap.String("tier", string(d.Tier)),
		zap.Int("open_work_orders", len(open)),
	)

	// Past this point side effects are committed; cancellation no longer applies.
	commitCtx := context.WithoutCancel(ctx)

	var applied disposition.Applied
	err = p.track(StageApply, func() error {
		var err error
		applied, err = p.executor.Apply(commitCtx, d, ex, disposition.Context{Document: doc, FileHash: hash})
		return err
	})
	if err != nil {
		var se *disposition.StageError
		if errors.As(err, &se) {
			return nil, p.fail(commitCtx, doc, hash, se.Stage, se.OrphanedURL, se.Err)
		}
		return nil, eris.Wrap(err, "pipeline: apply")
	}

	result.Decision = &applied.Decision
	result.Outcome = applied.Outcome
	result.WorkOrderID = applied.WorkOrderID
	result.ReviewItemID = applied.ReviewItemID
	result.ReviewCreated = applied.ReviewCreated
	result.SignedURL = applied.SignedURL
	result.UploadWarnings = applied.UploadWarnings

	p.moveLabels(commitCtx, doc.Source, result)

	p.metrics.RecordOutcome(string(result.Outcome))
	log.Info("pipeline: document processed",
		zap.String("work_order_id", result.WorkOrderID),
		zap.String("review_item_id", result.ReviewItemID),
	)
	return result, nil
}

// moveLabels runs the label post-step for a committed or previously
// committed disposition.
func (p *Pipeline) moveLabels(ctx context.Context, src *model.MessageSource, result *Result) {
	p.track(StageLabels, func() error {
		result.Labels = disposition.TransitionLabels(ctx, p.labels, src)
		return nil
	})
	if !result.Labels.OK() {
		p.metrics.RecordLabelFailure()
	}
}

func ocrInput(doc model.Document) ocr.Input {
	in := ocr.Input{Filename: doc.Filename, Content: doc.Content}
	if doc.Crop != nil {
		in.Crop = *doc.Crop
	}
	return in
}

func (p *Pipeline) validate(doc model.Document) error {
	switch {
	case doc.WorkspaceID == "":
		return &ValidationError{Field: "workspace_id", Message: "is required"}
	case doc.Filename == "":
		return &ValidationError{Field: "filename", Message: "is required"}
	case len(doc.Content) == 0:
		return &ValidationError{Field: "content", Message: "is empty"}
	case p.opts.MaxBytes > 0 && len(doc.Content) > p.opts.MaxBytes:
		return &ValidationError{Field: "content", Message: fmt.Sprintf("%d bytes exceeds limit of %d", len(doc.Content), p.opts.MaxBytes)}
	case doc.Source != nil && doc.Source.MessageID == "":
		return &ValidationError{Field: "source.message_id", Message: "is required when a source is given"}
	}
	if doc.Crop != nil {
		if err := doc.Crop.Validate(); err != nil {
			return &ValidationError{Field: "crop", Message: err.Error()}
		}
	}
	return nil
}

// track times fn and records its duration for stage.
func (p *Pipeline) track(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.ObserveStage(stage, time.Since(start))
	return err
}

// fail records a collaborator failure in metrics and the dead letter queue
// and returns the CollaboratorError for the caller.
func (p *Pipeline) fail(ctx context.Context, doc model.Document, hash, stage, orphanedURL string, err error) error {
	log := zap.L().With(
		zap.String("workspace_id", doc.WorkspaceID),
		zap.String("file_hash", hash),
		zap.String("stage", stage),
	)
	log.Error("pipeline: collaborator failed", zap.String("orphaned_url", orphanedURL), zap.Error(err))

	p.metrics.RecordCollaboratorFailure(stage)
	p.metrics.RecordOutcome(outcomeFailed)

	if p.dlq != nil {
		now := p.now().UTC()
		entry := resilience.DLQEntry{
			WorkspaceID:  doc.WorkspaceID,
			Filename:     doc.Filename,
			FileHash:     hash,
			FmKey:        doc.FmKey,
			Stage:        stage,
			Error:        err.Error(),
			ErrorType:    resilience.ClassifyError(err),
			MaxRetries:   p.opts.DLQMaxRetries,
			NextRetryAt:  now,
			CreatedAt:    now,
			LastFailedAt: now,
		}
		if doc.Source != nil {
			entry.MessageID = doc.Source.MessageID
		}
		if dlqErr := p.dlq.EnqueueDLQ(context.WithoutCancel(ctx), entry); dlqErr != nil {
			log.Error("pipeline: dead letter enqueue failed", zap.Error(dlqErr))
		} else {
			p.metrics.RecordDLQ(stage)
		}
	}

	return &CollaboratorError{Stage: stage, OrphanedURL: orphanedURL, Err: err}
}
