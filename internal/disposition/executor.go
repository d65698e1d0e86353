// Package disposition applies a decision's side effects: durable upload,
// work-order signing or review-queue insertion, and message label
// transitions.
package disposition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signmatch/internal/decision"
	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/internal/storage"
)

// WorkOrderWriter signs work orders.
type WorkOrderWriter interface {
	MarkSigned(ctx context.Context, id string, upd model.SignedUpdate) error
}

// ReviewWriter inserts review items idempotently per workspace and hash.
type ReviewWriter interface {
	InsertReviewItem(ctx context.Context, item *model.ReviewItem) (bool, error)
}

// ReviewNotifier is told about newly queued review items.
type ReviewNotifier interface {
	NotifyReview(ctx context.Context, item model.ReviewItem) error
}

// Stages at which Apply can fail.
const (
	StageUpload      = "upload"
	StageWorkOrder   = "work_order"
	StageReviewQueue = "review_queue"
)

// StageError is returned when a collaborator fails during Apply.
// OrphanedURL is set when the upload succeeded but the record write did not.
type StageError struct {
	Stage       string
	OrphanedURL string
	Err         error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("disposition: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Context carries the document being disposed of.
type Context struct {
	Document model.Document
	FileHash string
}

// ReasonArchived is the reason code of an auto match queued for review
// because its work order was archived before it could be signed.
const ReasonArchived = "matched-work-order-archived"

// Applied describes the side effects Apply committed.
type Applied struct {
	// Decision is the decision carried out. It differs from the one passed
	// to Apply only when an archived match was rerouted to review.
	Decision       model.Decision `json:"decision"`
	Outcome        model.Outcome  `json:"outcome"`
	SignedURL      string         `json:"signed_url"`
	UploadWarnings []string       `json:"upload_warnings,omitempty"`
	WorkOrderID    string         `json:"work_order_id,omitempty"`
	ReviewItemID   string         `json:"review_item_id,omitempty"`
	// ReviewCreated is false when an unresolved item for the same file
	// already existed.
	ReviewCreated bool `json:"review_created,omitempty"`
}

// Executor applies decisions against the stores.
type Executor struct {
	workOrders WorkOrderWriter
	reviews    ReviewWriter
	uploader   storage.Uploader
	notifier   ReviewNotifier
	now        func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithNotifier sets the review notifier.
func WithNotifier(n ReviewNotifier) Option {
	return func(e *Executor) { e.notifier = n }
}

// WithClock overrides the signing timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor.
func NewExecutor(workOrders WorkOrderWriter, reviews ReviewWriter, uploader storage.Uploader, opts ...Option) *Executor {
	e := &Executor{
		workOrders: workOrders,
		reviews:    reviews,
		uploader:   uploader,
		now:        time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Apply uploads the document and then signs the matched work order or
// queues a review item. An upload failure aborts before any record write.
// A record write failure after a successful upload leaves the uploaded
// file in place; its URL is logged and carried on the StageError. A match
// whose work order was archived meanwhile is queued for review instead.
func (e *Executor) Apply(ctx context.Context, d model.Decision, ex model.Extraction, c Context) (Applied, error) {
	switch {
	case d.Outcome == model.OutcomeAutoMatch:
		if d.MatchedWorkOrderID == "" {
			return Applied{}, eris.New("disposition: auto match without a work order")
		}
	case d.Outcome.NeedsReview():
	default:
		return Applied{}, eris.Errorf("disposition: unsupported outcome %q", d.Outcome)
	}

	log := zap.L().With(
		zap.String("workspace_id", c.Document.WorkspaceID),
		zap.String("file_hash", c.FileHash),
		zap.String("outcome", string(d.Outcome)),
		zap.String("reason", d.ReasonCode),
	)

	up, err := e.uploader.Upload(ctx, c.Document.Content, c.Document.Filename)
	if err != nil {
		return Applied{}, &StageError{Stage: StageUpload, Err: err}
	}
	for _, w := range up.Warnings {
		log.Warn("disposition: upload completed with warning", zap.String("url", up.URL), zap.String("warning", w))
	}

	applied := Applied{Decision: d, Outcome: d.Outcome, SignedURL: up.URL, UploadWarnings: up.Warnings}

	if d.Outcome == model.OutcomeAutoMatch {
		err := e.workOrders.MarkSigned(ctx, d.MatchedWorkOrderID, model.SignedUpdate{
			URL:      up.URL,
			FileHash: c.FileHash,
			SignedAt: e.now().UTC(),
		})
		switch {
		case errors.Is(err, model.ErrWorkOrderArchived):
			log.Warn("disposition: matched work order archived, queueing for review",
				zap.String("work_order_id", d.MatchedWorkOrderID))
			d = archivedReroute(d)
			applied.Decision, applied.Outcome = d, d.Outcome
			return e.queueReview(ctx, log, d, ex, c, applied)
		case err != nil:
			log.Error("disposition: orphaned upload, work order not signed",
				zap.String("url", up.URL), zap.String("work_order_id", d.MatchedWorkOrderID), zap.Error(err))
			return Applied{}, &StageError{Stage: StageWorkOrder, OrphanedURL: up.URL, Err: err}
		}
		applied.WorkOrderID = d.MatchedWorkOrderID
		log.Info("disposition: work order signed", zap.String("work_order_id", d.MatchedWorkOrderID))
		return applied, nil
	}

	return e.queueReview(ctx, log, d, ex, c, applied)
}

// archivedReroute turns an auto match into a manual review suggesting the
// archived work order.
func archivedReroute(d model.Decision) model.Decision {
	d.Outcome = model.OutcomeManualReview
	d.ReasonCode = ReasonArchived
	d.SuggestedWorkOrderID = d.MatchedWorkOrderID
	d.MatchedWorkOrderID = ""
	return d
}

func (e *Executor) queueReview(ctx context.Context, log *zap.Logger, d model.Decision, ex model.Extraction, c Context, applied Applied) (Applied, error) {
	url := applied.SignedURL
	item := &model.ReviewItem{
		WorkspaceID:          c.Document.WorkspaceID,
		FmKey:                c.Document.FmKey,
		FileHash:             c.FileHash,
		Filename:             c.Document.Filename,
		SignedPDFURL:         url,
		RawText:              ex.RawText,
		SnippetImageURL:      ex.Snippet(),
		CandidateNumber:      ex.Candidate(),
		ConfidenceScore:      decision.SanitizeConfidence(ex.Confidence),
		Confidence:           d.Tier,
		Outcome:              d.Outcome,
		Reason:               d.ReasonCode,
		SuggestedWorkOrderID: d.SuggestedWorkOrderID,
	}
	created, err := e.reviews.InsertReviewItem(ctx, item)
	if err != nil {
		log.Error("disposition: orphaned upload, review item not queued", zap.String("url", url), zap.Error(err))
		return Applied{}, &StageError{Stage: StageReviewQueue, OrphanedURL: url, Err: err}
	}
	applied.ReviewItemID = item.ID
	applied.ReviewCreated = created

	if !created {
		log.Info("disposition: review item already queued", zap.String("review_item_id", item.ID))
		return applied, nil
	}
	log.Info("disposition: review item queued", zap.String("review_item_id", item.ID))

	if e.notifier != nil {
		if err := e.notifier.NotifyReview(ctx, *item); err != nil {
			log.Warn("disposition: review notification failed", zap.String("review_item_id", item.ID), zap.Error(err))
		}
	}
	return applied, nil
}
