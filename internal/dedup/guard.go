// Package dedup detects documents whose bytes were already processed.
package dedup

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/signmatch/internal/model"
)

// WorkOrderLookup finds a work order already signed with a file hash.
type WorkOrderLookup interface {
	FindByFileHash(ctx context.Context, workspaceID, fileHash string) (*model.WorkOrder, error)
}

// ReviewLookup finds an unresolved review item for a file hash.
type ReviewLookup interface {
	FindUnresolvedByFileHash(ctx context.Context, workspaceID, fileHash string) (*model.ReviewItem, error)
}

// Result reports where a file hash was found.
type Result struct {
	Exists  bool              `json:"exists"`
	FoundIn model.DedupSource `json:"found_in,omitempty"`
	// RecordID is the matching work order or review item.
	RecordID string `json:"record_id,omitempty"`
}

// Guard checks the work-order store, then the review queue.
type Guard struct {
	workOrders WorkOrderLookup
	reviews    ReviewLookup
}

// NewGuard creates a Guard over the two stores.
func NewGuard(workOrders WorkOrderLookup, reviews ReviewLookup) *Guard {
	return &Guard{workOrders: workOrders, reviews: reviews}
}

// IsAlreadyProcessed reports whether fileHash is recorded in either store.
// The first hit wins. A lookup error counts as "not found" for that store
// only: it is logged and the check moves on, so a broken store allows
// reprocessing rather than blocking ingestion.
func (g *Guard) IsAlreadyProcessed(ctx context.Context, fileHash, workspaceID string) Result {
	log := zap.L().With(
		zap.String("workspace_id", workspaceID),
		zap.String("file_hash", fileHash),
	)

	wo, err := g.workOrders.FindByFileHash(ctx, workspaceID, fileHash)
	switch {
	case err != nil:
		log.Warn("dedup: work order lookup failed, treating as not found", zap.Error(err))
	case wo != nil:
		return Result{Exists: true, FoundIn: model.FoundInWorkOrder, RecordID: wo.ID}
	}

	item, err := g.reviews.FindUnresolvedByFileHash(ctx, workspaceID, fileHash)
	switch {
	case err != nil:
		log.Warn("dedup: review lookup failed, treating as not found", zap.Error(err))
	case item != nil:
		return Result{Exists: true, FoundIn: model.FoundInReviewQueue, RecordID: item.ID}
	}

	return Result{}
}
