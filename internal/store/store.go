// Package store persists work orders, review items and dead-letter entries.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/internal/resilience"
)

// ErrNotFound is returned when a record looked up or updated by ID does not exist.
var ErrNotFound = eris.New("not found")

// ReviewFilter specifies criteria for listing review items.
type ReviewFilter struct {
	WorkspaceID string `json:"workspace_id,omitempty"`
	// Resolved filters by resolution state; nil lists both.
	Resolved *bool `json:"resolved,omitempty"`
	Limit    int   `json:"limit,omitempty"`
	Offset   int   `json:"offset,omitempty"`
}

// WorkOrderStore reads and signs work orders.
type WorkOrderStore interface {
	// ListOpen returns open work orders in insertion order. A nil fmKey
	// spans every issuer in the workspace.
	ListOpen(ctx context.Context, workspaceID string, fmKey *string) ([]model.WorkOrder, error)
	// FindByFileHash returns the work order signed with fileHash, or nil.
	FindByFileHash(ctx context.Context, workspaceID, fileHash string) (*model.WorkOrder, error)
	GetWorkOrder(ctx context.Context, id string) (*model.WorkOrder, error)
	// MarkSigned is a no-op when the work order already carries the same
	// file hash. A different hash overwrites the previous signature.
	MarkSigned(ctx context.Context, id string, upd model.SignedUpdate) error
	// UpsertWorkOrders inserts work orders keyed by (workspace, fm key,
	// number). Existing rows only get their schedule refreshed.
	UpsertWorkOrders(ctx context.Context, orders []model.WorkOrder) (int64, error)
}

// ReviewStore manages the human review queue.
type ReviewStore interface {
	FindUnresolvedByFileHash(ctx context.Context, workspaceID, fileHash string) (*model.ReviewItem, error)
	// InsertReviewItem fills in ID and CreatedAt. It reports false, and
	// loads the existing item's ID, when an unresolved item for the same
	// workspace and hash already exists.
	InsertReviewItem(ctx context.Context, item *model.ReviewItem) (bool, error)
	ListReviewItems(ctx context.Context, filter ReviewFilter) ([]model.ReviewItem, error)
	ResolveReviewItem(ctx context.Context, workspaceID, id, manualWorkOrderNumber string) error
	// ClearResolved deletes resolved items and returns how many went.
	ClearResolved(ctx context.Context, workspaceID string) (int, error)
	ReviewStats(ctx context.Context, workspaceID string, since time.Time) (*model.ReviewStats, error)
}

// DLQStore records documents that failed at a collaborator.
type DLQStore interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)
}

// Store is the full persistence interface.
type Store interface {
	WorkOrderStore
	ReviewStore
	DLQStore

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// unsignedReason explains a signing update that matched no row: a replay of
// the recorded signature is a no-op, an archived work order is refused.
func unsignedReason(id string, status model.WorkOrderStatus, recordedHash, fileHash string) error {
	if recordedHash == fileHash || status != model.WorkOrderArchived {
		return nil
	}
	return eris.Wrapf(model.ErrWorkOrderArchived, "work_order %s", id)
}
