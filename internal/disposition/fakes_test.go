package disposition

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/internal/storage"
)

type fakeUploader struct {
	mu       sync.Mutex
	calls    int
	err      error
	warnings []string
}

func (f *fakeUploader) Upload(_ context.Context, _ []byte, filename string) (storage.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return storage.Upload{}, f.err
	}
	return storage.Upload{URL: fmt.Sprintf("file:///signed/%d-%s", f.calls, filename), Warnings: f.warnings}, nil
}

// fakeWorkOrders mirrors the store's MarkSigned contract.
type fakeWorkOrders struct {
	mu      sync.Mutex
	orders  map[string]*model.WorkOrder
	writes  int
	failErr error
}

func newFakeWorkOrders(orders ...model.WorkOrder) *fakeWorkOrders {
	f := &fakeWorkOrders{orders: make(map[string]*model.WorkOrder)}
	for i := range orders {
		wo := orders[i]
		f.orders[wo.ID] = &wo
	}
	return f
}

func (f *fakeWorkOrders) MarkSigned(_ context.Context, id string, upd model.SignedUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	wo, ok := f.orders[id]
	if !ok {
		return errors.New("work_order not found: " + id)
	}
	if wo.SignedFileHash == upd.FileHash {
		return nil
	}
	if wo.Status == model.WorkOrderArchived {
		return model.ErrWorkOrderArchived
	}
	f.writes++
	wo.Status = model.WorkOrderSigned
	wo.SignedPDFURL = upd.URL
	wo.SignedFileHash = upd.FileHash
	at := upd.SignedAt
	wo.SignedAt = &at
	return nil
}

type fakeReviews struct {
	mu      sync.Mutex
	items   []model.ReviewItem
	failErr error
}

func (f *fakeReviews) InsertReviewItem(_ context.Context, item *model.ReviewItem) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return false, f.failErr
	}
	for _, it := range f.items {
		if !it.Resolved && it.WorkspaceID == item.WorkspaceID && it.FileHash == item.FileHash {
			item.ID = it.ID
			return false, nil
		}
	}
	item.ID = fmt.Sprintf("review-%d", len(f.items)+1)
	f.items = append(f.items, *item)
	return true, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	items []model.ReviewItem
	err   error
}

func (f *fakeNotifier) NotifyReview(_ context.Context, item model.ReviewItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	return f.err
}

type labelCall struct {
	op, messageID, labelID string
}

type fakeLabels struct {
	mu        sync.Mutex
	calls     []labelCall
	removeErr error
	applyErr  error
}

func (f *fakeLabels) RemoveLabel(_ context.Context, messageID, labelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, labelCall{"remove", messageID, labelID})
	return f.removeErr
}

func (f *fakeLabels) ApplyLabel(_ context.Context, messageID, labelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, labelCall{"apply", messageID, labelID})
	return f.applyErr
}
