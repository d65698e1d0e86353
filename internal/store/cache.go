package store

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/sells-group/signmatch/internal/model"
)

// CachedWorkOrders caches ListOpen results per workspace and fm key.
// Writes through it invalidate the affected workspace; writes that bypass
// it must call Invalidate.
type CachedWorkOrders struct {
	WorkOrderStore
	cache *cache.Cache
}

// NewCachedWorkOrders wraps next with a TTL cache.
func NewCachedWorkOrders(next WorkOrderStore, ttl time.Duration) *CachedWorkOrders {
	return &CachedWorkOrders{
		WorkOrderStore: next,
		cache:          cache.New(ttl, ttl*2),
	}
}

func openKey(workspaceID string, fmKey *string) string {
	if fmKey == nil {
		return workspaceID + "\x00*"
	}
	return workspaceID + "\x00=" + *fmKey
}

// ListOpen serves from cache when possible. Callers get their own slice.
func (c *CachedWorkOrders) ListOpen(ctx context.Context, workspaceID string, fmKey *string) ([]model.WorkOrder, error) {
	key := openKey(workspaceID, fmKey)
	if cached, found := c.cache.Get(key); found {
		return append([]model.WorkOrder(nil), cached.([]model.WorkOrder)...), nil
	}

	orders, err := c.WorkOrderStore.ListOpen(ctx, workspaceID, fmKey)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, orders, cache.DefaultExpiration)
	return append([]model.WorkOrder(nil), orders...), nil
}

// MarkSigned writes through and drops every cached list. The work order's
// workspace is not known from its ID alone.
func (c *CachedWorkOrders) MarkSigned(ctx context.Context, id string, upd model.SignedUpdate) error {
	err := c.WorkOrderStore.MarkSigned(ctx, id, upd)
	c.cache.Flush()
	return err
}

// UpsertWorkOrders writes through and invalidates each touched workspace.
func (c *CachedWorkOrders) UpsertWorkOrders(ctx context.Context, orders []model.WorkOrder) (int64, error) {
	n, err := c.WorkOrderStore.UpsertWorkOrders(ctx, orders)
	seen := make(map[string]bool)
	for _, wo := range orders {
		if !seen[wo.WorkspaceID] {
			seen[wo.WorkspaceID] = true
			c.Invalidate(wo.WorkspaceID)
		}
	}
	return n, err
}

// Invalidate drops cached lists for one workspace.
func (c *CachedWorkOrders) Invalidate(workspaceID string) {
	prefix := workspaceID + "\x00"
	for key := range c.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
		}
	}
}

// Len reports the number of cached lists.
func (c *CachedWorkOrders) Len() int {
	return c.cache.ItemCount()
}
