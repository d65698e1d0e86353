package notion

import (
	"context"
	"errors"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *MockClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *MockClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func TestMockClientSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var _ Client = (*MockClient)(nil)
	var _ Client = (*ThrottledClient)(nil)
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	c := NewClient("secret-token", 3)
	assert.NotNil(t, c.api)
	require.NotNil(t, c.limiter)
	assert.InDelta(t, 3.0, float64(c.limiter.Limit()), 0.001)
	assert.Equal(t, 3, c.limiter.Burst())

	c = NewClient("secret-token", 0.5)
	assert.Equal(t, 1, c.limiter.Burst())

	assert.Nil(t, NewClient("secret-token", 0).limiter)
}

func TestThrottled(t *testing.T) {
	t.Parallel()

	c := NewClient("secret-token", 0)
	v, err := throttled(context.Background(), c, "create page", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = throttled(context.Background(), c, "update page p1", func() (int, error) { return 0, errors.New("validation_error") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: update page p1")
}

func TestThrottled_CanceledWhileWaiting(t *testing.T) {
	t.Parallel()

	c := NewClient("secret-token", 0.001)
	_, err := throttled(context.Background(), c, "create page", func() (int, error) { return 1, nil })
	require.NoError(t, err, "first token is free")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err = throttled(ctx, c, "create page", func() (int, error) {
		called = true
		return 1, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: create page: rate limit")
	assert.False(t, called)
}
