package notion

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestQueryAll_FollowsCursor(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == ""
	})).Return(&notionapi.DatabaseQueryResponse{
		Results:    []notionapi.Page{{ID: "p1"}},
		HasMore:    true,
		NextCursor: "cursor-2",
	}, nil).Once()
	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == "cursor-2"
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "p2"}, {ID: "p3"}},
	}, nil).Once()

	pages, err := QueryAll(ctx, mc, "db-1", nil)
	require.NoError(t, err)
	assert.Len(t, pages, 3)
	mc.AssertExpectations(t)
}

func TestQueryAll_Error(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	mc.On("QueryDatabase", ctx, "db-1", mock.Anything).Return(nil, assert.AnError).Once()

	pages, err := QueryAll(ctx, mc, "db-1", nil)
	require.Error(t, err)
	assert.Nil(t, pages)
	assert.Contains(t, err.Error(), "notion: query all")
}

func TestFindByText_Filter(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && pf.Property == "Review ID" && pf.RichText != nil && pf.RichText.Equals == "r-1"
	})).Return(&notionapi.DatabaseQueryResponse{Results: []notionapi.Page{{ID: "page-9"}}}, nil).Once()

	pages, err := FindByText(ctx, mc, "db-1", "Review ID", "r-1")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, notionapi.ObjectID("page-9"), pages[0].ID)
	mc.AssertExpectations(t)
}

func TestPropertyBuilders(t *testing.T) {
	t.Parallel()

	title := Title("WO-1")
	require.Len(t, title.Title, 1)
	assert.Equal(t, "WO-1", title.Title[0].Text.Content)

	long := Text(strings.Repeat("x", 2500))
	assert.Len(t, long.RichText[0].Text.Content, 2000)

	assert.Equal(t, "HIGH", Select("HIGH").Select.Name)
	assert.InDelta(t, 0.5, Number(0.5).Number, 0.0001)
	assert.Equal(t, "https://x", URL("https://x").URL)
	assert.True(t, Checkbox(true).Checkbox)

	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d := Date(ts)
	require.NotNil(t, d.Date.Start)
	assert.True(t, time.Time(*d.Date.Start).Equal(ts))
}
