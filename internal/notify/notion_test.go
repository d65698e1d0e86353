package notify

import (
	"context"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signmatch/internal/model"
)

type mockNotion struct {
	mock.Mock
}

func (m *mockNotion) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *mockNotion) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func reviewItem() model.ReviewItem {
	return model.ReviewItem{
		ID:                   "r-1",
		WorkspaceID:          "ws",
		FileHash:             "abc123",
		Filename:             "signed.pdf",
		SignedPDFURL:         "https://files.example.com/abc-signed.pdf",
		RawText:              "WO 12?45\nsigned",
		CandidateNumber:      "WO-1245",
		ConfidenceScore:      0.71,
		Confidence:           model.TierMedium,
		Outcome:              model.OutcomeAutoCreateReview,
		Reason:               "fuzzy-medium-confidence",
		SuggestedWorkOrderID: "wo-7",
		CreatedAt:            time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestNotifyReview_CreatesPage(t *testing.T) {
	mc := new(mockNotion)
	ctx := context.Background()

	var got *notionapi.PageCreateRequest
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Run(func(args mock.Arguments) { got = args.Get(1).(*notionapi.PageCreateRequest) }).
		Return(&notionapi.Page{ID: "page-1"}, nil).Once()

	n := NewNotionReviewNotifier(mc, "db-review")
	require.NoError(t, n.NotifyReview(ctx, reviewItem()))
	mc.AssertExpectations(t)

	require.NotNil(t, got)
	assert.Equal(t, notionapi.DatabaseID("db-review"), got.Parent.DatabaseID)

	title := got.Properties[PropTitle].(notionapi.TitleProperty)
	assert.Equal(t, "WO-1245 (signed.pdf)", title.Title[0].Text.Content)
	assert.Equal(t, "r-1", got.Properties[PropReviewID].(notionapi.RichTextProperty).RichText[0].Text.Content)
	assert.Equal(t, "MEDIUM", got.Properties[PropConfidence].(notionapi.SelectProperty).Select.Name)
	assert.Equal(t, "wo-7", got.Properties[PropSuggested].(notionapi.RichTextProperty).RichText[0].Text.Content)
	assert.False(t, got.Properties[PropResolved].(notionapi.CheckboxProperty).Checkbox)
	assert.Len(t, got.Children, 1)
}

func TestNotifyReview_OptionalPropsOmitted(t *testing.T) {
	mc := new(mockNotion)
	ctx := context.Background()

	item := reviewItem()
	item.CandidateNumber = ""
	item.SuggestedWorkOrderID = ""
	item.RawText = "  "

	var got *notionapi.PageCreateRequest
	mc.On("CreatePage", ctx, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(*notionapi.PageCreateRequest) }).
		Return(&notionapi.Page{ID: "page-2"}, nil).Once()

	require.NoError(t, NewNotionReviewNotifier(mc, "db").NotifyReview(ctx, item))
	assert.NotContains(t, got.Properties, PropCandidate)
	assert.NotContains(t, got.Properties, PropSuggested)
	assert.Empty(t, got.Children)
	assert.Equal(t, "signed.pdf", got.Properties[PropTitle].(notionapi.TitleProperty).Title[0].Text.Content)
}

func TestNotifyReview_Error(t *testing.T) {
	mc := new(mockNotion)
	ctx := context.Background()
	mc.On("CreatePage", ctx, mock.Anything).Return(nil, assert.AnError).Once()

	err := NewNotionReviewNotifier(mc, "db").NotifyReview(ctx, reviewItem())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify: create review page for r-1")
}

func TestMarkResolved(t *testing.T) {
	mc := new(mockNotion)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{Results: []notionapi.Page{{ID: "page-1"}}}, nil).Once()
	mc.On("UpdatePage", ctx, "page-1", mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
		resolved, ok := req.Properties[PropResolved].(notionapi.CheckboxProperty)
		manual, hasManual := req.Properties[PropManual].(notionapi.RichTextProperty)
		return ok && resolved.Checkbox && hasManual && manual.RichText[0].Text.Content == "WO-1234"
	})).Return(&notionapi.Page{ID: "page-1"}, nil).Once()

	n, err := NewNotionReviewNotifier(mc, "db").MarkResolved(ctx, "r-1", "WO-1234")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	mc.AssertExpectations(t)
}

func TestMarkResolved_NoPages(t *testing.T) {
	mc := new(mockNotion)
	ctx := context.Background()
	mc.On("QueryDatabase", ctx, "db", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{}, nil).Once()

	n, err := NewNotionReviewNotifier(mc, "db").MarkResolved(ctx, "r-1", "")
	require.NoError(t, err)
	assert.Zero(t, n)
	mc.AssertNotCalled(t, "UpdatePage", mock.Anything, mock.Anything, mock.Anything)
}
