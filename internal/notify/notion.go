// Package notify mirrors review-queue activity into external tools.
package notify

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/pkg/notion"
)

// Notion database property names.
const (
	PropTitle      = "Name"
	PropReviewID   = "Review ID"
	PropWorkspace  = "Workspace"
	PropOutcome    = "Outcome"
	PropReason     = "Reason"
	PropConfidence = "Confidence"
	PropScore      = "Score"
	PropCandidate  = "Candidate"
	PropSuggested  = "Suggested Work Order"
	PropPDF        = "Signed PDF"
	PropFileHash   = "File Hash"
	PropResolved   = "Resolved"
	PropManual     = "Manual Work Order"
	PropQueuedAt   = "Queued At"
)

// NotionReviewNotifier creates one Notion page per queued review item.
type NotionReviewNotifier struct {
	client notion.Client
	dbID   string
}

// NewNotionReviewNotifier creates a notifier writing to database dbID.
func NewNotionReviewNotifier(client notion.Client, dbID string) *NotionReviewNotifier {
	return &NotionReviewNotifier{client: client, dbID: dbID}
}

// NotifyReview creates the page for a new review item.
func (n *NotionReviewNotifier) NotifyReview(ctx context.Context, item model.ReviewItem) error {
	props := notionapi.Properties{
		PropTitle:      notion.Title(reviewTitle(item)),
		PropReviewID:   notion.Text(item.ID),
		PropWorkspace:  notion.Text(item.WorkspaceID),
		PropOutcome:    notion.Select(string(item.Outcome)),
		PropReason:     notion.Select(item.Reason),
		PropConfidence: notion.Select(string(item.Confidence)),
		PropScore:      notion.Number(item.ConfidenceScore),
		PropFileHash:   notion.Text(item.FileHash),
		PropResolved:   notion.Checkbox(false),
		PropQueuedAt:   notion.Date(item.CreatedAt),
	}
	if item.CandidateNumber != "" {
		props[PropCandidate] = notion.Text(item.CandidateNumber)
	}
	if item.SuggestedWorkOrderID != "" {
		props[PropSuggested] = notion.Text(item.SuggestedWorkOrderID)
	}
	if item.SignedPDFURL != "" {
		props[PropPDF] = notion.URL(item.SignedPDFURL)
	}

	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(n.dbID),
		},
		Properties: props,
	}
	if strings.TrimSpace(item.RawText) != "" {
		req.Children = []notionapi.Block{rawTextBlock(item.RawText)}
	}

	page, err := n.client.CreatePage(ctx, req)
	if err != nil {
		return eris.Wrapf(err, "notify: create review page for %s", item.ID)
	}
	zap.L().Debug("notify: review page created", zap.String("review_item_id", item.ID), zap.String("page_id", string(page.ID)))
	return nil
}

// MarkResolved ticks the Resolved box on every page for the item.
// It returns how many pages were updated.
func (n *NotionReviewNotifier) MarkResolved(ctx context.Context, reviewItemID, manualWorkOrderNumber string) (int, error) {
	pages, err := notion.FindByText(ctx, n.client, n.dbID, PropReviewID, reviewItemID)
	if err != nil {
		return 0, eris.Wrapf(err, "notify: find review page for %s", reviewItemID)
	}

	props := notionapi.Properties{PropResolved: notion.Checkbox(true)}
	if manualWorkOrderNumber != "" {
		props[PropManual] = notion.Text(manualWorkOrderNumber)
	}
	for _, p := range pages {
		if _, err := n.client.UpdatePage(ctx, string(p.ID), &notionapi.PageUpdateRequest{Properties: props}); err != nil {
			return 0, eris.Wrapf(err, "notify: resolve review page %s", p.ID)
		}
	}
	return len(pages), nil
}

func reviewTitle(item model.ReviewItem) string {
	if item.CandidateNumber != "" {
		return item.CandidateNumber + " (" + item.Filename + ")"
	}
	return item.Filename
}

func rawTextBlock(text string) notionapi.Block {
	return &notionapi.CodeBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeCode,
		},
		Code: notionapi.Code{
			RichText: notion.Text(text).RichText,
			Language: "plain text",
		},
	}
}
