package model

import "time"

// ReviewItem is a signed document waiting for a human decision.
type ReviewItem struct {
	ID                    string         `json:"id"`
	WorkspaceID           string         `json:"workspace_id"`
	FmKey                 string         `json:"fm_key,omitempty"`
	FileHash              string         `json:"file_hash"`
	Filename              string         `json:"filename"`
	SignedPDFURL          string         `json:"signed_pdf_url"`
	RawText               string         `json:"raw_text"`
	SnippetImageURL       string         `json:"snippet_image_url,omitempty"`
	CandidateNumber       string         `json:"candidate_number,omitempty"`
	ConfidenceScore       float64        `json:"confidence_score"`
	Confidence            ConfidenceTier `json:"confidence"`
	Outcome               Outcome        `json:"outcome"`
	Reason                string         `json:"reason"`
	SuggestedWorkOrderID  string         `json:"suggested_work_order_id,omitempty"`
	ManualWorkOrderNumber string         `json:"manual_work_order_number,omitempty"`
	Resolved              bool           `json:"resolved"`
	ResolvedAt            *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
}

// ReviewStats summarizes the review queue.
type ReviewStats struct {
	Unresolved       int        `json:"unresolved"`
	OldestUnresolved *time.Time `json:"oldest_unresolved,omitempty"`
	CreatedSince     int        `json:"created_since"`
	SignedSince      int        `json:"signed_since"`
}
