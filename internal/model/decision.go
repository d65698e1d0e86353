package model

// Outcome is the disposition of a processed document.
type Outcome string

const (
	OutcomeAutoMatch        Outcome = "AUTO_MATCH"
	OutcomeAutoCreateReview Outcome = "AUTO_CREATE_REVIEW"
	OutcomeManualReview     Outcome = "MANUAL_REVIEW"

	// OutcomeAlreadyProcessed is a pipeline terminal state, never a Decision.
	OutcomeAlreadyProcessed Outcome = "ALREADY_PROCESSED"
)

// NeedsReview reports whether the outcome queues a review item.
func (o Outcome) NeedsReview() bool {
	return o == OutcomeAutoCreateReview || o == OutcomeManualReview
}

// MatchKind describes how a candidate number matched a work order.
type MatchKind string

const (
	MatchExact MatchKind = "exact"
	MatchFuzzy MatchKind = "fuzzy"
	MatchNone  MatchKind = "none"
)

// Decision is the decision engine's verdict for one extraction.
type Decision struct {
	Outcome              Outcome        `json:"outcome"`
	MatchedWorkOrderID   string         `json:"matched_work_order_id,omitempty"`
	SuggestedWorkOrderID string         `json:"suggested_work_order_id,omitempty"`
	ReasonCode           string         `json:"reason_code"`
	Tier                 ConfidenceTier `json:"tier"`
	MatchKind            MatchKind      `json:"match_kind"`
}
