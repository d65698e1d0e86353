package decision

import (
	"github.com/sells-group/signmatch/internal/matching"
	"github.com/sells-group/signmatch/internal/model"
)

// Rule is one cell of the disposition policy.
type Rule struct {
	Outcome model.Outcome
	Reason  string
}

// Reason codes attached to every decision.
const (
	ReasonHighExact     = "high-confidence-exact"
	ReasonHighFuzzy     = "high-confidence-fuzzy"
	ReasonHighNoMatch   = "high-confidence-no-match"
	ReasonMediumExact   = "medium-confidence-exact"
	ReasonMediumFuzzy   = "fuzzy-medium-confidence"
	ReasonMediumNoMatch = "medium-confidence-no-match"
	ReasonLowExact      = "low-confidence"
	ReasonLowFuzzy      = "low-confidence-fuzzy"
	ReasonLowNoMatch    = "low-confidence-no-match"
)

type policyKey struct {
	tier model.ConfidenceTier
	kind model.MatchKind
}

// policy is the only place automatic-versus-manual handling is decided.
var policy = map[policyKey]Rule{
	{model.TierHigh, model.MatchExact}: {model.OutcomeAutoMatch, ReasonHighExact},
	{model.TierHigh, model.MatchFuzzy}: {model.OutcomeAutoMatch, ReasonHighFuzzy},
	{model.TierHigh, model.MatchNone}:  {model.OutcomeAutoCreateReview, ReasonHighNoMatch},

	{model.TierMedium, model.MatchExact}: {model.OutcomeAutoMatch, ReasonMediumExact},
	{model.TierMedium, model.MatchFuzzy}: {model.OutcomeAutoCreateReview, ReasonMediumFuzzy},
	{model.TierMedium, model.MatchNone}:  {model.OutcomeAutoCreateReview, ReasonMediumNoMatch},

	{model.TierLow, model.MatchExact}: {model.OutcomeAutoCreateReview, ReasonLowExact},
	{model.TierLow, model.MatchFuzzy}: {model.OutcomeManualReview, ReasonLowFuzzy},
	{model.TierLow, model.MatchNone}:  {model.OutcomeManualReview, ReasonLowNoMatch},
}

// Policy returns the rule for a tier and match kind. Unknown combinations
// fall back to manual review.
func Policy(tier model.ConfidenceTier, kind model.MatchKind) Rule {
	if r, ok := policy[policyKey{tier, kind}]; ok {
		return r
	}
	return Rule{Outcome: model.OutcomeManualReview, Reason: ReasonLowNoMatch}
}

// Decide applies the policy to an extraction and its (possibly nil) match.
// An extraction without a candidate number is always treated as unmatched.
func Decide(ex model.Extraction, m *matching.Match, th Thresholds) model.Decision {
	if ex.CandidateNumber == nil {
		m = nil
	}
	tier := Tier(ex.Confidence, th)
	kind := m.Kind()
	rule := Policy(tier, kind)

	d := model.Decision{
		Outcome:    rule.Outcome,
		ReasonCode: rule.Reason,
		Tier:       tier,
		MatchKind:  kind,
	}
	if m != nil {
		if rule.Outcome == model.OutcomeAutoMatch {
			d.MatchedWorkOrderID = m.WorkOrder.ID
		} else {
			d.SuggestedWorkOrderID = m.WorkOrder.ID
		}
	}
	return d
}
