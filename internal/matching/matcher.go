package matching

import (
	"strings"

	"github.com/sells-group/signmatch/internal/model"
)

// DefaultMinLengthRatio guards substring matches: the shorter normalized
// number must be at least this fraction of the longer one.
const DefaultMinLengthRatio = 0.6

// Options tunes the matcher.
type Options struct {
	MinLengthRatio float64 `yaml:"min_length_ratio" mapstructure:"min_length_ratio"`
}

// DefaultOptions returns the production matcher settings.
func DefaultOptions() Options {
	return Options{MinLengthRatio: DefaultMinLengthRatio}
}

func (o Options) minRatio() float64 {
	if o.MinLengthRatio <= 0 || o.MinLengthRatio > 1 {
		return DefaultMinLengthRatio
	}
	return o.MinLengthRatio
}

// Match is the work order selected for a candidate number.
type Match struct {
	WorkOrder   model.WorkOrder `json:"work_order"`
	Exact       bool            `json:"exact"`
	LengthRatio float64         `json:"length_ratio"`
}

// Kind classifies a possibly-nil match.
func (m *Match) Kind() model.MatchKind {
	switch {
	case m == nil:
		return model.MatchNone
	case m.Exact:
		return model.MatchExact
	default:
		return model.MatchFuzzy
	}
}

// FindBestMatch scores candidate against the open work orders and returns
// the best match, or nil.
//
// When fmKey is non-nil only work orders issued under that key are
// considered. Exact normalized equality beats a substring match; within a
// tier the most recent work order wins and remaining ties go to the first
// one in open's order, so callers must pass a stable ordering.
func FindBestMatch(candidate string, fmKey *string, open []model.WorkOrder, opts Options) *Match {
	needle := Normalize(candidate)
	if needle == "" {
		return nil
	}
	minRatio := opts.minRatio()

	var exact, fuzzy *Match
	for i := range open {
		wo := open[i]
		if wo.Status != "" && wo.Status != model.WorkOrderOpen {
			continue
		}
		if fmKey != nil && wo.FmKey != *fmKey {
			continue
		}

		hay := Normalize(wo.WorkOrderNumber)
		if hay == "" {
			continue
		}

		if hay == needle {
			exact = prefer(exact, Match{WorkOrder: wo, Exact: true, LengthRatio: 1})
			continue
		}
		if exact != nil {
			continue
		}
		if ratio, ok := substringRatio(needle, hay); ok && ratio >= minRatio {
			fuzzy = prefer(fuzzy, Match{WorkOrder: wo, LengthRatio: ratio})
		}
	}

	if exact != nil {
		return exact
	}
	return fuzzy
}

// prefer keeps cur unless cand is strictly more recent.
func prefer(cur *Match, cand Match) *Match {
	if cur == nil || cand.WorkOrder.Recency().After(cur.WorkOrder.Recency()) {
		return &cand
	}
	return cur
}

// substringRatio reports whether one string contains the other and, if so,
// the length of the shorter relative to the longer.
func substringRatio(a, b string) (float64, bool) {
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if !strings.Contains(long, short) {
		return 0, false
	}
	return float64(len(short)) / float64(len(long)), true
}
