package matching

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/signmatch/internal/model"
)

// CorpusCase is one labelled matcher example. An empty WantID means the
// candidate must not match anything.
type CorpusCase struct {
	Name       string            `yaml:"name"`
	Candidate  string            `yaml:"candidate"`
	FmKey      *string           `yaml:"fm_key"`
	WorkOrders []CorpusWorkOrder `yaml:"work_orders"`
	WantID     string            `yaml:"want_id"`
	WantExact  bool              `yaml:"want_exact"`
}

// CorpusWorkOrder is the slice of a work order the corpus needs.
type CorpusWorkOrder struct {
	ID          string     `yaml:"id"`
	Number      string     `yaml:"number"`
	FmKey       string     `yaml:"fm_key"`
	CreatedAt   time.Time  `yaml:"created_at"`
	ScheduledAt *time.Time `yaml:"scheduled_at"`
}

func (c CorpusCase) openWorkOrders() []model.WorkOrder {
	out := make([]model.WorkOrder, len(c.WorkOrders))
	for i, w := range c.WorkOrders {
		out[i] = model.WorkOrder{
			ID:              w.ID,
			WorkOrderNumber: w.Number,
			FmKey:           w.FmKey,
			Status:          model.WorkOrderOpen,
			CreatedAt:       w.CreatedAt,
			ScheduledAt:     w.ScheduledAt,
		}
	}
	return out
}

// LoadCorpus reads a YAML list of CorpusCase from path.
func LoadCorpus(path string) ([]CorpusCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "matching: read corpus")
	}

	var cases []CorpusCase
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, eris.Wrap(err, "matching: unmarshal corpus")
	}
	return cases, nil
}

// Calibration is the matcher's score over a corpus at one length ratio.
type Calibration struct {
	MinLengthRatio float64  `json:"min_length_ratio"`
	Correct        int      `json:"correct"`
	Total          int      `json:"total"`
	Failures       []string `json:"failures,omitempty"`
}

// Accuracy is the fraction of cases matched as labelled.
func (c Calibration) Accuracy() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Correct) / float64(c.Total)
}

// Evaluate runs every case through FindBestMatch with opts.
func Evaluate(cases []CorpusCase, opts Options) Calibration {
	cal := Calibration{MinLengthRatio: opts.minRatio(), Total: len(cases)}
	for _, c := range cases {
		m := FindBestMatch(c.Candidate, c.FmKey, c.openWorkOrders(), opts)

		gotID := ""
		if m != nil {
			gotID = m.WorkOrder.ID
		}
		if gotID == c.WantID && (m == nil || m.Exact == c.WantExact) {
			cal.Correct++
			continue
		}
		cal.Failures = append(cal.Failures, fmt.Sprintf("%s: want %q (exact=%t), got %q (%s)",
			c.Name, c.WantID, c.WantExact, gotID, m.Kind()))
	}
	return cal
}

// Sweep evaluates the corpus at each ratio.
func Sweep(cases []CorpusCase, ratios []float64) []Calibration {
	out := make([]Calibration, 0, len(ratios))
	for _, r := range ratios {
		out = append(out, Evaluate(cases, Options{MinLengthRatio: r}))
	}
	return out
}
