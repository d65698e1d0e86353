// Package importer loads open work orders from spreadsheet exports.
package importer

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/signmatch/internal/matching"
	"github.com/sells-group/signmatch/internal/model"
)

// Upserter writes work orders.
type Upserter interface {
	UpsertWorkOrders(ctx context.Context, orders []model.WorkOrder) (int64, error)
}

// Options configures an import.
type Options struct {
	WorkspaceID string
	// DefaultFmKey applies to rows without an fm key column or value.
	DefaultFmKey string
	// Sheet selects a workbook sheet by name; empty uses the first.
	Sheet string
	// DryRun parses and validates without writing.
	DryRun bool
}

// RowError describes a row that was skipped.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Summary reports what an import did.
type Summary struct {
	Rows     int        `json:"rows"`
	Parsed   int        `json:"parsed"`
	Upserted int64      `json:"upserted"`
	Skipped  []RowError `json:"skipped,omitempty"`
}

type column int

const (
	colNumber column = iota
	colFmKey
	colScheduled
	colStatus
	colCreated
)

// headerAliases maps normalized header text to the column it names.
var headerAliases = map[string]column{
	"wo":              colNumber,
	"wonumber":        colNumber,
	"wono":            colNumber,
	"workorder":       colNumber,
	"workordernumber": colNumber,
	"workorderno":     colNumber,
	"workorderid":     colNumber,
	"number":          colNumber,
	"fm":              colFmKey,
	"fmkey":           colFmKey,
	"fmcode":          colFmKey,
	"client":          colFmKey,
	"facilitymanager": colFmKey,
	"issuer":          colFmKey,
	"scheduled":       colScheduled,
	"scheduledat":     colScheduled,
	"scheduleddate":   colScheduled,
	"scheduledate":    colScheduled,
	"servicedate":     colScheduled,
	"date":            colScheduled,
	"status":          colStatus,
	"created":         colCreated,
	"createdat":       colCreated,
	"createddate":     colCreated,
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"1/2/06",
	"01-02-06",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// ImportFile reads path and upserts its work orders.
func ImportFile(ctx context.Context, up Upserter, path string, opts Options) (*Summary, error) {
	if opts.WorkspaceID == "" {
		return nil, eris.New("importer: workspace id is required")
	}
	rows, err := readRows(ctx, path, opts.Sheet)
	if err != nil {
		return nil, err
	}
	return Import(ctx, up, rows, opts)
}

// Import maps header-labelled rows to work orders and upserts them. Rows
// sharing a workspace, fm key and normalized number collapse to the last.
func Import(ctx context.Context, up Upserter, rows [][]string, opts Options) (*Summary, error) {
	if len(rows) == 0 {
		return nil, eris.New("importer: no header row")
	}
	cols, err := mapHeader(rows[0])
	if err != nil {
		return nil, err
	}

	summary := &Summary{Rows: len(rows) - 1}
	byKey := make(map[string]int)
	var orders []model.WorkOrder

	for i, row := range rows[1:] {
		line := i + 2
		if blank(row) {
			summary.Skipped = append(summary.Skipped, RowError{Row: line, Message: "blank row"})
			continue
		}
		wo, err := parseRow(row, cols, opts)
		if err != nil {
			summary.Skipped = append(summary.Skipped, RowError{Row: line, Message: err.Error()})
			continue
		}
		key := wo.FmKey + "\x00" + matching.Normalize(wo.WorkOrderNumber)
		if idx, ok := byKey[key]; ok {
			orders[idx] = wo
			continue
		}
		byKey[key] = len(orders)
		orders = append(orders, wo)
	}
	summary.Parsed = len(orders)

	log := zap.L().With(zap.String("workspace_id", opts.WorkspaceID))
	for _, s := range summary.Skipped {
		log.Debug("importer: skipped row", zap.Int("row", s.Row), zap.String("reason", s.Message))
	}

	if opts.DryRun || len(orders) == 0 {
		return summary, nil
	}

	n, err := up.UpsertWorkOrders(ctx, orders)
	if err != nil {
		return nil, eris.Wrap(err, "importer: upsert work orders")
	}
	summary.Upserted = n

	log.Info("importer: work orders imported",
		zap.Int("rows", summary.Rows),
		zap.Int("parsed", summary.Parsed),
		zap.Int64("upserted", n),
		zap.Int("skipped", len(summary.Skipped)),
	)
	return summary, nil
}

func mapHeader(header []string) (map[column]int, error) {
	cols := make(map[column]int)
	for i, h := range header {
		c, ok := headerAliases[matching.Normalize(h)]
		if !ok {
			continue
		}
		if _, dup := cols[c]; !dup {
			cols[c] = i
		}
	}
	if _, ok := cols[colNumber]; !ok {
		return nil, eris.Errorf("importer: no work order number column in header %q", header)
	}
	return cols, nil
}

func parseRow(row []string, cols map[column]int, opts Options) (model.WorkOrder, error) {
	get := func(c column) string {
		idx, ok := cols[c]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	number := strings.Join(strings.Fields(get(colNumber)), " ")
	if matching.Normalize(number) == "" {
		return model.WorkOrder{}, eris.New("missing work order number")
	}

	wo := model.WorkOrder{
		WorkspaceID:     opts.WorkspaceID,
		WorkOrderNumber: number,
		FmKey:           get(colFmKey),
		Status:          model.WorkOrderOpen,
	}
	if wo.FmKey == "" {
		wo.FmKey = opts.DefaultFmKey
	}

	if s := get(colStatus); s != "" {
		status, err := parseStatus(s)
		if err != nil {
			return model.WorkOrder{}, err
		}
		wo.Status = status
	}
	if s := get(colScheduled); s != "" {
		t, err := parseDate(s)
		if err != nil {
			return model.WorkOrder{}, eris.Wrap(err, "scheduled date")
		}
		wo.ScheduledAt = &t
	}
	if s := get(colCreated); s != "" {
		t, err := parseDate(s)
		if err != nil {
			return model.WorkOrder{}, eris.Wrap(err, "created date")
		}
		wo.CreatedAt = t
	}
	return wo, nil
}

func parseStatus(s string) (model.WorkOrderStatus, error) {
	switch strings.ToLower(s) {
	case "open", "scheduled", "pending", "in progress":
		return model.WorkOrderOpen, nil
	case "signed", "complete", "completed":
		return model.WorkOrderSigned, nil
	case "archived", "closed", "cancelled", "canceled":
		return model.WorkOrderArchived, nil
	default:
		return "", eris.Errorf("unknown status %q", s)
	}
}

// parseDate accepts common spreadsheet layouts and Excel serial dates.
func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		return xlsx.TimeFromExcelTime(serial, false).UTC(), nil
	}
	return time.Time{}, eris.Errorf("unrecognized date %q", s)
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
