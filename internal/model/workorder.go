package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// ErrWorkOrderArchived is returned when signing a work order that was
// archived after it was listed as open.
var ErrWorkOrderArchived = eris.New("work order is archived")

// WorkOrderStatus is the lifecycle state of a work order.
type WorkOrderStatus string

const (
	WorkOrderOpen     WorkOrderStatus = "open"
	WorkOrderSigned   WorkOrderStatus = "signed"
	WorkOrderArchived WorkOrderStatus = "archived"
)

// WorkOrder is a job record awaiting its signed counterpart.
type WorkOrder struct {
	ID              string          `json:"id"`
	WorkspaceID     string          `json:"workspace_id"`
	WorkOrderNumber string          `json:"work_order_number"`
	FmKey           string          `json:"fm_key"`
	Status          WorkOrderStatus `json:"status"`
	SignedPDFURL    string          `json:"signed_pdf_url,omitempty"`
	SignedFileHash  string          `json:"signed_file_hash,omitempty"`
	SignedAt        *time.Time      `json:"signed_at,omitempty"`
	ScheduledAt     *time.Time      `json:"scheduled_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Recency is the timestamp used to prefer one work order over another:
// the scheduled date when known, otherwise the creation time.
func (w WorkOrder) Recency() time.Time {
	if w.ScheduledAt != nil {
		return *w.ScheduledAt
	}
	return w.CreatedAt
}

// SignedUpdate carries the fields written when a work order is signed.
type SignedUpdate struct {
	URL      string
	FileHash string
	SignedAt time.Time
}
