package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// Document is one incoming signed PDF plus its routing metadata.
type Document struct {
	WorkspaceID string
	Filename    string
	Content     []byte
	// FmKey scopes matching to one issuer; empty means all open work orders.
	FmKey  string
	Crop   *CropGeometry
	Source *MessageSource
}

// MessageSource identifies the inbound message a document arrived on.
type MessageSource struct {
	MessageID        string `json:"message_id"`
	QueueLabelID     string `json:"queue_label_id"`
	ProcessedLabelID string `json:"processed_label_id"`
}

// FmKeyRef returns a pointer to the fm key, or nil when unscoped.
func (d Document) FmKeyRef() *string {
	if d.FmKey == "" {
		return nil
	}
	k := d.FmKey
	return &k
}

// HashContent returns the hex SHA-256 fingerprint used as the dedup key.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// DedupSource names the store a file hash was found in.
type DedupSource string

const (
	FoundInWorkOrder   DedupSource = "WORK_ORDER"
	FoundInReviewQueue DedupSource = "REVIEW_QUEUE"
)
