package resilience

import (
	"time"
)

// Error types recorded on dead-letter entries.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// DLQEntry records a document whose pipeline failed at a collaborator.
// The document bytes are not kept; message-sourced documents keep their
// queue label and can be replayed from the mailbox.
type DLQEntry struct {
	ID           string    `json:"id"`
	WorkspaceID  string    `json:"workspace_id"`
	Filename     string    `json:"filename"`
	FileHash     string    `json:"file_hash"`
	FmKey        string    `json:"fm_key,omitempty"`
	MessageID    string    `json:"message_id,omitempty"`
	Stage        string    `json:"stage"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// DLQFilter specifies criteria for listing the dead letter queue.
type DLQFilter struct {
	WorkspaceID string `json:"workspace_id,omitempty"`
	ErrorType   string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	Limit       int    `json:"limit,omitempty"`
}

// Replayable reports whether replaying the entry could succeed: the failure
// was transient and the retry budget is not spent.
func (e *DLQEntry) Replayable() bool {
	return e.ErrorType == ErrorTypeTransient && e.RetryCount < e.MaxRetries
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}
