package pipeline

import (
	"fmt"
)

// ValidationError rejects a document before any I/O.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pipeline: invalid %s: %s", e.Field, e.Message)
}

// CollaboratorError reports a failed external call. The pipeline does not
// retry; the document is recorded in the dead letter queue. OrphanedURL is
// set when the upload succeeded but the record write did not.
type CollaboratorError struct {
	Stage       string
	OrphanedURL string
	Err         error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("pipeline: %s failed: %v", e.Stage, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
