package resilience

import (
	"errors"
	"net"
	"net/textproto"
	"strings"
	"syscall"

	"google.golang.org/api/googleapi"
)

// TransientError marks a collaborator failure that may succeed on retry.
// StatusCode is the HTTP status when one was involved, else 0.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError marks err as transient.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// classifier reports (transient, true) when it recognizes err, or
// (_, false) to defer to the next one.
type classifier func(err error) (transient, ok bool)

// Order matters: a typed answer from a collaborator beats the generic
// network checks below it.
var classifiers = []classifier{
	func(err error) (bool, bool) {
		var te *TransientError
		return true, errors.As(err, &te)
	},
	// Drive and Gmail.
	func(err error) (bool, bool) {
		var ge *googleapi.Error
		if !errors.As(err, &ge) {
			return false, false
		}
		return IsTransientHTTPStatus(ge.Code), true
	},
	// FTP 4xx replies are transient negative completions (421, 425, 450).
	func(err error) (bool, bool) {
		var te *textproto.Error
		if !errors.As(err, &te) {
			return false, false
		}
		return te.Code >= 400 && te.Code < 500, true
	},
	func(err error) (bool, bool) {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return true, true
		}
		return false, false
	},
	func(err error) (bool, bool) {
		for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED, syscall.EPIPE} {
			if errors.Is(err, errno) {
				return true, true
			}
		}
		return false, false
	},
}

// Substrings of flattened transport errors whose type was lost to
// string wrapping somewhere below us.
var transientText = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
}

// IsTransient reports whether err is worth retrying. Anything unrecognized
// is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	for _, c := range classifiers {
		if transient, ok := c(err); ok {
			return transient
		}
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientText {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status is worth retrying.
// 529 is the Anthropic API's overloaded status.
func IsTransientHTTPStatus(code int) bool {
	switch code {
	case 408, 425, 429, 500, 502, 503, 504, 529:
		return true
	}
	return false
}
