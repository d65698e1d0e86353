package resilience

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("ocr: no text layer"), false},
		{"explicit", NewTransientError(errors.New("overloaded"), 529), true},
		{"explicit behind eris", eris.Wrap(NewTransientError(errors.New("rate limited"), 429), "ocr: extract"), true},
		{"explicit behind fmt", fmt.Errorf("upload: %w", NewTransientError(errors.New("busy"), 0)), true},
		{"drive 503", fmt.Errorf("drive create: %w", &googleapi.Error{Code: 503}), true},
		{"gmail 404", fmt.Errorf("gmail modify: %w", &googleapi.Error{Code: 404, Message: "label not found"}), false},
		{"ftp 421", fmt.Errorf("ftp stor: %w", &textproto.Error{Code: 421, Msg: "service not available"}), true},
		{"ftp 553", fmt.Errorf("ftp stor: %w", &textproto.Error{Code: 553, Msg: "file name not allowed"}), false},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"conn reset", fmt.Errorf("read tcp: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"broken pipe errno", fmt.Errorf("write: %w", syscall.EPIPE), true},
		{"flattened tls timeout", errors.New("post https://ocr.internal: net/http: TLS handshake timeout"), true},
		{"flattened eof", fmt.Errorf("ocr: read response: %v", io.ErrUnexpectedEOF), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransient_TypedAnswerWinsOverText(t *testing.T) {
	t.Parallel()
	// A Drive 400 whose message mentions a timeout is still a bad request.
	err := &googleapi.Error{Code: 400, Message: "invalid i/o timeout value"}
	assert.False(t, IsTransient(err))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{408, 425, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientHTTPStatus(code), "HTTP %d", code)
	}
	for _, code := range []int{0, 200, 400, 401, 403, 404, 409, 413, 422, 501} {
		assert.False(t, IsTransientHTTPStatus(code), "HTTP %d", code)
	}
}

func TestTransientError(t *testing.T) {
	t.Parallel()

	inner := errors.New("service unavailable")
	te := NewTransientError(inner, 503)

	assert.ErrorIs(t, te, inner)
	assert.Equal(t, "service unavailable", te.Error())
	assert.Equal(t, 503, te.StatusCode)
}
