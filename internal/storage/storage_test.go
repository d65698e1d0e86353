package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signmatch/internal/config"
	"github.com/sells-group/signmatch/internal/resilience"
)

var pdf = []byte("%PDF-1.7\n%signed work order\n")

func TestObjectName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		filename     string
		content      []byte
		wantSuffix   string
		wantWarnings int
	}{
		{"clean name", "wo-1234.pdf", pdf, "-wo-1234.pdf", 0},
		{"spaces replaced", "signed wo 1234.pdf", pdf, "-signed_wo_1234.pdf", 1},
		{"path stripped", `C:\scans\wo.pdf`, pdf, "-wo.pdf", 1},
		{"traversal stripped", "../../etc/passwd", pdf, "-passwd.pdf", 1},
		{"missing extension", "scan", pdf, "-scan.pdf", 1},
		{"empty name", "", pdf, "-document.pdf", 1},
		{"not a pdf", "wo.pdf", []byte("GIF89a"), "-wo.pdf", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			name, warnings := ObjectName(tt.content, tt.filename)
			assert.True(t, strings.HasSuffix(name, tt.wantSuffix), name)
			assert.Len(t, name, hashPrefixLen+len(tt.wantSuffix))
			assert.Len(t, warnings, tt.wantWarnings)
			assert.NotContains(t, name, "/")
		})
	}
}

func TestObjectName_DeterministicByContent(t *testing.T) {
	t.Parallel()

	a, _ := ObjectName(pdf, "wo.pdf")
	b, _ := ObjectName(pdf, "wo.pdf")
	c, _ := ObjectName([]byte(string(pdf)+"x"), "wo.pdf")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNewUploader(t *testing.T) {
	t.Parallel()

	u, err := NewUploader(context.Background(), config.StorageConfig{
		Driver: "local",
		Local:  config.LocalStorageConfig{Dir: t.TempDir()},
	})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, u)

	u, err = NewUploader(context.Background(), config.StorageConfig{
		Driver: "ftp",
		FTP:    config.FTPConfig{Addr: "ftp.example.com"},
	})
	require.NoError(t, err)
	assert.IsType(t, &FTPStorage{}, u)

	_, err = NewUploader(context.Background(), config.StorageConfig{Driver: "ftp"})
	assert.Error(t, err)

	_, err = NewUploader(context.Background(), config.StorageConfig{Driver: "gdrive"})
	assert.Error(t, err)

	_, err = NewUploader(context.Background(), config.StorageConfig{Driver: "s3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown driver "s3"`)
}

type flakyUploader struct {
	fails int
	err   error
	calls int
}

func (f *flakyUploader) Upload(_ context.Context, _ []byte, filename string) (Upload, error) {
	f.calls++
	if f.calls <= f.fails {
		return Upload{}, f.err
	}
	return Upload{URL: "mem://" + filename}, nil
}

func testGuard() *resilience.Guard {
	retry := resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     1,
	}
	return resilience.NewGuard(retry, resilience.DefaultCircuitBreakerConfig())
}

func TestGuarded_RetriesTransient(t *testing.T) {
	t.Parallel()

	inner := &flakyUploader{fails: 2, err: resilience.NewTransientError(errors.New("503"), 503)}
	up, err := Guarded(inner, testGuard()).Upload(context.Background(), pdf, "wo.pdf")
	require.NoError(t, err)
	assert.Equal(t, "mem://wo.pdf", up.URL)
	assert.Equal(t, 3, inner.calls)
}

func TestGuarded_PermanentNotRetried(t *testing.T) {
	t.Parallel()

	inner := &flakyUploader{fails: 5, err: errors.New("permission denied")}
	_, err := Guarded(inner, testGuard()).Upload(context.Background(), pdf, "wo.pdf")
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestGuarded_NilGuard(t *testing.T) {
	t.Parallel()

	inner := &flakyUploader{}
	assert.Same(t, Uploader(inner), Guarded(inner, nil))
}
