package storage

import (
	"context"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// LocalStorage writes signed PDFs to a directory on disk.
type LocalStorage struct {
	dir     string
	baseURL string
}

// NewLocalStorage creates dir if needed. When baseURL is empty, uploads
// are addressed with file:// URLs.
func NewLocalStorage(dir, baseURL string) (*LocalStorage, error) {
	if dir == "" {
		return nil, eris.New("storage: local dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: resolve dir %s", dir)
	}
	if err := os.MkdirAll(abs, dirPermissions); err != nil {
		return nil, eris.Wrapf(err, "storage: create dir %s", abs)
	}
	return &LocalStorage{dir: abs, baseURL: baseURL}, nil
}

// Upload writes content atomically under its object name.
func (l *LocalStorage) Upload(ctx context.Context, content []byte, filename string) (Upload, error) {
	if err := ctx.Err(); err != nil {
		return Upload{}, eris.Wrap(err, "storage: local upload canceled")
	}

	name, warnings := ObjectName(content, filename)
	dst := filepath.Join(l.dir, name)
	if err := atomicWriteFile(dst, content); err != nil {
		return Upload{}, err
	}

	zap.L().Debug("storage: wrote local file", zap.String("path", dst), zap.Int("bytes", len(content)))

	if l.baseURL != "" {
		return Upload{URL: joinURL(l.baseURL, name), Warnings: warnings}, nil
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(dst)}
	return Upload{URL: u.String(), Warnings: warnings}, nil
}

// atomicWriteFile writes to a temp file in the target directory and renames
// it into place, so readers never see a partial file.
func atomicWriteFile(dst string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*.tmp")
	if err != nil {
		return eris.Wrap(err, "storage: create temp file")
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "storage: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "storage: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "storage: close temp file")
	}
	if err := os.Chmod(tmpName, filePermissions); err != nil {
		return eris.Wrap(err, "storage: chmod temp file")
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return eris.Wrapf(err, "storage: rename into %s", dst)
	}
	success = true
	return nil
}
