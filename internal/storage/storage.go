// Package storage uploads signed PDFs to durable storage.
package storage

import (
	"bytes"
	"context"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signmatch/internal/config"
	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/internal/resilience"
)

// Upload is the result of a durable upload. Warnings describe partial
// failures that left the file retrievable, such as a share permission that
// could not be set.
type Upload struct {
	URL      string   `json:"url"`
	Warnings []string `json:"warnings,omitempty"`
}

// Uploader stores a file and returns a URL it can be retrieved from.
type Uploader interface {
	Upload(ctx context.Context, content []byte, filename string) (Upload, error)
}

// NewUploader creates the Uploader selected by cfg.Driver.
func NewUploader(ctx context.Context, cfg config.StorageConfig) (Uploader, error) {
	switch cfg.Driver {
	case "local", "":
		return NewLocalStorage(cfg.Local.Dir, cfg.Local.BaseURL)
	case "ftp":
		return NewFTPStorage(FTPOptions{
			Addr:     cfg.FTP.Addr,
			Username: cfg.FTP.Username,
			Password: cfg.FTP.Password,
			Dir:      cfg.FTP.Dir,
			BaseURL:  cfg.FTP.BaseURL,
			Timeout:  time.Duration(cfg.FTP.TimeoutSecs) * time.Second,
		})
	case "gdrive":
		return NewDriveStorage(ctx, cfg.Drive.CredentialsFile, cfg.Drive.FolderID)
	default:
		return nil, eris.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

type guarded struct {
	next  Uploader
	guard *resilience.Guard
}

// Guarded routes next through the storage circuit breaker, retrying
// transient failures. Uploads are keyed by content, so a retried upload
// overwrites rather than duplicates. A nil guard returns next unchanged.
func Guarded(next Uploader, g *resilience.Guard) Uploader {
	if g == nil {
		return next
	}
	return &guarded{next: next, guard: g}
}

func (g *guarded) Upload(ctx context.Context, content []byte, filename string) (Upload, error) {
	return resilience.GuardVal(ctx, g.guard, resilience.ServiceStorage, "upload", func(ctx context.Context) (Upload, error) {
		return g.next.Upload(ctx, content, filename)
	})
}

// hashPrefixLen is the number of hex digits of the content hash prefixed to
// stored object names.
const hashPrefixLen = 16

// ObjectName derives the stored name for a document: a content-hash prefix
// plus the sanitized original filename. The same bytes always map to the
// same name. Any warnings describe how the filename was changed or why the
// content looks suspect.
func ObjectName(content []byte, filename string) (string, []string) {
	var warnings []string

	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	clean := strings.Map(func(r rune) rune {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	clean = strings.Trim(clean, "._")
	if clean == "" {
		clean = "document.pdf"
	}
	if !strings.EqualFold(path.Ext(clean), ".pdf") {
		clean += ".pdf"
	}
	if clean != filename {
		warnings = append(warnings, "filename sanitized to "+clean)
	}

	if !bytes.HasPrefix(content, []byte("%PDF-")) {
		warnings = append(warnings, "content does not start with a PDF header")
	}

	return model.HashContent(content)[:hashPrefixLen] + "-" + clean, warnings
}

// joinURL appends name to base with exactly one slash between them.
func joinURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + name
}
