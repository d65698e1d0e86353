package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures FTPStorage.
type FTPOptions struct {
	Addr     string
	Username string
	Password string
	Dir      string
	// BaseURL is the public prefix files are served from. When empty,
	// uploads are addressed with ftp:// URLs.
	BaseURL string
	Timeout time.Duration
}

// ftpConn is the subset of *ftp.ServerConn used for uploads.
type ftpConn interface {
	Stor(path string, r io.Reader) error
	Rename(from, to string) error
	Delete(path string) error
	MakeDir(path string) error
	Quit() error
}

type ftpDialer func(ctx context.Context, opts FTPOptions) (ftpConn, error)

// FTPStorage uploads signed PDFs to an FTP server. Each upload opens its
// own connection.
type FTPStorage struct {
	opts FTPOptions
	dial ftpDialer
}

// NewFTPStorage validates opts and returns an FTPStorage.
func NewFTPStorage(opts FTPOptions) (*FTPStorage, error) {
	if opts.Addr == "" {
		return nil, eris.New("storage: ftp addr is required")
	}
	if _, _, err := net.SplitHostPort(opts.Addr); err != nil {
		opts.Addr = net.JoinHostPort(opts.Addr, "21")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPStorage{opts: opts, dial: dialFTP}, nil
}

func dialFTP(ctx context.Context, opts FTPOptions) (ftpConn, error) {
	conn, err := ftp.Dial(opts.Addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(opts.Timeout),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: ftp dial %s", opts.Addr)
	}
	if opts.Username != "" {
		if err := conn.Login(opts.Username, opts.Password); err != nil {
			_ = conn.Quit()
			return nil, eris.Wrap(err, "storage: ftp login")
		}
	}
	return conn, nil
}

// Upload stores content under its object name. The bytes go to a temp
// name first and are renamed into place once fully written.
func (f *FTPStorage) Upload(ctx context.Context, content []byte, filename string) (Upload, error) {
	name, warnings := ObjectName(content, filename)
	remote := path.Join(f.opts.Dir, name)

	conn, err := f.dial(ctx, f.opts)
	if err != nil {
		return Upload{}, err
	}
	defer func() {
		if qerr := conn.Quit(); qerr != nil {
			zap.L().Debug("storage: ftp quit failed", zap.Error(qerr))
		}
	}()

	if f.opts.Dir != "" {
		if err := ensureFTPDir(conn, f.opts.Dir); err != nil {
			return Upload{}, err
		}
	}

	tmp := path.Join(f.opts.Dir, fmt.Sprintf(".upload-%d-%s", time.Now().UnixNano(), name))
	if err := conn.Stor(tmp, bytes.NewReader(content)); err != nil {
		_ = conn.Delete(tmp)
		return Upload{}, eris.Wrapf(err, "storage: ftp store %s", tmp)
	}
	if err := conn.Rename(tmp, remote); err != nil {
		_ = conn.Delete(tmp)
		return Upload{}, eris.Wrapf(err, "storage: ftp rename into %s", remote)
	}

	zap.L().Debug("storage: uploaded via ftp",
		zap.String("addr", f.opts.Addr),
		zap.String("path", remote),
		zap.Int("bytes", len(content)),
	)

	if f.opts.BaseURL != "" {
		return Upload{URL: joinURL(f.opts.BaseURL, name), Warnings: warnings}, nil
	}
	return Upload{URL: "ftp://" + f.opts.Addr + "/" + strings.TrimLeft(remote, "/"), Warnings: warnings}, nil
}

// ensureFTPDir creates dir, treating "already exists" replies as success.
func ensureFTPDir(conn ftpConn, dir string) error {
	err := conn.MakeDir(dir)
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "exists") || strings.Contains(msg, "550") {
		return nil
	}
	return eris.Wrapf(err, "storage: ftp mkdir %s", dir)
}
