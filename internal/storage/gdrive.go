package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const driveFileFields = "id, name, webViewLink"

// driveFiles is the slice of the Drive files API used for uploads.
type driveFiles interface {
	FindByName(ctx context.Context, folderID, name string) (*drive.File, error)
	Create(ctx context.Context, folderID, name string, content []byte) (*drive.File, error)
}

// DriveStorage uploads signed PDFs into a Google Drive folder.
type DriveStorage struct {
	folderID string
	files    driveFiles
}

// NewDriveStorage authenticates with a service-account credentials file.
func NewDriveStorage(ctx context.Context, credentialsFile, folderID string) (*DriveStorage, error) {
	if folderID == "" {
		return nil, eris.New("storage: drive folder id is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "storage: create drive service")
	}
	return &DriveStorage{folderID: folderID, files: &driveAPI{svc: svc}}, nil
}

// Upload returns the existing file when the folder already holds one with
// the same object name, otherwise it creates one.
func (d *DriveStorage) Upload(ctx context.Context, content []byte, filename string) (Upload, error) {
	name, warnings := ObjectName(content, filename)

	existing, err := d.files.FindByName(ctx, d.folderID, name)
	if err != nil {
		return Upload{}, eris.Wrapf(err, "storage: drive lookup %s", name)
	}
	if existing != nil {
		zap.L().Debug("storage: drive file already present", zap.String("name", name), zap.String("file_id", existing.Id))
		return Upload{URL: driveLink(existing), Warnings: warnings}, nil
	}

	created, err := d.files.Create(ctx, d.folderID, name, content)
	if err != nil {
		return Upload{}, eris.Wrapf(err, "storage: drive create %s", name)
	}
	zap.L().Debug("storage: uploaded to drive",
		zap.String("name", name),
		zap.String("file_id", created.Id),
		zap.Int("bytes", len(content)),
	)
	return Upload{URL: driveLink(created), Warnings: warnings}, nil
}

func driveLink(f *drive.File) string {
	if f.WebViewLink != "" {
		return f.WebViewLink
	}
	return "https://drive.google.com/file/d/" + f.Id + "/view"
}

type driveAPI struct {
	svc *drive.Service
}

func (a *driveAPI) FindByName(ctx context.Context, folderID, name string) (*drive.File, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		escapeDriveQuery(name), escapeDriveQuery(folderID))
	list, err := a.svc.Files.List().
		Q(q).
		Fields("files(" + driveFileFields + ")").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	if len(list.Files) == 0 {
		return nil, nil
	}
	return list.Files[0], nil
}

func (a *driveAPI) Create(ctx context.Context, folderID, name string, content []byte) (*drive.File, error) {
	meta := &drive.File{Name: name, Parents: []string{folderID}, MimeType: "application/pdf"}
	return a.svc.Files.Create(meta).
		Media(bytes.NewReader(content)).
		Fields(driveFileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
}

// escapeDriveQuery escapes a literal for the Drive search syntax.
func escapeDriveQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
