package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/dmitrijs2005/crmkeeper/internal/logging"
	"github.com/dmitrijs2005/crmkeeper/internal/server/models"
	"github.com/dmitrijs2005/crmkeeper/internal/server/storage"
)

// DownloadPathPrefix is where signed link tokens are redeemed.
const DownloadPathPrefix = "/private/download/"

// publicURLTTL bounds the presigned URLs handed out by the public listing.
const publicURLTTL = 15 * time.Minute

// ObjectStorage is the object store FileService works on.
type ObjectStorage interface {
	Put(ctx context.Context, v storage.Visibility, name string, body io.Reader, size int64, contentType string) error
	List(ctx context.Context, v storage.Visibility) ([]models.StoredObject, error)
	Head(ctx context.Context, v storage.Visibility, name string) (*models.StoredObject, error)
	Get(ctx context.Context, v storage.Visibility, name string) (io.ReadCloser, *models.StoredObject, error)
	PresignGet(ctx context.Context, v storage.Visibility, name string, ttl time.Duration) (string, error)
}

// LinkIssuer signs and verifies download links.
type LinkIssuer interface {
	Issue(objectName string) (string, time.Time, error)
	Verify(token string) (string, error)
}

// FileService uploads, lists and serves files of the two buckets.
type FileService struct {
	storage ObjectStorage
	links   LinkIssuer
	log     logging.Logger
	objName func(string) string
}

func NewFileService(st ObjectStorage, links LinkIssuer, log logging.Logger) *FileService {
	return &FileService{storage: st, links: links, log: log, objName: storage.SafeObjectName}
}

// Upload stores body under a sanitised, randomised name derived from
// filename and returns that name.
func (s *FileService) Upload(ctx context.Context, v storage.Visibility, filename string, body io.Reader, size int64, contentType string) (string, error) {
	const op = "services.files.Upload"

	name := s.objName(filename)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = guessContentType(name)
	}
	if err := s.storage.Put(ctx, v, name, body, size, contentType); err != nil {
		return "", s.internal(ctx, op, err)
	}
	logging.From(ctx, s.log).Info(ctx, "file uploaded", "bucket", v.String(), "name", name, "size", size)
	return name, nil
}

// List returns the objects of a bucket; public ones come with a presigned
// GET URL.
func (s *FileService) List(ctx context.Context, v storage.Visibility) ([]models.StoredObject, error) {
	const op = "services.files.List"

	objs, err := s.storage.List(ctx, v)
	if err != nil {
		return nil, s.internal(ctx, op, err)
	}
	if objs == nil {
		objs = []models.StoredObject{}
	}
	if v != storage.Public {
		return objs, nil
	}
	for i := range objs {
		url, err := s.storage.PresignGet(ctx, v, objs[i].Name, publicURLTTL)
		if err != nil {
			return nil, s.internal(ctx, op, err)
		}
		objs[i].URL = url
	}
	return objs, nil
}

// Link issues a download link for an existing private object.
func (s *FileService) Link(ctx context.Context, name string) (string, time.Time, error) {
	const op = "services.files.Link"

	if _, err := s.storage.Head(ctx, storage.Private, name); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", time.Time{}, fmt.Errorf("%s: %w", op, common.ErrorNotFound)
		}
		return "", time.Time{}, s.internal(ctx, op, err)
	}
	token, validTil, err := s.links.Issue(name)
	if err != nil {
		return "", time.Time{}, s.internal(ctx, op, err)
	}
	return DownloadPathPrefix + token, validTil, nil
}

// Download redeems a link token and opens the object it names. The
// returned object always has a content type.
func (s *FileService) Download(ctx context.Context, token string) (io.ReadCloser, *models.StoredObject, error) {
	const op = "services.files.Download"

	name, err := s.links.Verify(token)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, common.ErrLinkExpired)
	}
	body, obj, err := s.storage.Get(ctx, storage.Private, name)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, fmt.Errorf("%s: %w", op, common.ErrorNotFound)
		}
		return nil, nil, s.internal(ctx, op, err)
	}
	if obj.ContentType == "" || obj.ContentType == "application/octet-stream" {
		obj.ContentType = guessContentType(name)
	}
	return body, obj, nil
}

func (s *FileService) internal(ctx context.Context, op string, err error) error {
	logging.From(ctx, s.log).Error(ctx, "file operation failed", "op", op, "error", err)
	return fmt.Errorf("%s: %w", op, common.ErrorInternal)
}

func guessContentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
