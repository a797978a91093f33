package uploads

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/quickbuyer/quickbuyer-backend/pkg/auth"
	"github.com/quickbuyer/quickbuyer-backend/pkg/config"
	"github.com/quickbuyer/quickbuyer-backend/pkg/db/models"
	pkgerrors "github.com/quickbuyer/quickbuyer-backend/pkg/errors"
	"github.com/quickbuyer/quickbuyer-backend/pkg/ipfs"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
	"github.com/quickbuyer/quickbuyer-backend/pkg/metrics"
)

const (
	kindThumbnail = "thumbnail"
	kindIPFS      = "ipfs"

	megabyte = int64(1 << 20)

	defaultMaxThumbnailMB = 5
	defaultMaxFileMB      = 20
	defaultMaxBatchMB     = 500
)

// File is one multipart part handed over by the controller.
type File struct {
	Name   string
	Size   int64
	Reader io.Reader
}

type ThumbnailResult struct {
	URL string `json:"url"`
}

// Service relays user uploads to object storage or the pinning service.
type Service interface {
	UploadThumbnail(ctx context.Context, caller *auth.Identity, file File) (*ThumbnailResult, error)
	PinFiles(ctx context.Context, caller *auth.Identity, files []File) (*ipfs.Result, error)
	Limits() Limits
}

// Limits are the byte ceilings enforced per upload.
type Limits struct {
	Thumbnail int64
	IPFSFile  int64
	IPFSBatch int64
}

type objectStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

type pinner interface {
	Pin(ctx context.Context, files []ipfs.File) (*ipfs.Result, error)
}

type auditWriter interface {
	Create(ctx context.Context, rows []models.IPFSUpload) error
}

type service struct {
	store   objectStore
	pinner  pinner
	audit   auditWriter
	limits  Limits
	metrics *metrics.Marketplace
	logg    *logger.Logger
}

func NewService(store objectStore, pin pinner, audit auditWriter, storageCfg config.StorageConfig, ipfsCfg config.IPFSConfig, m *metrics.Marketplace, logg *logger.Logger) (Service, error) {
	if store == nil {
		return nil, fmt.Errorf("object store required")
	}
	if pin == nil {
		return nil, fmt.Errorf("ipfs client required")
	}
	if audit == nil {
		return nil, fmt.Errorf("ipfs upload repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		store:  store,
		pinner: pin,
		audit:  audit,
		limits: Limits{
			Thumbnail: megabytes(storageCfg.MaxThumbnailMB, defaultMaxThumbnailMB),
			IPFSFile:  megabytes(ipfsCfg.MaxFileMB, defaultMaxFileMB),
			IPFSBatch: megabytes(ipfsCfg.MaxBatchMB, defaultMaxBatchMB),
		},
		metrics: m,
		logg:    logg,
	}, nil
}

func megabytes(value, fallback int) int64 {
	if value <= 0 {
		value = fallback
	}
	return int64(value) * megabyte
}

func (s *service) Limits() Limits { return s.limits }

func (s *service) UploadThumbnail(ctx context.Context, caller *auth.Identity, file File) (*ThumbnailResult, error) {
	if caller == nil || caller.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if file.Reader == nil {
		return nil, s.reject(kindThumbnail, pkgerrors.New(pkgerrors.CodeValidation, "file is required"))
	}
	if file.Size > s.limits.Thumbnail {
		return nil, s.reject(kindThumbnail, tooLarge("thumbnail", s.limits.Thumbnail))
	}

	mtype, body := sniff(file.Reader)
	contentType, ext, ok := thumbnailType(mtype)
	if !ok {
		return nil, s.reject(kindThumbnail, pkgerrors.New(pkgerrors.CodeValidation, "thumbnail must be a JPEG, PNG, WebP or GIF image").
			WithDetails(map[string]string{"detected": mtype.String()}))
	}

	key := path.Join("thumbnails", caller.UserID.String(), uuid.NewString()+ext)
	logCtx := s.logg.WithFields(ctx, map[string]any{"object_key": key, "content_type": contentType, "size": file.Size})
	url, err := s.store.Put(ctx, key, contentType, io.LimitReader(body, s.limits.Thumbnail), file.Size)
	if err != nil {
		s.metrics.Upload(kindThumbnail, metrics.OutcomeFailed, 0)
		s.logg.Error(logCtx, "upload.thumbnail.failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store thumbnail")
	}
	s.metrics.Upload(kindThumbnail, metrics.OutcomeSuccess, file.Size)
	s.logg.Info(logCtx, "upload.thumbnail.stored")
	return &ThumbnailResult{URL: url}, nil
}

func (s *service) PinFiles(ctx context.Context, caller *auth.Identity, files []File) (*ipfs.Result, error) {
	if caller == nil || caller.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if len(files) == 0 {
		return nil, s.reject(kindIPFS, pkgerrors.New(pkgerrors.CodeValidation, "at least one file is required"))
	}

	var total int64
	parts := make([]ipfs.File, 0, len(files))
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		name, ok := relativeName(f.Name)
		if f.Reader == nil || !ok {
			return nil, s.reject(kindIPFS, pkgerrors.New(pkgerrors.CodeValidation, "every file needs a relative name and content").
				WithDetails(map[string]string{"name": f.Name}))
		}
		if _, dup := seen[name]; dup {
			return nil, s.reject(kindIPFS, pkgerrors.New(pkgerrors.CodeValidation, "duplicate file in upload").
				WithDetails(map[string]string{"name": name}))
		}
		seen[name] = struct{}{}
		if f.Size > s.limits.IPFSFile {
			return nil, s.reject(kindIPFS, tooLarge(name, s.limits.IPFSFile))
		}
		total += f.Size
		if total > s.limits.IPFSBatch {
			return nil, s.reject(kindIPFS, tooLarge("upload batch", s.limits.IPFSBatch))
		}
		mtype, body := sniff(f.Reader)
		parts = append(parts, ipfs.File{Name: name, ContentType: mtype.String(), Size: f.Size, Reader: body})
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"files": len(parts), "bytes": total})
	result, err := s.pinner.Pin(ctx, parts)
	if err != nil {
		s.metrics.Upload(kindIPFS, metrics.OutcomeFailed, 0)
		s.logg.Error(logCtx, "upload.ipfs.failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pin files")
	}
	s.metrics.Upload(kindIPFS, metrics.OutcomeSuccess, total)

	rows := make([]models.IPFSUpload, 0, len(result.Files))
	for _, f := range result.Files {
		rows = append(rows, models.IPFSUpload{
			UserID:   caller.UserID,
			CID:      result.CID,
			Filename: f.Name,
			Size:     f.Size,
			URL:      result.URL,
		})
	}
	if err := s.audit.Create(ctx, rows); err != nil {
		s.logg.Error(s.logg.WithField(logCtx, "cid", result.CID), "upload.ipfs.record_failed", err)
	}
	s.logg.Info(s.logg.WithField(logCtx, "cid", result.CID), "upload.ipfs.pinned")
	return result, nil
}

// relativeName keeps the folder layout of a directory upload. Absolute paths
// and names that climb out of the pinned root are refused.
func relativeName(raw string) (string, bool) {
	name := strings.TrimSpace(strings.ReplaceAll(raw, `\`, "/"))
	if name == "" || strings.HasPrefix(name, "/") || (len(name) > 1 && name[1] == ':') {
		return "", false
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return "", false
		}
	}
	name = path.Clean(name)
	if name == "." {
		return "", false
	}
	return name, true
}

func (s *service) reject(kind string, err *pkgerrors.Error) error {
	s.metrics.Upload(kind, metrics.OutcomeRejected, 0)
	return err
}

func tooLarge(subject string, limit int64) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeTooLarge, fmt.Sprintf("%s exceeds the %dMB limit", subject, limit/megabyte)).
		WithDetails(map[string]any{"limitBytes": limit})
}
