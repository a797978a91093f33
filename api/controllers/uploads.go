package controllers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/quickbuyer/quickbuyer-backend/api/responses"
	"github.com/quickbuyer/quickbuyer-backend/internal/uploads"
	pkgerrors "github.com/quickbuyer/quickbuyer-backend/pkg/errors"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
)

const (
	uploadFormField = "file"
	// headroom for multipart boundaries and headers on top of the payload limit
	multipartOverhead = int64(1 << 20)
	multipartMemory   = int64(32 << 20)
)

// UploadThumbnail accepts one image in the "file" field and stores it in object storage.
func UploadThumbnail(svc uploads.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "upload service unavailable"))
			return
		}
		caller := callerFromRequest(r)
		if caller == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		headers, err := parseUpload(w, r, svc.Limits().Thumbnail)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		defer removeUpload(r)
		if len(headers) != 1 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "exactly one file is required"))
			return
		}

		files, closeAll, err := openParts(headers)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		defer closeAll()

		result, err := svc.UploadThumbnail(ctx, caller, files[0])
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// UploadIPFS relays every "file" part to the pinning service as one directory.
func UploadIPFS(svc uploads.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "upload service unavailable"))
			return
		}
		caller := callerFromRequest(r)
		if caller == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		headers, err := parseUpload(w, r, svc.Limits().IPFSBatch)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		defer removeUpload(r)
		if len(headers) == 0 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "at least one file is required"))
			return
		}

		files, closeAll, err := openParts(headers)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		defer closeAll()

		result, err := svc.PinFiles(ctx, caller, files)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func parseUpload(w http.ResponseWriter, r *http.Request, limit int64) ([]*multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, pkgerrors.New(pkgerrors.CodeTooLarge, fmt.Sprintf("upload exceeds %d MB", limit>>20))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "expected multipart/form-data body")
	}
	if r.MultipartForm == nil {
		return nil, nil
	}
	return r.MultipartForm.File[uploadFormField], nil
}

func openParts(headers []*multipart.FileHeader) ([]uploads.File, func(), error) {
	files := make([]uploads.File, 0, len(headers))
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			closeAll()
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read uploaded file")
		}
		closers = append(closers, f)
		files = append(files, uploads.File{Name: partName(header), Size: header.Size, Reader: f})
	}
	return files, closeAll, nil
}

// partName reads the filename as the browser sent it. FileHeader.Filename is
// already reduced to its base, which drops the folder of a directory upload.
func partName(header *multipart.FileHeader) string {
	if _, params, err := mime.ParseMediaType(header.Header.Get("Content-Disposition")); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}
	return header.Filename
}

func removeUpload(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}
