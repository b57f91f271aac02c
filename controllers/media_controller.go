package controllers

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/mediastage/media"
	"github.com/cppla/mediastage/storage"
	"github.com/cppla/mediastage/utils"
)

const (
	defaultFieldID    = "image"
	multipartMemory   = 8 << 20
	multipartOverhead = 1 << 20
)

// Restorer brings a file back into primary storage from the mirror.
type Restorer interface {
	Restore(ctx context.Context, p string, dst storage.Storage) error
}

// MediaController accepts staged uploads and serves media files.
type MediaController struct {
	uploader *media.Uploader
	store    storage.Storage
	restorer Restorer
	log      *zap.Logger
	maxBody  int64
}

// NewMediaController creates a MediaController. maxUpload bounds request bodies; zero disables the bound.
func NewMediaController(up *media.Uploader, store storage.Storage, restorer Restorer, log *zap.Logger, maxUpload int64) *MediaController {
	if restorer == nil {
		restorer = storage.NopMirror{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	var maxBody int64
	if maxUpload > 0 {
		maxBody = maxUpload + multipartOverhead
	}
	return &MediaController{uploader: up, store: store, restorer: restorer, log: log, maxBody: maxBody}
}

// Upload stores the file sent under target_element_id in staging. The response body is
// the staged file itself, or {error, errorcode} on failure.
func (m *MediaController) Upload(ctx *gin.Context) {
	fieldID := ctx.Query("target_element_id")
	if fieldID == "" {
		fieldID = defaultFieldID
	}
	if m.maxBody > 0 {
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, m.maxBody)
	}
	if err := ctx.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		msg := "File was not uploaded."
		if errors.As(err, &tooLarge) {
			msg = "File exceeds the maximum upload size."
		}
		ctx.JSON(http.StatusBadRequest, gin.H{"error": msg, "errorcode": media.CodeValidation})
		return
	}
	defer func() { _ = ctx.Request.MultipartForm.RemoveAll() }()

	res, err := m.uploader.AcceptUpload(ctx.Request.Context(), ctx.Request.MultipartForm, fieldID)
	if err != nil {
		e := media.AsError(err)
		ctx.JSON(utils.MediaStatus(e), gin.H{"error": e.Message, "errorcode": e.Code()})
		return
	}
	ctx.JSON(http.StatusOK, res)
}

// Serve streams a media file. A file missing on this node is restored from the mirror first.
func (m *MediaController) Serve(ctx *gin.Context) {
	rel, err := media.CleanName(ctx.Param("filepath"))
	if err != nil {
		utils.Error(ctx, http.StatusNotFound, 40431, "media not found")
		return
	}
	reqCtx := ctx.Request.Context()

	rc, err := m.store.Open(reqCtx, rel)
	if errors.Is(err, storage.ErrNotExist) {
		if rerr := m.restorer.Restore(reqCtx, rel, m.store); rerr == nil {
			m.log.Info("restored media from mirror", zap.String("path", rel))
			rc, err = m.store.Open(reqCtx, rel)
		} else if !errors.Is(rerr, storage.ErrNotExist) {
			m.log.Error("restore media from mirror", zap.String("path", rel), zap.Error(rerr))
		}
	}
	switch {
	case errors.Is(err, storage.ErrNotExist), errors.Is(err, storage.ErrOutsideRoot):
		utils.Error(ctx, http.StatusNotFound, 40431, "media not found")
		return
	case err != nil:
		m.log.Error("open media", zap.String("path", rel), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, 50031, "failed to read media")
		return
	}
	defer rc.Close()

	ctype := mime.TypeByExtension(path.Ext(rel))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	headers := map[string]string{"X-Content-Type-Options": "nosniff"}
	if media.Extension(rel) == "svg" {
		// svg may carry script
		headers["Content-Security-Policy"] = "default-src 'none'; style-src 'unsafe-inline'; sandbox"
	}
	ctx.DataFromReader(http.StatusOK, -1, ctype, rc, headers)
}
