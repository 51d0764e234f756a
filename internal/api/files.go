package api

import (
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/magicyang-1/chatshare-sub001/internal/service"
	"github.com/magicyang-1/chatshare-sub001/pkg/errors"

	"github.com/gin-gonic/gin"
)

// FileHandler accepts uploads and serves stored files
type FileHandler struct {
	uploads *service.UploadService
}

func NewFileHandler(uploads *service.UploadService) *FileHandler {
	return &FileHandler{uploads: uploads}
}

// RegisterRoutes mounts the upload route on an authenticated group
func (h *FileHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/files/upload", h.Upload)
}

// RegisterPublicRoutes mounts the file route that generated links point at
func (h *FileHandler) RegisterPublicRoutes(r gin.IRouter) {
	r.GET("/api/files/*key", h.Serve)
}

// Upload stores a multipart "file" field. The returned fileId is what a later message references.
func (h *FileHandler) Upload(c *gin.Context) {
	if _, ok := callerID(c); !ok {
		return
	}

	limit := h.uploads.MaxSize()
	if limit > 0 {
		// leave room for the multipart envelope; the service enforces the exact size
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			c.Error(errors.NewPayloadTooLargeError("FILE_TOO_LARGE", "File exceeds the upload limit"))
			return
		}
		c.Error(errors.NewBadRequestError("INVALID_REQUEST", "A file field is required"))
		return
	}
	if limit > 0 && fileHeader.Size > limit {
		c.Error(errors.NewPayloadTooLargeError("FILE_TOO_LARGE", "File exceeds the upload limit"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.Error(errors.NewBadRequestError("INVALID_REQUEST", "Could not read the uploaded file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.Error(errors.NewBadRequestError("INVALID_REQUEST", "Could not read the uploaded file"))
		return
	}

	att, err := h.uploads.Upload(c.Request.Context(), fileHeader.Filename, data)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"fileId":       att.StorageKey,
		"fileName":     att.StorageKey,
		"originalName": att.OriginalName,
		"mimeType":     att.MimeType,
		"size":         att.ByteSize,
		"url":          att.FileURL(),
	})
}

// Serve streams a stored file by storage key
func (h *FileHandler) Serve(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	data, mimeType, err := h.uploads.Open(c.Request.Context(), key)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, mimeType, data)
}
