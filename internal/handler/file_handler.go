package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	appErr "github.com/xxxsen/ragchat/internal/pkg/errors"
	"github.com/xxxsen/ragchat/internal/pkg/errcode"
	"github.com/xxxsen/ragchat/internal/pkg/response"
	"github.com/xxxsen/ragchat/internal/service"
)

// multipart framing on top of the file itself.
const uploadOverhead = 1 << 20

type FileHandler struct {
	files   *service.FileService
	maxSize int64
}

func NewFileHandler(files *service.FileService, maxSize int64) *FileHandler {
	return &FileHandler{files: files, maxSize: maxSize}
}

func (h *FileHandler) Upload(c *gin.Context) {
	if h.maxSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize+uploadOverhead)
	}
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, errcode.ErrFileTooLarge, "file exceeds "+formatUploadLimit(h.maxSize))
			return
		}
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if h.maxSize > 0 && header.Size > h.maxSize {
		response.Error(c, errcode.ErrFileTooLarge, "file exceeds "+formatUploadLimit(h.maxSize))
		return
	}
	opened, err := header.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open file")
		return
	}
	defer opened.Close()

	file, err := h.files.Upload(c.Request.Context(), getUserID(c), header.Filename, header.Header.Get("Content-Type"), opened, header.Size)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, file)
}

func (h *FileHandler) List(c *gin.Context) {
	files, err := h.files.List(c.Request.Context(), getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, files)
}

func (h *FileHandler) Get(c *gin.Context) {
	file, err := h.files.Get(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, file)
}

func (h *FileHandler) Delete(c *gin.Context) {
	if err := h.files.Delete(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *FileHandler) Reindex(c *gin.Context) {
	count, err := h.files.Reindex(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		var indexErr *appErr.IndexError
		if errors.As(err, &indexErr) && !errors.Is(err, appErr.ErrUnsupportedContentType) {
			response.Error(c, errcode.ErrInternal, indexErr.Error())
			return
		}
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"chunk_count": count})
}

func formatUploadLimit(bytes int64) string {
	const mb = 1024 * 1024
	if bytes <= 0 {
		return "0MB"
	}
	value := bytes / mb
	if value <= 0 {
		return strconv.FormatInt(bytes, 10) + "B"
	}
	return fmt.Sprintf("%dMB", value)
}
