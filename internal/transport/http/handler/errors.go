package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rfi-copilot/internal/app"
	"rfi-copilot/internal/extract"
	"rfi-copilot/internal/pipeline"
	"rfi-copilot/internal/transport/http/response"
)

// writeError maps service errors onto the response envelope. Unknown errors
// are reported with fallback only; the cause goes to the request log.
func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
	case errors.Is(err, app.ErrFileTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge, err.Error())
	case errors.Is(err, extract.ErrUnsupportedFormat):
		response.Error(c, http.StatusUnsupportedMediaType, response.CodeUnsupportedType, err.Error())
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		response.Error(c, http.StatusConflict, response.CodeConflict, err.Error())
	case errors.Is(err, app.ErrFetchFailed):
		response.Error(c, http.StatusBadGateway, response.CodeUpstreamFailure, err.Error())
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	raw := c.Param(key)
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}

func parseUintQuery(c *gin.Context, key string) (uint, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}

// readUpload loads one multipart file. At most limit+1 bytes are read so the
// intake policy can still tell an oversized file apart.
func readUpload(fh *multipart.FileHeader, limit int64) (app.UploadFile, error) {
	f, err := fh.Open()
	if err != nil {
		return app.UploadFile{}, fmt.Errorf("open upload %s failed: %w", fh.Filename, err)
	}
	defer f.Close()

	reader := io.Reader(f)
	if limit > 0 {
		reader = io.LimitReader(f, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return app.UploadFile{}, fmt.Errorf("read upload %s failed: %w", fh.Filename, err)
	}
	return app.UploadFile{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
