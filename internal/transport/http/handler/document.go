package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"rfi-copilot/internal/app"
	"rfi-copilot/internal/transport/http/response"
)

type DocumentHandler struct {
	documents    *app.DocumentService
	questions    *app.QuestionService
	maxFileBytes int64
}

func NewDocumentHandler(documents *app.DocumentService, questions *app.QuestionService, maxFileBytes int64) *DocumentHandler {
	return &DocumentHandler{documents: documents, questions: questions, maxFileBytes: maxFileBytes}
}

// Upload accepts one or more files under the "files" form field; "file" is
// accepted as well for single uploads.
func (h *DocumentHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "multipart form with files is required")
		return
	}
	headers := append(form.File["files"], form.File["file"]...)
	if len(headers) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "no files uploaded")
		return
	}

	files := make([]app.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := readUpload(fh, h.maxFileBytes)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		files = append(files, f)
	}

	result, err := h.documents.Upload(c.Request.Context(), files)
	if err != nil {
		writeError(c, err, "upload documents failed")
		return
	}
	if len(result.Documents) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, rejectionSummary(result.Rejected))
		return
	}
	response.OK(c, result)
}

func rejectionSummary(rejected []app.Rejection) string {
	reasons := make([]string, 0, len(rejected))
	for _, r := range rejected {
		reasons = append(reasons, r.Reason)
	}
	return "no file accepted: " + strings.Join(reasons, "; ")
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documents.List(c.Request.Context())
	if err != nil {
		writeError(c, err, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	doc, err := h.documents.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "get document failed")
		return
	}
	response.OK(c, doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	if err := h.documents.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted_document_id": id})
}

func (h *DocumentHandler) Status(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	st, err := h.documents.Status(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "get document status failed")
		return
	}
	response.OK(c, st)
}

func (h *DocumentHandler) Reprocess(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	if err := h.documents.Reprocess(c.Request.Context(), id); err != nil {
		writeError(c, err, "reprocess document failed")
		return
	}
	response.Accepted(c, gin.H{"document_id": id})
}

func (h *DocumentHandler) Questions(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	list, err := h.questions.List(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "list questions failed")
		return
	}
	response.OK(c, list)
}

func (h *DocumentHandler) Export(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	writeExport(c, h.questions, id, fmt.Sprintf("rfi-document-%d", id))
}

// writeExport renders into a buffer first so a failure can still be
// reported through the envelope.
func writeExport(c *gin.Context, questions *app.QuestionService, documentID uint, baseName string) {
	format := strings.ToLower(strings.TrimSpace(c.Query("format")))
	if format == "" {
		format = app.FormatCSV
	}
	var buf bytes.Buffer
	if err := questions.Export(c.Request.Context(), &buf, documentID, format); err != nil {
		writeError(c, err, "export questions failed")
		return
	}

	contentType := "text/csv; charset=utf-8"
	if format == app.FormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	filename := fmt.Sprintf("%s-%s.%s", baseName, time.Now().Format("20060102"), format)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func documentID(c *gin.Context) (uint, bool) {
	id, err := parseUintParam(c, "id")
	if err != nil || id == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return 0, false
	}
	return id, true
}
