package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rfi-copilot/internal/app"
	"rfi-copilot/internal/transport/http/response"
)

type ContextHandler struct {
	contexts     *app.ContextService
	maxFileBytes int64
}

type CreateContextRequest struct {
	Title      string                 `json:"title" binding:"required,max=512"`
	Content    string                 `json:"content" binding:"required"`
	SourceType string                 `json:"source_type"`
	Metadata   map[string]interface{} `json:"metadata"`
}

type CreateContextFromURLRequest struct {
	URL string `json:"url" binding:"required"`
}

type SearchRequest struct {
	Query  string `json:"query" binding:"required"`
	Target string `json:"target"`
	Limit  int    `json:"limit" binding:"gte=0"`
}

func NewContextHandler(contexts *app.ContextService, maxFileBytes int64) *ContextHandler {
	return &ContextHandler{contexts: contexts, maxFileBytes: maxFileBytes}
}

func (h *ContextHandler) Create(c *gin.Context) {
	var req CreateContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	result, err := h.contexts.Create(c.Request.Context(), app.CreateContextInput{
		Title:      req.Title,
		Content:    req.Content,
		SourceType: req.SourceType,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeError(c, err, "create context failed")
		return
	}
	response.OK(c, result)
}

func (h *ContextHandler) CreateFromDocument(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file is required")
		return
	}
	file, err := readUpload(fh, h.maxFileBytes)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		return
	}
	result, err := h.contexts.CreateFromDocument(c.Request.Context(), file, c.PostForm("title"))
	if err != nil {
		writeError(c, err, "ingest context document failed")
		return
	}
	response.OK(c, result)
}

func (h *ContextHandler) CreateFromURL(c *gin.Context) {
	var req CreateContextFromURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	result, err := h.contexts.CreateFromURL(c.Request.Context(), req.URL)
	if err != nil {
		writeError(c, err, "ingest context url failed")
		return
	}
	response.OK(c, result)
}

func (h *ContextHandler) List(c *gin.Context) {
	list, err := h.contexts.List(c.Request.Context(), c.Query("source_type"))
	if err != nil {
		writeError(c, err, "list contexts failed")
		return
	}
	response.OK(c, list)
}

func (h *ContextHandler) Get(c *gin.Context) {
	id, ok := contextID(c)
	if !ok {
		return
	}
	entry, err := h.contexts.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "get context failed")
		return
	}
	response.OK(c, entry)
}

func (h *ContextHandler) Delete(c *gin.Context) {
	id, ok := contextID(c)
	if !ok {
		return
	}
	if err := h.contexts.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err, "delete context failed")
		return
	}
	response.OK(c, gin.H{"deleted_context_id": id})
}

func (h *ContextHandler) Reindex(c *gin.Context) {
	id, ok := contextID(c)
	if !ok {
		return
	}
	result, err := h.contexts.Reindex(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "reindex context failed")
		return
	}
	response.OK(c, result)
}

func (h *ContextHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	matches, err := h.contexts.Search(c.Request.Context(), app.SearchInput{
		Query:  req.Query,
		Target: req.Target,
		Limit:  req.Limit,
	})
	if err != nil {
		writeError(c, err, "search failed")
		return
	}
	response.OK(c, matches)
}

func contextID(c *gin.Context) (uint, bool) {
	id, err := parseUintParam(c, "id")
	if err != nil || id == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid context id")
		return 0, false
	}
	return id, true
}
