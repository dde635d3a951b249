package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rfi-copilot/internal/app"
	"rfi-copilot/internal/transport/http/response"
)

type QuestionHandler struct {
	questions *app.QuestionService
}

func NewQuestionHandler(questions *app.QuestionService) *QuestionHandler {
	return &QuestionHandler{questions: questions}
}

func (h *QuestionHandler) List(c *gin.Context) {
	documentID, err := parseUintQuery(c, "document_id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document_id")
		return
	}
	list, err := h.questions.List(c.Request.Context(), documentID)
	if err != nil {
		writeError(c, err, "list questions failed")
		return
	}
	response.OK(c, list)
}

func (h *QuestionHandler) Get(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		return
	}
	q, err := h.questions.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "get question failed")
		return
	}
	response.OK(c, q)
}

func (h *QuestionHandler) Update(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		return
	}
	var req app.UpdateQuestionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	q, err := h.questions.Update(c.Request.Context(), id, req)
	if err != nil {
		writeError(c, err, "update question failed")
		return
	}
	response.OK(c, q)
}

func (h *QuestionHandler) Delete(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		return
	}
	if err := h.questions.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err, "delete question failed")
		return
	}
	response.OK(c, gin.H{"deleted_question_id": id})
}

// Export renders every question, or one document's with ?document_id=.
func (h *QuestionHandler) Export(c *gin.Context) {
	documentID, err := parseUintQuery(c, "document_id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document_id")
		return
	}
	writeExport(c, h.questions, documentID, "rfi-questions")
}

func questionID(c *gin.Context) (uint, bool) {
	id, err := parseUintParam(c, "id")
	if err != nil || id == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid question id")
		return 0, false
	}
	return id, true
}
