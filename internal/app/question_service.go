package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"rfi-copilot/internal/export"
	"rfi-copilot/internal/model"
	"rfi-copilot/internal/questions"
	"rfi-copilot/internal/repository"
)

type QuestionService struct {
	questions *repository.QuestionRepository
	docs      *repository.DocumentRepository
}

func NewQuestionService(questions *repository.QuestionRepository, docs *repository.DocumentRepository) *QuestionService {
	return &QuestionService{questions: questions, docs: docs}
}

// List returns the questions of one document, or of all documents when
// documentID is 0.
func (s *QuestionService) List(ctx context.Context, documentID uint) ([]model.Question, error) {
	if documentID == 0 {
		return s.questions.ListAll(ctx)
	}
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return s.questions.ListByDocumentID(ctx, documentID)
}

func (s *QuestionService) Get(ctx context.Context, id uint) (*model.Question, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	q, err := s.questions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, ErrNotFound
	}
	return q, nil
}

// UpdateQuestionInput carries the fields a reviewer changed; nil means keep.
type UpdateQuestionInput struct {
	Text           *string  `json:"text"`
	Type           *string  `json:"type"`
	Confidence     *float64 `json:"confidence"`
	Answer         *string  `json:"answer"`
	SourceDocument *string  `json:"source_document"`
}

// Update edits a question in place. The result must satisfy the same rules
// as extracted questions.
func (s *QuestionService) Update(ctx context.Context, id uint, input UpdateQuestionInput) (*model.Question, error) {
	q, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	record := map[string]interface{}{
		"question":        pick(input.Text, q.Text),
		"type":            pick(input.Type, q.Type),
		"confidence":      q.Confidence,
		"answer":          pick(input.Answer, q.Answer),
		"source_document": pick(input.SourceDocument, q.SourceDocument),
	}
	if input.Confidence != nil {
		record["confidence"] = *input.Confidence
	}
	valid, err := questions.ValidateRecord(record)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	q.Text = valid.Text
	q.Type = valid.Type
	q.Confidence = valid.Confidence
	q.Answer = valid.Answer
	q.SourceDocument = valid.SourceDocument
	if q.Metadata == nil {
		q.Metadata = map[string]interface{}{}
	}
	q.Metadata["edited"] = true

	if err := s.questions.Update(ctx, q); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return q, nil
}

func pick(v *string, fallback string) string {
	if v != nil {
		return *v
	}
	return fallback
}

func (s *QuestionService) Delete(ctx context.Context, id uint) error {
	if id == 0 {
		return ErrInvalidInput
	}
	if err := s.questions.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Export writes the questions of one document, or all, in the given format.
func (s *QuestionService) Export(ctx context.Context, w io.Writer, documentID uint, format string) error {
	list, err := s.List(ctx, documentID)
	if err != nil {
		return err
	}
	switch format {
	case FormatCSV, "":
		return export.WriteCSV(w, list)
	case FormatXLSX:
		return export.WriteXLSX(w, list)
	default:
		return fmt.Errorf("%w: unknown export format %q", ErrInvalidInput, format)
	}
}
