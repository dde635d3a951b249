package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"rfi-copilot/internal/model"
)

type QuestionRepository struct {
	db *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

func (r *QuestionRepository) ListByDocumentID(ctx context.Context, documentID uint) ([]model.Question, error) {
	var list []model.Question
	if err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list questions by document failed: %w", err)
	}
	return list, nil
}

func (r *QuestionRepository) ListAll(ctx context.Context) ([]model.Question, error) {
	var list []model.Question
	if err := r.db.WithContext(ctx).Order("document_id ASC").Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list questions failed: %w", err)
	}
	return list, nil
}

// GetByID returns nil, nil when the question does not exist.
func (r *QuestionRepository) GetByID(ctx context.Context, id uint) (*model.Question, error) {
	var q model.Question
	if err := r.db.WithContext(ctx).First(&q, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get question failed: %w", err)
	}
	return &q, nil
}

// Update writes the editable fields of q in place.
func (r *QuestionRepository) Update(ctx context.Context, q *model.Question) error {
	res := r.db.WithContext(ctx).Model(&model.Question{}).Where("id = ?", q.ID).Updates(map[string]interface{}{
		"text":            q.Text,
		"type":            q.Type,
		"confidence":      q.Confidence,
		"answer":          q.Answer,
		"source_document": q.SourceDocument,
		"metadata":        q.Metadata,
	})
	if res.Error != nil {
		return fmt.Errorf("update question failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *QuestionRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&model.Question{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete question failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
