package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"rfi-copilot/internal/model"
)

type ContextRepository struct {
	db *gorm.DB
}

func NewContextRepository(db *gorm.DB) *ContextRepository {
	return &ContextRepository{db: db}
}

func (r *ContextRepository) Create(ctx context.Context, entry *model.ContextEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("create context entry failed: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the entry does not exist.
func (r *ContextRepository) GetByID(ctx context.Context, id uint) (*model.ContextEntry, error) {
	var entry model.ContextEntry
	if err := r.db.WithContext(ctx).First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get context entry failed: %w", err)
	}
	return &entry, nil
}

func (r *ContextRepository) List(ctx context.Context, sourceType string) ([]model.ContextEntry, error) {
	q := r.db.WithContext(ctx)
	if sourceType != "" {
		q = q.Where("source_type = ?", sourceType)
	}
	var list []model.ContextEntry
	if err := q.Order("created_at DESC").Order("id DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list context entries failed: %w", err)
	}
	return list, nil
}

// Delete removes the entry and every embedding row it owns in one
// transaction. The foreign keys cascade as well; the explicit deletes cover
// databases where foreign keys are not enforced.
func (r *ContextRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("context_id = ?", id).Delete(&model.QuestionEmbedding{}).Error; err != nil {
			return fmt.Errorf("delete question embeddings failed: %w", err)
		}
		if err := tx.Where("context_id = ?", id).Delete(&model.AnswerEmbedding{}).Error; err != nil {
			return fmt.Errorf("delete answer embeddings failed: %w", err)
		}
		res := tx.Delete(&model.ContextEntry{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete context entry failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
