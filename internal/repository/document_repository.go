package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"rfi-copilot/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the document does not exist.
func (r *DocumentRepository) GetByID(ctx context.Context, id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

// List returns documents newest first without their payloads.
func (r *DocumentRepository) List(ctx context.Context) ([]model.Document, error) {
	var list []model.Document
	if err := r.db.WithContext(ctx).Omit("content").Order("created_at DESC").Order("id DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return list, nil
}

// MarkProcessing resets a document for another pipeline run and clears any
// previous failure.
func (r *DocumentRepository) MarkProcessing(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := loadDocument(tx, id)
		if err != nil {
			return err
		}
		meta := cloneMeta(doc.Metadata)
		delete(meta, "error")
		delete(meta, "error_kind")
		return updateStatus(tx, doc, model.DocumentStatusProcessing, meta)
	})
}

// MarkFailed records a terminal failure with a user-presentable message.
func (r *DocumentRepository) MarkFailed(ctx context.Context, id uint, message, kind string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := loadDocument(tx, id)
		if err != nil {
			return err
		}
		meta := cloneMeta(doc.Metadata)
		meta["error"] = message
		meta["error_kind"] = kind
		return updateStatus(tx, doc, model.DocumentStatusError, meta)
	})
}

// CompleteWithQuestions replaces the document's questions and flips it to
// processed in one transaction. Questions are written before the status
// change so a processed document never lacks its questions.
func (r *DocumentRepository) CompleteWithQuestions(ctx context.Context, id uint, questions []model.Question, extra map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := loadDocument(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", id).Delete(&model.Question{}).Error; err != nil {
			return fmt.Errorf("delete previous questions failed: %w", err)
		}
		if len(questions) > 0 {
			for i := range questions {
				questions[i].ID = 0
				questions[i].DocumentID = id
			}
			if err := tx.CreateInBatches(&questions, 100).Error; err != nil {
				return fmt.Errorf("create questions failed: %w", err)
			}
		}
		meta := cloneMeta(doc.Metadata)
		delete(meta, "error")
		delete(meta, "error_kind")
		for k, v := range extra {
			meta[k] = v
		}
		return updateStatus(tx, doc, model.DocumentStatusProcessed, meta)
	})
}

// Delete removes the document and its questions.
func (r *DocumentRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.Question{}).Error; err != nil {
			return fmt.Errorf("delete document questions failed: %w", err)
		}
		res := tx.Delete(&model.Document{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete document failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func loadDocument(tx *gorm.DB, id uint) (*model.Document, error) {
	var doc model.Document
	if err := tx.Omit("content").First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load document failed: %w", err)
	}
	return &doc, nil
}

func updateStatus(tx *gorm.DB, doc *model.Document, status string, meta datatypes.JSONMap) error {
	res := tx.Model(&model.Document{}).Where("id = ?", doc.ID).Updates(map[string]interface{}{
		"status":   status,
		"metadata": meta,
	})
	if res.Error != nil {
		return fmt.Errorf("update document status failed: %w", res.Error)
	}
	return nil
}

func cloneMeta(src datatypes.JSONMap) datatypes.JSONMap {
	dst := make(datatypes.JSONMap, len(src)+2)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
