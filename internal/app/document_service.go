package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"rfi-copilot/internal/extract"
	"rfi-copilot/internal/model"
	"rfi-copilot/internal/pipeline"
	"rfi-copilot/internal/repository"
)

type DocumentService struct {
	docs       *repository.DocumentRepository
	status     pipeline.StatusStore
	dispatcher pipeline.Dispatcher
	intake     IntakePolicy
	maxFiles   int
	logger     *zap.Logger
}

func NewDocumentService(
	docs *repository.DocumentRepository,
	status pipeline.StatusStore,
	dispatcher pipeline.Dispatcher,
	intake IntakePolicy,
	maxFiles int,
	logger *zap.Logger,
) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{
		docs:       docs,
		status:     status,
		dispatcher: dispatcher,
		intake:     intake,
		maxFiles:   maxFiles,
		logger:     logger,
	}
}

// Rejection names a file that was not stored and why.
type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type UploadResult struct {
	Documents []model.Document `json:"documents"`
	Rejected  []Rejection      `json:"rejected,omitempty"`
}

// Upload stores every admissible file and starts its pipeline. Files of an
// unsupported media type are stored directly in the error state and never
// reach extraction. Oversized or empty files are not stored at all.
func (s *DocumentService) Upload(ctx context.Context, files []UploadFile) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files uploaded", ErrInvalidInput)
	}
	if s.maxFiles > 0 && len(files) > s.maxFiles {
		return nil, fmt.Errorf("%w: at most %d files per upload", ErrInvalidInput, s.maxFiles)
	}

	result := &UploadResult{Documents: make([]model.Document, 0, len(files))}
	for _, f := range files {
		mediaType, err := s.intake.Admit(f)
		if err != nil {
			result.Rejected = append(result.Rejected, Rejection{Name: f.Name, Reason: err.Error()})
			continue
		}

		doc := &model.Document{
			Name:        strings.TrimSpace(f.Name),
			ContentType: mediaType,
			Size:        int64(len(f.Data)),
			Content:     model.EncodeContent(f.Data),
			Status:      model.DocumentStatusProcessing,
		}
		supported := extract.Supports(mediaType)
		if !supported {
			msg, kind := pipeline.FailureMessage(fmt.Errorf("%w: %q", extract.ErrUnsupportedFormat, mediaType))
			doc.Status = model.DocumentStatusError
			doc.Metadata = map[string]interface{}{"error": msg, "error_kind": kind}
		}
		if err := s.docs.Create(ctx, doc); err != nil {
			return nil, err
		}
		logger := s.logger.With(zap.Uint("document_id", doc.ID), zap.String("name", doc.Name), zap.String("content_type", mediaType))
		if !supported {
			logger.Warn("unsupported document stored as failed")
			result.Documents = append(result.Documents, *doc)
			continue
		}

		if err := s.dispatcher.Dispatch(ctx, doc.ID); err != nil {
			logger.Error("dispatch document failed", zap.Error(err))
			msg, kind := pipeline.FailureMessage(err)
			if markErr := s.docs.MarkFailed(ctx, doc.ID, msg, kind); markErr != nil {
				return nil, markErr
			}
			doc.Status = model.DocumentStatusError
			doc.Metadata = map[string]interface{}{"error": msg, "error_kind": kind}
		} else {
			logger.Info("document accepted", zap.Int64("size", doc.Size))
		}
		result.Documents = append(result.Documents, *doc)
	}
	return result, nil
}

func (s *DocumentService) List(ctx context.Context) ([]model.Document, error) {
	return s.docs.List(ctx)
}

func (s *DocumentService) Get(ctx context.Context, id uint) (*model.Document, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

// Delete removes the document and its questions. A run in flight notices
// and ends in the error state.
func (s *DocumentService) Delete(ctx context.Context, id uint) error {
	if id == 0 {
		return ErrInvalidInput
	}
	if err := s.docs.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := s.status.Delete(ctx, id); err != nil {
		s.logger.Warn("delete status failed", zap.Uint("document_id", id), zap.Error(err))
	}
	return nil
}

// Reprocess runs the pipeline again for a stored document.
func (s *DocumentService) Reprocess(ctx context.Context, id uint) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !extract.Supports(doc.ContentType) {
		return fmt.Errorf("%w: %q", extract.ErrUnsupportedFormat, doc.ContentType)
	}
	return s.dispatcher.Dispatch(ctx, id)
}

// Status returns the live status, or one derived from the stored document
// when no live entry exists.
func (s *DocumentService) Status(ctx context.Context, id uint) (*pipeline.Status, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	st, err := s.status.Get(ctx, id)
	if err != nil {
		s.logger.Warn("read live status failed", zap.Uint("document_id", id), zap.Error(err))
	}
	if st != nil {
		return st, nil
	}
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	derived := pipeline.StatusFromDocument(doc)
	return &derived, nil
}
