package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"rfi-copilot/internal/embedding"
	"rfi-copilot/internal/extract"
	"rfi-copilot/internal/model"
	"rfi-copilot/internal/repository"
	"rfi-copilot/internal/scrape"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

type ContentExtractor interface {
	Extract(ctx context.Context, mediaType string, data []byte) (*extract.Result, error)
}

type PageScraper interface {
	Scrape(ctx context.Context, rawURL string) (*scrape.Page, error)
}

// ContextService manages the knowledge base that grounds generated answers.
type ContextService struct {
	repo      *repository.ContextRepository
	index     *embedding.Index
	extractor ContentExtractor
	scraper   PageScraper
	intake    IntakePolicy
	logger    *zap.Logger
}

func NewContextService(
	repo *repository.ContextRepository,
	index *embedding.Index,
	extractor ContentExtractor,
	scraper PageScraper,
	intake IntakePolicy,
	logger *zap.Logger,
) *ContextService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextService{
		repo:      repo,
		index:     index,
		extractor: extractor,
		scraper:   scraper,
		intake:    intake,
		logger:    logger,
	}
}

type CreateContextInput struct {
	Title      string
	Content    string
	SourceType string
	Metadata   map[string]interface{}
}

// ContextResult is a stored entry with the outcome of embedding it.
type ContextResult struct {
	Entry  model.ContextEntry     `json:"entry"`
	Ingest embedding.IngestReport `json:"ingest"`
	// Stored is filled on reindex with the rows the entry now owns.
	Stored *embedding.Counts `json:"stored,omitempty"`
}

// Create stores the entry and embeds its snippets. Embedding failures are
// reported, never rolled back; Reindex retries them.
func (s *ContextService) Create(ctx context.Context, input CreateContextInput) (*ContextResult, error) {
	title := strings.TrimSpace(input.Title)
	content := strings.TrimSpace(input.Content)
	if title == "" || content == "" {
		return nil, fmt.Errorf("%w: title and content are required", ErrInvalidInput)
	}
	sourceType := strings.TrimSpace(input.SourceType)
	if sourceType == "" {
		sourceType = model.ContextSourceKnowledgeBase
	}
	switch sourceType {
	case model.ContextSourceKnowledgeBase, model.ContextSourceWebsite, model.ContextSourceDocument:
	default:
		return nil, fmt.Errorf("%w: unknown source type %q", ErrInvalidInput, sourceType)
	}

	entry := &model.ContextEntry{
		Title:      title,
		Content:    content,
		SourceType: sourceType,
		Metadata:   input.Metadata,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}

	report := s.ingest(ctx, entry)
	return &ContextResult{Entry: *entry, Ingest: report}, nil
}

func (s *ContextService) ingest(ctx context.Context, entry *model.ContextEntry) embedding.IngestReport {
	report, err := s.index.IngestContext(ctx, entry)
	if err != nil {
		// The report already carries the error that stopped ingestion.
		s.logger.Warn("context ingestion stopped", zap.Uint("context_id", entry.ID), zap.Error(err))
	}
	return report
}

// CreateFromDocument extracts an uploaded file into a document entry.
func (s *ContextService) CreateFromDocument(ctx context.Context, file UploadFile, title string) (*ContextResult, error) {
	mediaType, err := s.intake.Admit(file)
	if err != nil {
		return nil, err
	}
	result, err := s.extractor.Extract(ctx, mediaType, file.Data)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedFormat) || errors.Is(err, extract.ErrExtractionFailure) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		title = file.Name
	}
	return s.Create(ctx, CreateContextInput{
		Title:      title,
		Content:    extract.PlainText(result.Units),
		SourceType: model.ContextSourceDocument,
		Metadata: map[string]interface{}{
			"file_name":    file.Name,
			"content_type": mediaType,
		},
	})
}

// CreateFromURL scrapes a page into a website entry.
func (s *ContextService) CreateFromURL(ctx context.Context, rawURL string) (*ContextResult, error) {
	page, err := s.scraper.Scrape(ctx, rawURL)
	if err != nil {
		switch {
		case errors.Is(err, scrape.ErrInvalidURL), errors.Is(err, scrape.ErrNoContent):
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		case errors.Is(err, scrape.ErrFetch):
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
		return nil, err
	}
	return s.Create(ctx, CreateContextInput{
		Title:      page.Title,
		Content:    page.Text(),
		SourceType: model.ContextSourceWebsite,
		Metadata:   map[string]interface{}{"url": page.URL},
	})
}

func (s *ContextService) List(ctx context.Context, sourceType string) ([]model.ContextEntry, error) {
	return s.repo.List(ctx, strings.TrimSpace(sourceType))
}

func (s *ContextService) Get(ctx context.Context, id uint) (*model.ContextEntry, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	entry, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Delete removes the entry together with its embeddings.
func (s *ContextService) Delete(ctx context.Context, id uint) error {
	if id == 0 {
		return ErrInvalidInput
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Reindex rebuilds the embeddings of one entry.
func (s *ContextService) Reindex(ctx context.Context, id uint) (*ContextResult, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	report, err := s.index.Reindex(ctx, entry)
	if err != nil {
		s.logger.Warn("context reindex stopped", zap.Uint("context_id", id), zap.Error(err))
		if len(report.Errors) == 0 {
			report.Errors = append(report.Errors, err.Error())
		}
	}
	result := &ContextResult{Entry: *entry, Ingest: report}
	if stored, err := s.index.Stored(ctx, id); err != nil {
		s.logger.Warn("count context embeddings failed", zap.Uint("context_id", id), zap.Error(err))
	} else {
		result.Stored = &stored
	}
	return result, nil
}

type SearchInput struct {
	Query  string
	Target string
	Limit  int
}

func (s *ContextService) Search(ctx context.Context, input SearchInput) ([]embedding.Match, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	target, err := embedding.ParseTarget(input.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	return s.index.Search(ctx, query, target, limit)
}
