// Package embedding maintains the question and answer snippet corpora of
// the context library and ranks them against free-text queries.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rfi-copilot/internal/ai"
	"rfi-copilot/internal/chunk"
	"rfi-copilot/internal/model"
	"rfi-copilot/internal/repository"
)

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrUnknownTarget     = errors.New("unknown search target")
)

// Target selects which corpora a search covers.
type Target string

const (
	TargetQuestions Target = "questions"
	TargetAnswers   Target = "answers"
	TargetBoth      Target = "both"
)

func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case TargetQuestions, TargetAnswers, TargetBoth:
		return t, nil
	case "":
		return TargetBoth, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTarget, s)
	}
}

func (t Target) corpora() []model.Corpus {
	switch t {
	case TargetQuestions:
		return []model.Corpus{model.CorpusQuestions}
	case TargetAnswers:
		return []model.Corpus{model.CorpusAnswers}
	default:
		return []model.Corpus{model.CorpusQuestions, model.CorpusAnswers}
	}
}

type Match = repository.ScoredSnippet

// IngestReport summarizes one context entry's ingestion. Failed snippets do
// not roll back the entry; Reindex retries them.
type IngestReport struct {
	Questions int      `json:"questions"`
	Answers   int      `json:"answers"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

type Options struct {
	// Dimensions is the embedding model's output size; 0 disables the check.
	Dimensions  int
	Concurrency int
	// BatchSize caps the snippets per embedding request; 0 means 16.
	BatchSize int
	Logger    *zap.Logger
}

type Index struct {
	embedder    ai.Embedder
	repo        *repository.EmbeddingRepository
	dims        int
	concurrency int
	batchSize   int
	logger      *zap.Logger
}

func NewIndex(embedder ai.Embedder, repo *repository.EmbeddingRepository, opts Options) *Index {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Index{
		embedder:    embedder,
		repo:        repo,
		dims:        opts.Dimensions,
		concurrency: opts.Concurrency,
		batchSize:   opts.BatchSize,
		logger:      opts.Logger,
	}
}

func (x *Index) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := x.checkDims(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (x *Index) Index(ctx context.Context, corpus model.Corpus, ownerID uint, text string, vec []float32) error {
	if err := x.checkDims(vec); err != nil {
		return err
	}
	return x.repo.Insert(ctx, corpus, ownerID, text, vec)
}

func (x *Index) checkDims(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if x.dims > 0 && len(vec) != x.dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), x.dims)
	}
	return nil
}

// Search embeds query once and returns up to k snippets ordered by
// descending cosine similarity. With TargetBoth the two corpora are merged.
func (x *Index) Search(ctx context.Context, query string, target Target, k int) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		return nil, nil
	}
	vec, err := x.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}

	var matches []Match
	for _, corpus := range target.corpora() {
		found, err := x.repo.Nearest(ctx, corpus, vec, k)
		if err != nil {
			return nil, err
		}
		matches = append(matches, found...)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// IngestContext embeds every sentence of the entry's content. Questions go
// to the question corpus, everything else to the answer corpus. When the
// embedder supports batches, sentences are sent BatchSize at a time and a
// failed batch is retried one snippet at a time so a bad snippet only costs
// itself. Individual failures are counted in the report; only an auth or
// quota rejection from the oracle stops the remaining work and is returned.
func (x *Index) IngestContext(ctx context.Context, entry *model.ContextEntry) (IngestReport, error) {
	var (
		report IngestReport
		mu     sync.Mutex
	)
	sentences := chunk.SplitSentences(entry.Content)
	if len(sentences) == 0 {
		return report, nil
	}

	record := func(corpus model.Corpus, err error) error {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, err.Error())
			if ai.IsFatal(err) {
				return err
			}
			return nil
		}
		if corpus == model.CorpusQuestions {
			report.Questions++
		} else {
			report.Answers++
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)
	for _, batch := range x.batches(sentences) {
		g.Go(func() error {
			return x.ingestBatch(gctx, entry.ID, batch, record)
		})
	}
	err := g.Wait()

	if report.Failed > 0 {
		x.logger.Warn("context embedding partially failed",
			zap.Uint("context_id", entry.ID),
			zap.Int("failed", report.Failed),
			zap.Int("total", len(sentences)),
		)
	}
	if err != nil {
		return report, fmt.Errorf("ingest context %d failed: %w", entry.ID, err)
	}
	return report, nil
}

func (x *Index) batches(sentences []string) [][]string {
	size := 1
	if _, ok := x.embedder.(ai.BatchEmbedder); ok {
		size = x.batchSize
	}
	var out [][]string
	for start := 0; start < len(sentences); start += size {
		out = append(out, sentences[start:min(start+size, len(sentences))])
	}
	return out
}

func (x *Index) ingestBatch(ctx context.Context, ownerID uint, batch []string, record func(model.Corpus, error) error) error {
	if be, ok := x.embedder.(ai.BatchEmbedder); ok && len(batch) > 1 {
		vecs, err := be.EmbedBatch(ctx, batch)
		if err == nil && len(vecs) != len(batch) {
			err = fmt.Errorf("embedding batch returned %d vectors for %d snippets", len(vecs), len(batch))
		}
		switch {
		case err == nil:
			for i, text := range batch {
				corpus := CorpusFor(text)
				if err := record(corpus, x.Index(ctx, corpus, ownerID, text, vecs[i])); err != nil {
					return err
				}
			}
			return nil
		case ai.IsFatal(err):
			return record("", fmt.Errorf("embed batch failed: %w", err))
		case ctx.Err() != nil:
			return ctx.Err()
		}
		x.logger.Info("batch embedding failed, embedding snippets one by one",
			zap.Int("snippets", len(batch)), zap.Error(err))
	}

	for _, text := range batch {
		corpus := CorpusFor(text)
		if err := record(corpus, x.ingestOne(ctx, corpus, ownerID, text)); err != nil {
			return err
		}
	}
	return nil
}

func (x *Index) ingestOne(ctx context.Context, corpus model.Corpus, ownerID uint, text string) error {
	vec, err := x.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed snippet failed: %w", err)
	}
	return x.Index(ctx, corpus, ownerID, text, vec)
}

// Counts is the number of snippets stored per corpus for one entry.
type Counts struct {
	Questions int64 `json:"questions"`
	Answers   int64 `json:"answers"`
}

// Stored counts the embedding rows an entry currently owns.
func (x *Index) Stored(ctx context.Context, contextID uint) (Counts, error) {
	var c Counts
	var err error
	if c.Questions, err = x.repo.CountByContextID(ctx, model.CorpusQuestions, contextID); err != nil {
		return Counts{}, err
	}
	if c.Answers, err = x.repo.CountByContextID(ctx, model.CorpusAnswers, contextID); err != nil {
		return Counts{}, err
	}
	return c, nil
}

// Reindex replaces an entry's embedding rows with a fresh ingestion.
func (x *Index) Reindex(ctx context.Context, entry *model.ContextEntry) (IngestReport, error) {
	if err := x.repo.DeleteByContextID(ctx, entry.ID); err != nil {
		return IngestReport{}, err
	}
	return x.IngestContext(ctx, entry)
}

// CorpusFor routes a snippet by its terminal question mark.
func CorpusFor(snippet string) model.Corpus {
	if strings.HasSuffix(strings.TrimSpace(snippet), "?") {
		return model.CorpusQuestions
	}
	return model.CorpusAnswers
}

// Snippets returns the texts of the k answer snippets nearest to query, for
// grounding generated answers in the knowledge base.
func (x *Index) Snippets(ctx context.Context, query string, k int) ([]string, error) {
	matches, err := x.Search(ctx, query, TargetAnswers, k)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Text)
	}
	return out, nil
}
