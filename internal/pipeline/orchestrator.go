// Package pipeline runs uploaded documents through extraction, chunking and
// question classification, and tracks per-document progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rfi-copilot/internal/ai"
	"rfi-copilot/internal/chunk"
	"rfi-copilot/internal/extract"
	"rfi-copilot/internal/model"
	"rfi-copilot/internal/questions"
	"rfi-copilot/internal/repository"
)

// DocumentStore is the durable side of the pipeline.
type DocumentStore interface {
	GetByID(ctx context.Context, id uint) (*model.Document, error)
	MarkProcessing(ctx context.Context, id uint) error
	MarkFailed(ctx context.Context, id uint, message, kind string) error
	CompleteWithQuestions(ctx context.Context, id uint, questions []model.Question, extra map[string]interface{}) error
}

type ContentExtractor interface {
	Extract(ctx context.Context, mediaType string, data []byte) (*extract.Result, error)
}

type Options struct {
	Chunker chunk.Chunker
	// Concurrency bounds simultaneous classifier calls within one document.
	Concurrency int
	// StaleAfter is how long an unfinished status from another process keeps
	// blocking new runs of the same document.
	StaleAfter time.Duration
	Logger     *zap.Logger
}

type runState int

const (
	runPending runState = iota + 1
	runActive
)

type Orchestrator struct {
	docs        DocumentStore
	extractor   ContentExtractor
	chunker     chunk.Chunker
	classifier  questions.Classifier
	status      StatusStore
	concurrency int
	staleAfter  time.Duration
	logger      *zap.Logger

	mu   sync.Mutex
	runs map[uint]runState
}

func NewOrchestrator(docs DocumentStore, extractor ContentExtractor, classifier questions.Classifier, status StatusStore, opts Options) (*Orchestrator, error) {
	if err := opts.Chunker.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker settings: %w", err)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		docs:        docs,
		extractor:   extractor,
		chunker:     opts.Chunker,
		classifier:  classifier,
		status:      status,
		concurrency: opts.Concurrency,
		staleAfter:  opts.StaleAfter,
		logger:      opts.Logger,
		runs:        make(map[uint]runState),
	}, nil
}

// Accept reserves the document for one run and publishes the preparation
// status. It fails with ErrAlreadyRunning while another run is pending or
// active, here or in another process sharing the status store. A reservation
// that will never run must be released with Abandon.
func (o *Orchestrator) Accept(ctx context.Context, documentID uint) error {
	o.mu.Lock()
	if _, busy := o.runs[documentID]; busy {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.runs[documentID] = runPending
	o.mu.Unlock()

	if st, err := o.status.Get(ctx, documentID); err == nil && st != nil &&
		!st.Step.Terminal() && time.Since(st.UpdatedAt) < o.staleAfter {
		o.Abandon(documentID)
		return ErrAlreadyRunning
	}
	if err := o.status.Set(ctx, newStatus(documentID)); err != nil {
		o.Abandon(documentID)
		return fmt.Errorf("publish preparation status failed: %w", err)
	}
	return nil
}

func (o *Orchestrator) Abandon(documentID uint) {
	o.mu.Lock()
	if o.runs[documentID] == runPending {
		delete(o.runs, documentID)
	}
	o.mu.Unlock()
}

// Running reports whether a run is pending or active for the document.
func (o *Orchestrator) Running(documentID uint) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, busy := o.runs[documentID]
	return busy
}

func (o *Orchestrator) claim(documentID uint) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runs[documentID] == runActive {
		return false
	}
	o.runs[documentID] = runActive
	return true
}

func (o *Orchestrator) release(documentID uint) {
	o.mu.Lock()
	delete(o.runs, documentID)
	o.mu.Unlock()
}

// Run processes one document to a terminal state. Failures are recorded on
// the document and its status; the returned error is informational.
func (o *Orchestrator) Run(ctx context.Context, documentID uint) (err error) {
	if !o.claim(documentID) {
		return ErrAlreadyRunning
	}
	defer o.release(documentID)

	logger := o.logger.With(zap.Uint("document_id", documentID))
	start := time.Now()
	st := o.current(ctx, documentID)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected panic: %v", r)
			o.fail(ctx, st, err, logger)
		}
	}()

	if err = o.run(ctx, &st, logger); err != nil {
		o.fail(ctx, st, err, logger)
		return err
	}
	logger.Info("document processed", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (o *Orchestrator) run(ctx context.Context, st *Status, logger *zap.Logger) error {
	documentID := st.DocumentID
	doc, err := o.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document failed: %w", err)
	}
	if doc == nil {
		return errDocumentGone
	}
	if doc.Status != model.DocumentStatusProcessing {
		if err := o.docs.MarkProcessing(ctx, documentID); err != nil {
			return o.persistErr(err)
		}
	}

	o.advance(ctx, st, StepExtraction, logger)
	payload, err := doc.Payload()
	if err != nil {
		return fmt.Errorf("%w: stored content is not valid base64: %v", extract.ErrExtractionFailure, err)
	}
	result, err := o.extractor.Extract(ctx, doc.ContentType, payload)
	if err != nil {
		return err
	}
	chunks, err := o.chunker.Split(doc.Name, result.Units)
	if err != nil {
		return fmt.Errorf("%w: %v", extract.ErrExtractionFailure, err)
	}
	logger.Info("document chunked", zap.Int("units", len(result.Units)), zap.Int("chunks", len(chunks)))

	o.advance(ctx, st, StepQuestions, logger)
	found, failedChunks, err := o.classify(ctx, chunks, logger)
	if err != nil {
		return err
	}

	o.advance(ctx, st, StepAnalysis, logger)
	merged := Dedupe(found)
	rows := make([]model.Question, 0, len(merged))
	for _, q := range merged {
		rows = append(rows, q.Model(documentID))
	}
	extra := map[string]interface{}{
		"chunk_count":    len(chunks),
		"question_count": len(rows),
		"failed_chunks":  failedChunks,
	}
	if len(result.Warnings) > 0 {
		extra["extraction_warnings"] = result.Warnings
	}
	if err := o.docs.CompleteWithQuestions(ctx, documentID, rows, extra); err != nil {
		return o.persistErr(err)
	}

	o.advance(ctx, st, StepComplete, logger)
	logger.Info("questions stored", zap.Int("questions", len(rows)), zap.Int("failed_chunks", failedChunks))
	return nil
}

func (o *Orchestrator) persistErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return errDocumentGone
	}
	return fmt.Errorf("persist document failed: %w", err)
}

// classify runs the classifier over all chunks with bounded concurrency.
// A chunk that fails is skipped; an auth or quota rejection stops the run.
// Results keep chunk order.
func (o *Orchestrator) classify(ctx context.Context, chunks []chunk.Chunk, logger *zap.Logger) ([]questions.ProcessedQuestion, int, error) {
	results := make([][]questions.ProcessedQuestion, len(chunks))
	var (
		mu     sync.Mutex
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, ch := range chunks {
		g.Go(func() error {
			qs, err := o.classifyChunk(gctx, ch)
			if err == nil {
				results[i] = qs
				return nil
			}
			if ai.IsFatal(err) {
				return err
			}
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}
			mu.Lock()
			failed++
			mu.Unlock()
			if errors.Is(err, questions.ErrMalformedOutput) {
				logger.Warn("chunk produced malformed output", zap.Int("chunk_index", ch.Index), zap.Error(err))
			} else {
				logger.Warn("chunk classification failed", zap.Int("chunk_index", ch.Index), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, failed, err
	}

	var out []questions.ProcessedQuestion
	for _, qs := range results {
		out = append(out, qs...)
	}
	return out, failed, nil
}

// classifyChunk runs on an errgroup goroutine, out of reach of Run's
// recover, so a classifier panic is turned into a chunk failure here.
func (o *Orchestrator) classifyChunk(ctx context.Context, ch chunk.Chunk) (qs []questions.ProcessedQuestion, err error) {
	defer func() {
		if r := recover(); r != nil {
			qs, err = nil, fmt.Errorf("classifier panic on chunk %d: %v", ch.Index, r)
		}
	}()
	return o.classifier.Classify(ctx, ch)
}

// Dedupe merges questions whose text differs only in case or spacing,
// keeping the most confident one at the position of the first occurrence.
// Overlapping chunks routinely produce such duplicates.
func Dedupe(qs []questions.ProcessedQuestion) []questions.ProcessedQuestion {
	index := make(map[string]int, len(qs))
	out := make([]questions.ProcessedQuestion, 0, len(qs))
	for _, q := range qs {
		k := strings.ToLower(strings.Join(strings.Fields(q.Text), " "))
		if i, ok := index[k]; ok {
			if q.Confidence > out[i].Confidence {
				out[i] = q
			}
			continue
		}
		index[k] = len(out)
		out = append(out, q)
	}
	return out
}

// current returns the status published by Accept, or a fresh one when the
// run was dispatched by another process or a stale entry is left over.
func (o *Orchestrator) current(ctx context.Context, documentID uint) Status {
	st, err := o.status.Get(ctx, documentID)
	if err != nil || st == nil || st.Step != StepPreparation {
		return newStatus(documentID)
	}
	return *st
}

func (o *Orchestrator) advance(ctx context.Context, st *Status, next Step, logger *zap.Logger) {
	*st = st.advance(next)
	if err := o.status.Set(ctx, *st); err != nil {
		logger.Warn("publish status failed", zap.String("step", string(next)), zap.Error(err))
	}
	logger.Debug("pipeline step", zap.String("step", string(next)), zap.Int("progress", st.Progress))
}

func (o *Orchestrator) fail(ctx context.Context, st Status, cause error, logger *zap.Logger) {
	message, kind := FailureMessage(cause)
	logger.Error("document processing failed",
		zap.String("step", string(st.Step)),
		zap.String("kind", kind),
		zap.Error(cause),
	)

	// The run context may already be cancelled; failure bookkeeping must
	// still land.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	st = st.advance(StepError)
	st.Error = message
	if err := o.status.Set(bg, st); err != nil {
		logger.Warn("publish error status failed", zap.Error(err))
	}
	if err := o.docs.MarkFailed(bg, st.DocumentID, message, kind); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Info("document no longer exists, failure kept in status only")
			return
		}
		logger.Error("persist failure failed", zap.Error(err))
	}
}
