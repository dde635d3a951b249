package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rfi-copilot/internal/model"
)

// Dispatcher starts a pipeline run for a document without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, documentID uint) error
}

// InlineDispatcher runs documents on goroutines of the current process.
type InlineDispatcher struct {
	base   context.Context
	o      *Orchestrator
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewInlineDispatcher ties every run to base rather than to the request
// that triggered it, so runs outlive their HTTP request and stop on shutdown.
func NewInlineDispatcher(base context.Context, o *Orchestrator, logger *zap.Logger) *InlineDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InlineDispatcher{base: base, o: o, logger: logger}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, documentID uint) error {
	if err := d.o.Accept(ctx, documentID); err != nil {
		return err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.o.Run(d.base, documentID); err != nil {
			d.logger.Debug("inline run ended with error", zap.Uint("document_id", documentID), zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every dispatched run has finished.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// JobPublisher hands pipeline jobs to a durable queue.
type JobPublisher interface {
	PublishJob(ctx context.Context, job model.PipelineJob) error
}

// QueueDispatcher publishes a job per document; a worker calls Run.
type QueueDispatcher struct {
	o         *Orchestrator
	publisher JobPublisher
}

func NewQueueDispatcher(o *Orchestrator, publisher JobPublisher) *QueueDispatcher {
	return &QueueDispatcher{o: o, publisher: publisher}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, documentID uint) error {
	if err := d.o.Accept(ctx, documentID); err != nil {
		return err
	}
	// The worker may live in another process; the shared status entry keeps
	// guarding the document once the local reservation is dropped.
	defer d.o.Abandon(documentID)

	job := model.PipelineJob{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		EnqueuedAt: time.Now(),
	}
	if err := d.publisher.PublishJob(ctx, job); err != nil {
		if delErr := d.o.status.Delete(ctx, documentID); delErr != nil {
			d.o.logger.Warn("clear status failed", zap.Uint("document_id", documentID), zap.Error(delErr))
		}
		return fmt.Errorf("enqueue pipeline job failed: %w", err)
	}
	return nil
}
