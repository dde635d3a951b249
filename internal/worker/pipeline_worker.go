package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"rfi-copilot/internal/model"
	"rfi-copilot/internal/pipeline"
	"rfi-copilot/internal/platform/rabbitmq"
)

// Runner runs the pipeline for one document.
type Runner interface {
	Run(ctx context.Context, documentID uint) error
}

// PipelineWorker consumes pipeline jobs and runs up to prefetch documents at
// once.
type PipelineWorker struct {
	conn      *amqp.Connection
	runner    Runner
	queueName string
	prefetch  int
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPipelineWorker(conn *amqp.Connection, runner Runner, queueName string, prefetch int, logger *zap.Logger) *PipelineWorker {
	if prefetch <= 0 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineWorker{
		conn:      conn,
		runner:    runner,
		queueName: queueName,
		prefetch:  prefetch,
		logger:    logger,
	}
}

func (w *PipelineWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if err := rabbitmq.DeclareJobQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}

	if err := ch.Qos(w.prefetch, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker prefetch failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		var jobs sync.WaitGroup
		defer jobs.Wait()
		slots := make(chan struct{}, w.prefetch)

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				slots <- struct{}{}
				jobs.Add(1)
				go func() {
					defer jobs.Done()
					defer func() { <-slots }()
					w.handle(workerCtx, d)
				}()
			}
		}
	}()

	return nil
}

func (w *PipelineWorker) handle(ctx context.Context, d amqp.Delivery) {
	job, err := decodeJob(d.Body)
	if err != nil {
		w.logger.Warn("worker decode job failed", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	logger := w.logger.With(zap.String("job_id", job.ID), zap.Uint("document_id", job.DocumentID))
	err = w.runner.Run(ctx, job.DocumentID)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		logger.Info("duplicate job dropped")
		_ = d.Ack(false)
	case ctx.Err() != nil:
		// Shutting down; let another consumer retry the document.
		logger.Info("job interrupted, requeueing")
		_ = d.Nack(false, true)
	default:
		// The failure is already recorded on the document.
		_ = d.Ack(false)
	}
}

func decodeJob(body []byte) (model.PipelineJob, error) {
	var job model.PipelineJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("unmarshal pipeline job failed: %w", err)
	}
	if job.DocumentID == 0 {
		return job, errors.New("pipeline job has no document id")
	}
	return job, nil
}

func (w *PipelineWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
