package model

import "time"

// PipelineJob asks a worker to run the document pipeline for one document.
// It travels over the message queue as JSON and is never stored.
type PipelineJob struct {
	ID         string    `json:"id"`
	DocumentID uint      `json:"document_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
