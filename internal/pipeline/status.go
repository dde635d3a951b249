package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"rfi-copilot/internal/model"
)

// Step is a stage of the document pipeline.
type Step string

const (
	StepPreparation Step = "preparation"
	StepExtraction  Step = "extraction"
	StepQuestions   Step = "questions"
	StepAnalysis    Step = "analysis"
	StepComplete    Step = "complete"
	StepError       Step = "error"
)

var happyPath = []Step{StepPreparation, StepExtraction, StepQuestions, StepAnalysis, StepComplete}

// Progress is the milestone percentage of the step. The error state reports
// 100 so that progress never moves backwards when a run fails.
func (s Step) Progress() int {
	switch s {
	case StepPreparation:
		return 0
	case StepExtraction:
		return 25
	case StepQuestions:
		return 50
	case StepAnalysis:
		return 75
	case StepComplete, StepError:
		return 100
	}
	return 0
}

func (s Step) Terminal() bool {
	return s == StepComplete || s == StepError
}

// Status is the externally visible progress of one document.
type Status struct {
	DocumentID     uint      `json:"document_id"`
	Step           Step      `json:"step"`
	CompletedSteps []Step    `json:"completed_steps"`
	Progress       int       `json:"progress"`
	Error          string    `json:"error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newStatus(documentID uint) Status {
	return Status{
		DocumentID:     documentID,
		Step:           StepPreparation,
		CompletedSteps: []Step{},
		Progress:       StepPreparation.Progress(),
		UpdatedAt:      time.Now(),
	}
}

// advance moves to next, recording the current step as completed. Progress
// never decreases.
func (s Status) advance(next Step) Status {
	out := s.clone()
	if next != StepError {
		out.CompletedSteps = append(out.CompletedSteps, s.Step)
		if next == StepComplete {
			out.CompletedSteps = append(out.CompletedSteps, StepComplete)
		}
	}
	out.Step = next
	if p := next.Progress(); p > out.Progress {
		out.Progress = p
	}
	out.UpdatedAt = time.Now()
	return out
}

func (s Status) clone() Status {
	out := s
	out.CompletedSteps = append([]Step(nil), s.CompletedSteps...)
	return out
}

// StatusFromDocument derives a best-effort status from the durable document
// record when no live status exists, for example after a restart.
func StatusFromDocument(doc *model.Document) Status {
	st := Status{DocumentID: doc.ID, CompletedSteps: []Step{}, UpdatedAt: doc.UpdatedAt}
	switch doc.Status {
	case model.DocumentStatusProcessed:
		st.Step = StepComplete
		st.CompletedSteps = append(st.CompletedSteps, happyPath...)
		st.Progress = 100
	case model.DocumentStatusError:
		st.Step = StepError
		st.Progress = StepError.Progress()
		st.Error = doc.ErrorMessage()
		if st.Error == "" {
			st.Error = "processing failed"
		}
	default:
		st.Step = StepPreparation
		st.Progress = 0
	}
	return st
}

// StatusStore holds the live status of in-flight documents. Each pipeline
// run writes only its own document's key.
type StatusStore interface {
	Get(ctx context.Context, documentID uint) (*Status, error)
	Set(ctx context.Context, status Status) error
	Delete(ctx context.Context, documentID uint) error
}

// MemoryStatusStore keeps statuses in process memory. In-flight entries never
// expire; terminal ones are dropped after the configured TTL.
type MemoryStatusStore struct {
	cache       *cache.Cache
	terminalTTL time.Duration
}

func NewMemoryStatusStore(terminalTTL time.Duration) *MemoryStatusStore {
	if terminalTTL <= 0 {
		terminalTTL = time.Hour
	}
	return &MemoryStatusStore{
		cache:       cache.New(terminalTTL, 10*time.Minute),
		terminalTTL: terminalTTL,
	}
}

func (s *MemoryStatusStore) Get(_ context.Context, documentID uint) (*Status, error) {
	if x, found := s.cache.Get(key(documentID)); found {
		st := x.(Status).clone()
		return &st, nil
	}
	return nil, nil
}

func (s *MemoryStatusStore) Set(_ context.Context, status Status) error {
	ttl := cache.NoExpiration
	if status.Step.Terminal() {
		ttl = s.terminalTTL
	}
	s.cache.Set(key(status.DocumentID), status.clone(), ttl)
	return nil
}

func (s *MemoryStatusStore) Delete(_ context.Context, documentID uint) error {
	s.cache.Delete(key(documentID))
	return nil
}

func key(documentID uint) string {
	return strconv.FormatUint(uint64(documentID), 10)
}
