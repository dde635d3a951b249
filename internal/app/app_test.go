package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"rfi-copilot/internal/chunk"
	"rfi-copilot/internal/embedding"
	"rfi-copilot/internal/extract"
	"rfi-copilot/internal/extract/extracttest"
	"rfi-copilot/internal/model"
	"rfi-copilot/internal/pipeline"
	"rfi-copilot/internal/platform/database/databasetest"
	"rfi-copilot/internal/questions"
	"rfi-copilot/internal/repository"
	"rfi-copilot/internal/scrape"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []uint
	err error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, id uint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, id)
	return nil
}

// topicEmbedder maps text onto fixed topic axes so rankings are predictable.
type topicEmbedder struct{}

func (topicEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	vec := []float32{0.01, 0.01, 0.01}
	for i, kw := range []string{"retention", "soc", "encrypt"} {
		if strings.Contains(lower, kw) {
			vec[i] += 1
		}
	}
	return vec, nil
}

type services struct {
	docs      *DocumentService
	contexts  *ContextService
	questions *QuestionService
	docRepo   *repository.DocumentRepository
	qRepo     *repository.QuestionRepository
	status    *pipeline.MemoryStatusStore
	embedRepo *repository.EmbeddingRepository
}

func newServices(t *testing.T, dispatcher pipeline.Dispatcher) *services {
	t.Helper()
	db := databasetest.New(t)
	logger := zaptest.NewLogger(t)
	s := &services{
		docRepo:   repository.NewDocumentRepository(db),
		qRepo:     repository.NewQuestionRepository(db),
		status:    pipeline.NewMemoryStatusStore(time.Hour),
		embedRepo: repository.NewEmbeddingRepository(db),
	}
	intake := IntakePolicy{MaxFileBytes: 64 << 10}
	index := embedding.NewIndex(topicEmbedder{}, s.embedRepo, embedding.Options{Dimensions: 3, Logger: logger})
	s.docs = NewDocumentService(s.docRepo, s.status, dispatcher, intake, 5, logger)
	s.contexts = NewContextService(
		repository.NewContextRepository(db),
		index,
		extract.New(extract.Options{TempDir: t.TempDir()}),
		scrape.New(scrape.Options{Timeout: time.Second, MinSnippetLength: 10}),
		intake,
		logger,
	)
	s.questions = NewQuestionService(s.qRepo, s.docRepo)
	return s
}

func TestIntakePolicy_Admit(t *testing.T) {
	p := IntakePolicy{MaxFileBytes: 1024}
	docx := extracttest.DOCX(t, "What is your SLA?")

	tests := []struct {
		name    string
		file    UploadFile
		want    string
		wantErr error
	}{
		{"declared type kept", UploadFile{Name: "a.docx", ContentType: extract.MediaTypeDOCX + "; charset=binary", Data: docx}, extract.MediaTypeDOCX, nil},
		{"generic type sniffed", UploadFile{Name: "scan", ContentType: "application/octet-stream", Data: []byte("%PDF-1.4\n%âãÏÓ\n")}, extract.MediaTypePDF, nil},
		{"missing type from content or extension", UploadFile{Name: "rfi.docx", Data: docx}, extract.MediaTypeDOCX, nil},
		{"unsupported declared type passes through", UploadFile{Name: "a.png", ContentType: "image/png", Data: []byte("\x89PNG")}, "image/png", nil},
		{"unknown bytes", UploadFile{Name: "notes", Data: []byte("hello")}, "application/octet-stream", nil},
		{"too large", UploadFile{Name: "big.pdf", ContentType: extract.MediaTypePDF, Data: make([]byte, 2048)}, "", ErrFileTooLarge},
		{"empty", UploadFile{Name: "empty.pdf", ContentType: extract.MediaTypePDF}, "", ErrInvalidInput},
		{"nameless", UploadFile{Data: []byte("x")}, "", ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Admit(tt.file)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDocumentService_Upload(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	s := newServices(t, dispatcher)
	ctx := context.Background()
	docxData := extracttest.DOCX(t, "What is your SLA?")

	res, err := s.docs.Upload(ctx, []UploadFile{
		{Name: "rfi.docx", ContentType: extract.MediaTypeDOCX, Data: docxData},
		{Name: "diagram.png", ContentType: "image/png", Data: []byte("\x89PNG\r\n\x1a\n")},
		{Name: "huge.pdf", ContentType: extract.MediaTypePDF, Data: make([]byte, 65<<10)},
	})
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "huge.pdf", res.Rejected[0].Name)

	docx, png := res.Documents[0], res.Documents[1]
	assert.Equal(t, model.DocumentStatusProcessing, docx.Status)
	assert.Equal(t, []uint{docx.ID}, dispatcher.ids)

	assert.Equal(t, model.DocumentStatusError, png.Status)
	st, err := s.docs.Status(ctx, png.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StepError, st.Step)
	assert.Equal(t, 100, st.Progress)
	assert.Contains(t, st.Error, "image/png")

	st, err = s.docs.Status(ctx, docx.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StepPreparation, st.Step)

	_, err = s.docs.Status(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err := s.docs.Get(ctx, docx.ID)
	require.NoError(t, err)
	payload, err := stored.Payload()
	require.NoError(t, err)
	assert.Equal(t, docxData, payload)

	assert.ErrorIs(t, s.docs.Reprocess(ctx, png.ID), extract.ErrUnsupportedFormat)
	require.NoError(t, s.docs.Reprocess(ctx, docx.ID))
	assert.Equal(t, []uint{docx.ID, docx.ID}, dispatcher.ids)
}

func TestDocumentService_UploadLimits(t *testing.T) {
	s := newServices(t, &recordingDispatcher{})
	ctx := context.Background()

	_, err := s.docs.Upload(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	many := make([]UploadFile, 6)
	_, err = s.docs.Upload(ctx, many)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDocumentService_DispatchFailure(t *testing.T) {
	s := newServices(t, &recordingDispatcher{err: errors.New("broker unavailable")})
	ctx := context.Background()

	res, err := s.docs.Upload(ctx, []UploadFile{{Name: "rfi.pdf", ContentType: extract.MediaTypePDF, Data: []byte("%PDF-1.4")}})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, model.DocumentStatusError, res.Documents[0].Status)

	doc, err := s.docs.Get(ctx, res.Documents[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusError, doc.Status)
	assert.Contains(t, doc.ErrorMessage(), "broker unavailable")
}

func TestDocumentService_Delete(t *testing.T) {
	s := newServices(t, &recordingDispatcher{})
	ctx := context.Background()

	res, err := s.docs.Upload(ctx, []UploadFile{{Name: "rfi.docx", ContentType: extract.MediaTypeDOCX, Data: extracttest.DOCX(t, "What is your SLA?")}})
	require.NoError(t, err)
	id := res.Documents[0].ID
	require.NoError(t, s.status.Set(ctx, pipeline.Status{DocumentID: id, Step: pipeline.StepQuestions, Progress: 50}))

	require.NoError(t, s.docs.Delete(ctx, id))
	st, err := s.status.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, st)

	assert.ErrorIs(t, s.docs.Delete(ctx, id), ErrNotFound)
	_, err = s.docs.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.docs.Reprocess(ctx, id), ErrNotFound)
	assert.ErrorIs(t, s.docs.Delete(ctx, 0), ErrInvalidInput)
}

func TestEndToEnd_UploadProcessExport(t *testing.T) {
	db := databasetest.New(t)
	logger := zaptest.NewLogger(t)
	docRepo := repository.NewDocumentRepository(db)
	status := pipeline.NewMemoryStatusStore(time.Hour)
	o, err := pipeline.NewOrchestrator(docRepo, extract.New(extract.Options{TempDir: t.TempDir()}), questions.NewRuleClassifier(nil, 0), status, pipeline.Options{
		Chunker: chunk.Default(),
		Logger:  logger,
	})
	require.NoError(t, err)
	dispatcher := pipeline.NewInlineDispatcher(context.Background(), o, logger)

	docs := NewDocumentService(docRepo, status, dispatcher, IntakePolicy{MaxFileBytes: 10 << 20}, 10, logger)
	qs := NewQuestionService(repository.NewQuestionRepository(db), docRepo)
	ctx := context.Background()

	res, err := docs.Upload(ctx, []UploadFile{{
		Name:        "rfi.docx",
		ContentType: extract.MediaTypeDOCX,
		Data:        extracttest.DOCX(t, "What is your data retention policy? Vendor must provide SOC 2 certification."),
	}})
	require.NoError(t, err)
	id := res.Documents[0].ID
	dispatcher.Wait()

	st, err := docs.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StepComplete, st.Step)

	list, err := qs.List(ctx, id)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, model.QuestionTypeExplicit, list[0].Type)
	assert.Equal(t, model.QuestionTypeImplicit, list[1].Type)

	var buf bytes.Buffer
	require.NoError(t, qs.Export(ctx, &buf, id, FormatCSV))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `"Question","Type","Confidence","Answer","Source Document"`, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], `"What is your data retention policy?","explicit","90.0%"`), lines[1])

	assert.ErrorIs(t, qs.Export(ctx, &buf, id, "pdf"), ErrInvalidInput)
	_, err = qs.List(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQuestionService_Update(t *testing.T) {
	s := newServices(t, &recordingDispatcher{})
	ctx := context.Background()

	doc := &model.Document{Name: "rfi.docx", ContentType: extract.MediaTypeDOCX, Content: "AA==", Status: model.DocumentStatusProcessing}
	require.NoError(t, s.docRepo.Create(ctx, doc))
	require.NoError(t, s.docRepo.CompleteWithQuestions(ctx, doc.ID, []model.Question{
		{Text: "What is your SLA?", Type: model.QuestionTypeExplicit, Confidence: 0.7, Answer: "TBD", SourceDocument: "rfi.docx"},
	}, nil))
	list, err := s.questions.List(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	id := list[0].ID

	answer := "99.95% monthly uptime."
	confidence := 1.0
	q, err := s.questions.Update(ctx, id, UpdateQuestionInput{Answer: &answer, Confidence: &confidence})
	require.NoError(t, err)
	assert.Equal(t, answer, q.Answer)
	assert.Equal(t, "What is your SLA?", q.Text)

	got, err := s.questions.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, answer, got.Answer)
	assert.Equal(t, 1.0, got.Confidence)
	assert.Equal(t, true, got.Metadata["edited"])

	tooHigh := 1.5
	_, err = s.questions.Update(ctx, id, UpdateQuestionInput{Confidence: &tooHigh})
	assert.ErrorIs(t, err, ErrInvalidInput)

	badType := "mandatory"
	_, err = s.questions.Update(ctx, id, UpdateQuestionInput{Type: &badType})
	assert.ErrorIs(t, err, ErrInvalidInput)

	blank := "  "
	_, err = s.questions.Update(ctx, id, UpdateQuestionInput{Text: &blank})
	assert.ErrorIs(t, err, ErrInvalidInput)

	implicit := " Implicit "
	q, err = s.questions.Update(ctx, id, UpdateQuestionInput{Type: &implicit})
	require.NoError(t, err)
	assert.Equal(t, model.QuestionTypeImplicit, q.Type)

	_, err = s.questions.Update(ctx, 999, UpdateQuestionInput{Answer: &answer})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.questions.Delete(ctx, id))
	assert.ErrorIs(t, s.questions.Delete(ctx, id), ErrNotFound)
}

func TestContextService_CreateSearchDelete(t *testing.T) {
	s := newServices(t, &recordingDispatcher{})
	ctx := context.Background()

	res, err := s.contexts.Create(ctx, CreateContextInput{
		Title:   "Security FAQ",
		Content: "How long do you keep data? Our retention period is 90 days. We hold a SOC 2 Type II report.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ContextSourceKnowledgeBase, res.Entry.SourceType)
	assert.Equal(t, 1, res.Ingest.Questions)
	assert.Equal(t, 2, res.Ingest.Answers)
	assert.Zero(t, res.Ingest.Failed)

	matches, err := s.contexts.Search(ctx, SearchInput{Query: "data retention", Target: "answers", Limit: 1})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Our retention period is 90 days.", matches[0].Text)

	_, err = s.contexts.Search(ctx, SearchInput{Query: "x", Target: "everything"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.contexts.Search(ctx, SearchInput{Query: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	reindexed, err := s.contexts.Reindex(ctx, res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reindexed.Ingest.Answers)
	require.NotNil(t, reindexed.Stored)
	assert.EqualValues(t, 2, reindexed.Stored.Answers)
	assert.Zero(t, reindexed.Stored.Questions)
	count, err := s.embedRepo.CountByContextID(ctx, model.CorpusAnswers, res.Entry.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	require.NoError(t, s.contexts.Delete(ctx, res.Entry.ID))
	count, err = s.embedRepo.CountByContextID(ctx, model.CorpusAnswers, res.Entry.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.ErrorIs(t, s.contexts.Delete(ctx, res.Entry.ID), ErrNotFound)
	_, err = s.contexts.Get(ctx, res.Entry.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.contexts.Create(ctx, CreateContextInput{Title: "", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.contexts.Create(ctx, CreateContextInput{Title: "t", Content: "x", SourceType: "wiki"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestContextService_FromDocumentAndURL(t *testing.T) {
	s := newServices(t, &recordingDispatcher{})
	ctx := context.Background()

	fromDoc, err := s.contexts.CreateFromDocument(ctx, UploadFile{
		Name:        "policies.xlsx",
		ContentType: extract.MediaTypeXLSX,
		Data: extracttest.XLSX(t, extracttest.Sheet{Name: "Security", Rows: [][]interface{}{
			{"Control", "Answer"},
			{"Encryption", "All data is encrypted at rest."},
		}}),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "policies.xlsx", fromDoc.Entry.Title)
	assert.Equal(t, model.ContextSourceDocument, fromDoc.Entry.SourceType)
	assert.Contains(t, fromDoc.Entry.Content, "Sheet: Security")
	assert.Contains(t, fromDoc.Entry.Content, "All data is encrypted at rest.")

	_, err = s.contexts.CreateFromDocument(ctx, UploadFile{Name: "broken.docx", ContentType: extract.MediaTypeDOCX, Data: []byte("nope")}, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trust" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Trust Center</title></head><body>
			<nav><p>Skip this navigation text entirely.</p></nav>
			<p>We encrypt backups with AES-256.</p>
			<p>Is there a data retention policy?</p></body></html>`))
	}))
	defer srv.Close()

	fromURL, err := s.contexts.CreateFromURL(ctx, srv.URL+"/trust")
	require.NoError(t, err)
	assert.Equal(t, "Trust Center", fromURL.Entry.Title)
	assert.Equal(t, model.ContextSourceWebsite, fromURL.Entry.SourceType)
	assert.Equal(t, srv.URL+"/trust", fromURL.Entry.Metadata["url"])
	assert.NotContains(t, fromURL.Entry.Content, "navigation")
	assert.Equal(t, 1, fromURL.Ingest.Questions)
	assert.Equal(t, 1, fromURL.Ingest.Answers)

	_, err = s.contexts.CreateFromURL(ctx, srv.URL+"/missing")
	assert.ErrorIs(t, err, ErrFetchFailed)
	_, err = s.contexts.CreateFromURL(ctx, "mailto:someone@example.com")
	assert.ErrorIs(t, err, ErrInvalidInput)

	list, err := s.contexts.List(ctx, model.ContextSourceWebsite)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, fromURL.Entry.ID, list[0].ID)
}
