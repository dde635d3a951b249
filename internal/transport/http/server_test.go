package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	nethttp "net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appsvc "rfi-copilot/internal/app"
	"rfi-copilot/internal/chunk"
	"rfi-copilot/internal/embedding"
	"rfi-copilot/internal/extract"
	"rfi-copilot/internal/extract/extracttest"
	"rfi-copilot/internal/pipeline"
	"rfi-copilot/internal/pkg/jwtutil"
	"rfi-copilot/internal/platform/database/databasetest"
	"rfi-copilot/internal/questions"
	"rfi-copilot/internal/repository"
	"rfi-copilot/internal/scrape"
	"rfi-copilot/internal/transport/http/handler"
	"rfi-copilot/internal/transport/http/response"
)

type flatEmbedder struct{}

func (flatEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{1, float32(len(text) % 7)}, nil
}

type testServer struct {
	router     *gin.Engine
	dispatcher *pipeline.InlineDispatcher
}

func newTestServer(t *testing.T, auth bool, probes ...handler.Probe) *testServer {
	t.Helper()
	db := databasetest.New(t)
	docRepo := repository.NewDocumentRepository(db)
	status := pipeline.NewMemoryStatusStore(time.Hour)
	extractor := extract.New(extract.Options{TempDir: t.TempDir()})

	o, err := pipeline.NewOrchestrator(docRepo, extractor, questions.NewRuleClassifier(nil, 0), status, pipeline.Options{
		Chunker: chunk.Default(),
	})
	require.NoError(t, err)
	dispatcher := pipeline.NewInlineDispatcher(context.Background(), o, nil)

	intake := appsvc.IntakePolicy{MaxFileBytes: 1 << 20}
	index := embedding.NewIndex(flatEmbedder{}, repository.NewEmbeddingRepository(db), embedding.Options{Dimensions: 2})
	router := NewRouterWith(RouterOptions{
		GinMode:      gin.TestMode,
		AuthEnabled:  auth,
		JWTSecret:    "test-secret",
		MaxFileBytes: intake.MaxFileBytes,
		MaxFiles:     4,
		Documents:    appsvc.NewDocumentService(docRepo, status, dispatcher, intake, 4, nil),
		Questions:    appsvc.NewQuestionService(repository.NewQuestionRepository(db), docRepo),
		Contexts: appsvc.NewContextService(repository.NewContextRepository(db), index, extractor,
			scrape.New(scrape.Options{}), intake, nil),
		Health: handler.NewHealthHandler(handler.HealthInfo{App: "rfi-copilot", Env: "test", StartedAt: time.Now()}, probes...),
	})
	return &testServer{router: router, dispatcher: dispatcher}
}

func (s *testServer) do(t *testing.T, req *nethttp.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) response.APIResponse {
	t.Helper()
	var env struct {
		response.APIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env.APIResponse
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func uploadRequest(t *testing.T, name, contentType string, data []byte) *nethttp.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(nethttp.MethodPost, "/api/v1/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, uploadRequest(t, "rfi.docx", extract.MediaTypeDOCX,
		extracttest.DOCX(t, "Describe your incident response process.", "Do you support single sign-on?")))
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	var uploaded appsvc.UploadResult
	env := decode(t, rec, &uploaded)
	assert.Equal(t, response.CodeOK, env.Code)
	require.Len(t, uploaded.Documents, 1)
	id := uploaded.Documents[0].ID
	s.dispatcher.Wait()

	rec = s.do(t, httptest.NewRequest(nethttp.MethodGet, "/api/v1/documents/"+itoa(id)+"/status", nil))
	require.Equal(t, nethttp.StatusOK, rec.Code)
	var st pipeline.Status
	decode(t, rec, &st)
	assert.Equal(t, pipeline.StepComplete, st.Step)
	assert.Equal(t, 100, st.Progress)

	rec = s.do(t, httptest.NewRequest(nethttp.MethodGet, "/api/v1/documents/"+itoa(id)+"/questions", nil))
	require.Equal(t, nethttp.StatusOK, rec.Code)
	var list []struct {
		ID   uint   `json:"id"`
		Text string `json:"text"`
		Type string `json:"type"`
	}
	decode(t, rec, &list)
	require.Len(t, list, 2)
	assert.Equal(t, "implicit", list[0].Type)
	assert.Equal(t, "explicit", list[1].Type)

	update := strings.NewReader(`{"answer":"Yes, via SAML 2.0."}`)
	req := httptest.NewRequest(nethttp.MethodPut, "/api/v1/questions/"+itoa(list[1].ID), update)
	req.Header.Set("Content-Type", "application/json")
	rec = s.do(t, req)
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())

	req = httptest.NewRequest(nethttp.MethodPut, "/api/v1/questions/"+itoa(list[1].ID), strings.NewReader(`{"confidence":2}`))
	req.Header.Set("Content-Type", "application/json")
	rec = s.do(t, req)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)

	rec = s.do(t, httptest.NewRequest(nethttp.MethodGet, "/api/v1/documents/"+itoa(id)+"/export?format=csv", nil))
	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Body.String(), `"Yes, via SAML 2.0."`)

	rec = s.do(t, httptest.NewRequest(nethttp.MethodGet, "/api/v1/questions/export?format=xlsx", nil))
	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = s.do(t, httptest.NewRequest(nethttp.MethodGet, "/api/v1/questions/export?format=pdf", nil))
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)

	rec = s.do(t, httptest.NewRequest(nethttp.MethodDelete, "/api/v1/documents/"+itoa(id), nil))
	require.Equal(t, nethttp.StatusOK, rec.Code)
	rec = s.do(t, httptest.NewRequest(nethttp.MethodGet, "/api/v1/documents/"+itoa(id)+"/status", nil))
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)
	assert.Equal(t, response.CodeNotFound, decode(t, rec, nil).Code)
}

func TestUploadRejections(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, uploadRequest(t, "huge.pdf", extract.MediaTypePDF, make([]byte, (1<<20)+10)))
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec, nil).Message, "limit")

	rec = s.do(t, uploadRequest(t, "photo.png", "image/png", []byte("\x89PNG\r\n\x1a\n")))
	require.Equal(t, nethttp.StatusOK, rec.Code)
	var uploaded appsvc.UploadResult
	decode(t, rec, &uploaded)
	require.Len(t, uploaded.Documents, 1)
	assert.Equal(t, "error", uploaded.Documents[0].Status)

	id := itoa(uploaded.Documents[0].ID)
	rec = s.do(t, httptest.NewRequest(nethttp.MethodPost, "/api/v1/documents/"+id+"/reprocess", nil))
	assert.Equal(t, nethttp.StatusUnsupportedMediaType, rec.Code)

	rec = s.do(t, httptest.NewRequest(nethttp.MethodGet, "/api/v1/documents/abc", nil))
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
}

func TestContextsAndSearch(t *testing.T) {
	s := newTestServer(t, false)

	req := httptest.NewRequest(nethttp.MethodPost, "/api/v1/contexts",
		strings.NewReader(`{"title":"Policies","content":"Backups run nightly. Data is kept for 90 days."}`))
	req.Header.Set("Content-Type", "application/json")
	rec := s.do(t, req)
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	var created appsvc.ContextResult
	decode(t, rec, &created)
	assert.Equal(t, 2, created.Ingest.Answers)

	req = httptest.NewRequest(nethttp.MethodPost, "/api/v1/search", strings.NewReader(`{"query":"backups","target":"answers","limit":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec = s.do(t, req)
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	var matches []embedding.Match
	decode(t, rec, &matches)
	assert.Len(t, matches, 1)

	req = httptest.NewRequest(nethttp.MethodPost, "/api/v1/search", strings.NewReader(`{"query":"backups","target":"nowhere"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = s.do(t, req)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(nethttp.MethodPost, "/api/v1/contexts/url", strings.NewReader(`{"url":"ftp://example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = s.do(t, req)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)

	rec = s.do(t, httptest.NewRequest(nethttp.MethodDelete, "/api/v1/contexts/"+itoa(created.Entry.ID), nil))
	require.Equal(t, nethttp.StatusOK, rec.Code)
	rec = s.do(t, httptest.NewRequest(nethttp.MethodGet, "/api/v1/contexts/"+itoa(created.Entry.ID), nil))
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, true)

	rec := s.do(t, httptest.NewRequest(nethttp.MethodGet, "/api/v1/documents", nil))
	assert.Equal(t, nethttp.StatusUnauthorized, rec.Code)
	assert.Equal(t, response.CodeUnauthorized, decode(t, rec, nil).Code)

	token, err := jwtutil.GenerateToken("test-secret", "bid-team", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(nethttp.MethodGet, "/api/v1/documents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = s.do(t, req)
	assert.Equal(t, nethttp.StatusOK, rec.Code)

	wrong, err := jwtutil.GenerateToken("other-secret", "bid-team", time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(nethttp.MethodGet, "/api/v1/documents", nil)
	req.Header.Set("Authorization", "Bearer "+wrong)
	rec = s.do(t, req)
	assert.Equal(t, nethttp.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(nethttp.MethodGet, "/api/v1/documents", nil)
	req.Header.Set("Authorization", "Basic "+token)
	rec = s.do(t, req)
	assert.Equal(t, nethttp.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(nethttp.MethodGet, "/api/v1/documents", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rec = s.do(t, req)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	ok := handler.Probe{Name: "database", Check: func(context.Context) error { return nil }}
	s := newTestServer(t, false, ok)
	rec := s.do(t, httptest.NewRequest(nethttp.MethodGet, "/healthz", nil))
	assert.Equal(t, nethttp.StatusOK, rec.Code)

	down := handler.Probe{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }}
	s = newTestServer(t, false, ok, down)
	rec = s.do(t, httptest.NewRequest(nethttp.MethodGet, "/healthz", nil))
	assert.Equal(t, nethttp.StatusServiceUnavailable, rec.Code)
	var body struct {
		Dependencies map[string]struct {
			OK      bool   `json:"ok"`
			Message string `json:"message"`
		} `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Dependencies["database"].OK)
	assert.False(t, body.Dependencies["redis"].OK)
	assert.Equal(t, "connection refused", body.Dependencies["redis"].Message)
}
