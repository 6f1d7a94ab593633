package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/findoc/internal/api/handler"
	"github.com/kiranshivaraju/findoc/internal/storage"
	"github.com/kiranshivaraju/findoc/internal/store"
	"github.com/kiranshivaraju/findoc/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- fakes ---

type fakeSubmitter struct {
	mu      sync.Mutex
	err     error
	fileRef string
	query   string
	content []byte
	files   storage.Store
}

func (f *fakeSubmitter) Submit(ctx context.Context, fileRef, query string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.fileRef, f.query = fileRef, query
	if f.files != nil {
		file, size, err := f.files.Open(ctx, fileRef)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		f.content = make([]byte, size)
		if _, err := file.ReadAt(f.content, 0); err != nil {
			return nil, err
		}
	}
	return &models.Job{ID: uuid.New(), FileRef: fileRef, Query: query, Status: models.JobStatusPending}, nil
}

type fakeLookup struct {
	job *models.Job
	err error
}

func (f *fakeLookup) Lookup(context.Context, string) (*models.Job, error) {
	return f.job, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

// --- helpers ---

type formPart struct {
	name, filename, content string
}

func multipartRequest(t *testing.T, parts ...formPart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		var (
			w   io.Writer
			err error
		)
		if p.filename != "" {
			w, err = mw.CreateFormFile(p.name, p.filename)
		} else {
			w, err = mw.CreateFormField(p.name)
		}
		require.NoError(t, err)
		_, err = w.Write([]byte(p.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func newLocalStore(t *testing.T) (*storage.LocalStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := storage.NewLocalStore(dir)
	require.NoError(t, err)
	return s, dir
}

func dirEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return entries
}

// ========================================
// Analyze
// ========================================

func TestAnalyze_Success(t *testing.T) {
	files, dir := newLocalStore(t)
	svc := &fakeSubmitter{files: files}
	h := handler.NewAnalyzeHandler(files, svc, 1<<20, zap.NewNop())

	req := multipartRequest(t,
		formPart{name: "file", filename: "q3-report.pdf", content: "%PDF-1.4 body"},
		formPart{name: "query", content: "What drove margin growth?"},
	)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "processing", body["status"])
	assert.Equal(t, "Analysis started in background", body["message"])
	assert.Equal(t, "q3-report.pdf", body["file_processed"])
	_, err := uuid.Parse(body["task_id"].(string))
	assert.NoError(t, err)

	assert.Equal(t, "What drove margin growth?", svc.query)
	assert.Equal(t, "%PDF-1.4 body", string(svc.content))
	assert.Regexp(t, `financial_document_[0-9a-f-]{36}\.pdf$`, svc.fileRef)
	assert.Len(t, dirEntries(t, dir), 1)
}

func TestAnalyze_QueryOptional(t *testing.T) {
	files, _ := newLocalStore(t)
	svc := &fakeSubmitter{}
	h := handler.NewAnalyzeHandler(files, svc, 1<<20, zap.NewNop())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, formPart{name: "file", filename: "a.pdf", content: "x"}))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, svc.query)
}

func TestAnalyze_QueryBeforeFile(t *testing.T) {
	files, _ := newLocalStore(t)
	svc := &fakeSubmitter{}
	h := handler.NewAnalyzeHandler(files, svc, 1<<20, zap.NewNop())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t,
		formPart{name: "query", content: "cash flow"},
		formPart{name: "file", filename: "a.pdf", content: "x"},
	))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cash flow", svc.query)
}

func TestAnalyze_MissingFile(t *testing.T) {
	files, dir := newLocalStore(t)
	svc := &fakeSubmitter{}
	h := handler.NewAnalyzeHandler(files, svc, 1<<20, zap.NewNop())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, formPart{name: "query", content: "anything"}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "file is required", body["message"])
	assert.Empty(t, svc.fileRef)
	assert.Empty(t, dirEntries(t, dir))
}

func TestAnalyze_NotMultipart(t *testing.T) {
	files, _ := newLocalStore(t)
	h := handler.NewAnalyzeHandler(files, &fakeSubmitter{}, 1<<20, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "error", decode(t, w)["status"])
}

func TestAnalyze_TooLarge(t *testing.T) {
	files, dir := newLocalStore(t)
	svc := &fakeSubmitter{}
	h := handler.NewAnalyzeHandler(files, svc, 1024, zap.NewNop())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, formPart{name: "file", filename: "big.pdf", content: strings.Repeat("A", 8192)}))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "error", decode(t, w)["status"])
	assert.Empty(t, svc.fileRef)
	assert.Empty(t, dirEntries(t, dir))
}

func TestAnalyze_SubmitFailureRemovesUpload(t *testing.T) {
	files, dir := newLocalStore(t)
	svc := &fakeSubmitter{err: errors.New("broker down")}
	h := handler.NewAnalyzeHandler(files, svc, 1<<20, zap.NewNop())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, formPart{name: "file", filename: "a.pdf", content: "x"}))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "error", body["status"])
	assert.NotEmpty(t, body["message"])
	assert.Empty(t, dirEntries(t, dir))
}

// failingSaveStore rejects every upload.
type failingSaveStore struct{ *storage.LocalStore }

func (failingSaveStore) Save(context.Context, io.Reader) (string, error) {
	return "", errors.New("disk full")
}

func TestAnalyze_StorageFailure(t *testing.T) {
	files, _ := newLocalStore(t)
	ro := failingSaveStore{LocalStore: files}
	svc := &fakeSubmitter{}
	h := handler.NewAnalyzeHandler(ro, svc, 1<<20, zap.NewNop())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, formPart{name: "file", filename: "a.pdf", content: "x"}))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "error", decode(t, w)["status"])
	assert.Empty(t, svc.fileRef)
}

// ========================================
// Result
// ========================================

func pollRouter(lookup handler.JobLookup) http.Handler {
	r := chi.NewRouter()
	r.Get("/result/{task_id}", handler.NewResultHandler(lookup, zap.NewNop()))
	return r
}

func strPtr(s string) *string { return &s }

func TestResult_States(t *testing.T) {
	tests := []struct {
		name string
		job  *models.Job
		want map[string]any
	}{
		{
			name: "pending",
			job:  &models.Job{Status: models.JobStatusPending},
			want: map[string]any{"status": "pending"},
		},
		{
			name: "running",
			job:  &models.Job{Status: models.JobStatusRunning},
			want: map[string]any{"status": "running"},
		},
		{
			name: "completed",
			job:  &models.Job{Status: models.JobStatusCompleted, Result: strPtr("1. Executive Summary")},
			want: map[string]any{"status": "completed", "result": "1. Executive Summary"},
		},
		{
			name: "failed",
			job:  &models.Job{Status: models.JobStatusFailed, ErrorMessage: strPtr("not a PDF")},
			want: map[string]any{"status": "failed", "error": "not a PDF"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			pollRouter(&fakeLookup{job: tt.job}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/result/"+uuid.NewString(), nil))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, decode(t, w))
		})
	}
}

func TestResult_NotFound(t *testing.T) {
	w := httptest.NewRecorder()
	pollRouter(&fakeLookup{err: store.ErrNotFound}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/result/nope", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decode(t, w)
	assert.Equal(t, "not_found", body["status"])
	assert.NotEmpty(t, body["message"])
}

func TestResult_BackendError(t *testing.T) {
	w := httptest.NewRecorder()
	pollRouter(&fakeLookup{err: errors.New("redis: connection refused")}).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/result/"+uuid.NewString(), nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "error", decode(t, w)["status"])
}

// ========================================
// Root and health
// ========================================

func TestRoot(t *testing.T) {
	w := httptest.NewRecorder()
	handler.NewRootHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"message": "Financial Document Analyzer API is running"}, decode(t, w))
}

func TestHealth_OK(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Pinger{
		"result_backend": fakePinger{},
		"broker":         fakePinger{},
	})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"result_backend": "ok", "broker": "ok"}, body["services"])
}

func TestHealth_Degraded(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Pinger{
		"result_backend": fakePinger{},
		"broker":         fakePinger{err: errors.New("dial tcp: refused")},
	})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"result_backend": "ok", "broker": "unavailable"}, body["services"])
}
