package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/pdf-alttext/api/handlers"
	"github.com/feichai0017/pdf-alttext/internal/models"
	"github.com/feichai0017/pdf-alttext/internal/progress"
	"github.com/feichai0017/pdf-alttext/internal/service/pipeline"
	"github.com/feichai0017/pdf-alttext/internal/utils/validator"
	"github.com/feichai0017/pdf-alttext/internal/workspace"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
	"github.com/feichai0017/pdf-alttext/pkg/queue"
)

const sid = "abc12345"

type fakeService struct {
	dir       string
	uploaded  string
	scheduled []string
	altReq    []string
	altLang   string
	flipped   string
	removed   string
	events    []pipeline.ProgressEvent
	alts      []progress.Alt
}

func (f *fakeService) CreateSession(_ context.Context, filename string, size int64, r io.Reader) (*models.Session, error) {
	v := validator.NewDocumentValidator(logger.NewNop(), nil)
	body, err := v.Validate(filename, size, r)
	if err != nil {
		return nil, err
	}
	data, _ := io.ReadAll(body)
	f.uploaded = string(data)
	return &models.Session{ID: sid, Filename: filename, FileSize: int64(len(data)), CreatedAt: time.Unix(0, 0).UTC()}, nil
}

func (f *fakeService) ScheduleExtraction(_ context.Context, id string) (string, error) {
	f.scheduled = append(f.scheduled, id)
	return "task-1", nil
}

func (f *fakeService) ScheduleAltText(_ context.Context, id string, images []string, lang string) (string, error) {
	if id != sid {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidSession, id)
	}
	if len(images) == 0 {
		return "", fmt.Errorf("%w: no images provided", models.ErrInvalidRequest)
	}
	f.altReq, f.altLang = images, lang
	return "task-2", nil
}

func (f *fakeService) HandleExtraction(context.Context, string) error { return nil }

func (f *fakeService) HandleAltText(context.Context, string, []string, string) error { return nil }

func (f *fakeService) check(id string) error {
	if id != sid {
		return fmt.Errorf("%w: %q", models.ErrInvalidSession, id)
	}
	return nil
}

func (f *fakeService) ExtractionEvents(_ context.Context, id string) (<-chan pipeline.ProgressEvent, error) {
	if err := f.check(id); err != nil {
		return nil, err
	}
	ch := make(chan pipeline.ProgressEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeService) AltTextEvents(_ context.Context, id string) (<-chan progress.Alt, error) {
	if err := f.check(id); err != nil {
		return nil, err
	}
	ch := make(chan progress.Alt, len(f.alts))
	for _, a := range f.alts {
		ch <- a
	}
	close(ch)
	return ch, nil
}

func (f *fakeService) ListImages(id string) ([]string, error) {
	if err := f.check(id); err != nil {
		return nil, err
	}
	return []string{"Extracted_Image_1.png"}, nil
}

func (f *fakeService) ImagePath(id, name string) (string, error) {
	if err := f.check(id); err != nil {
		return "", err
	}
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidPath, name)
	}
	p := filepath.Join(f.dir, name)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("image %q: %w", name, fs.ErrNotExist)
	}
	return p, nil
}

func (f *fakeService) FlipImage(id, name, direction string) error {
	if direction != "horizontal" && direction != "vertical" {
		return fmt.Errorf("%w: unsupported flip direction %q", models.ErrInvalidRequest, direction)
	}
	f.flipped = name + ":" + direction
	return nil
}

func (f *fakeService) Artifact(_ context.Context, id, lang string, kind pipeline.ArtifactKind) (string, error) {
	if err := f.check(id); err != nil {
		return "", err
	}
	var name string
	switch kind {
	case pipeline.ArtifactDocument:
		name = fmt.Sprintf("alt_text_results_%s_%s.docx", id, lang)
	case pipeline.ArtifactResults:
		name = fmt.Sprintf("alt_text_results_%s_%s.json", id, lang)
	case pipeline.ArtifactPanel:
		name = fmt.Sprintf("copy_panel_%s.html", id)
	}
	p := filepath.Join(f.dir, name)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: %s", models.ErrArtifactNotReady, name)
	}
	return p, nil
}

func (f *fakeService) JobStatus(_ context.Context, taskID string) (*queue.TaskStatus, error) {
	if taskID != "task-1" {
		return nil, fmt.Errorf("failed to get task status: %w", queue.ErrTaskNotFound)
	}
	return &queue.TaskStatus{TaskID: taskID, Status: "running", SessionID: sid}, nil
}

func (f *fakeService) Remove(_ context.Context, id string) error {
	if err := f.check(id); err != nil {
		return err
	}
	f.removed = id
	return nil
}

func (f *fakeService) Reap(context.Context) ([]string, error) { return nil, nil }

func newRouter(t *testing.T) (*gin.Engine, *fakeService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := &fakeService{dir: t.TempDir()}
	r := gin.New()
	SetupRoutes(r, handlers.NewHandlers(svc, logger.NewNop()), []string{"*"}, logger.NewNop())
	return r, svc
}

func do(r http.Handler, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	r, _ := newRouter(t)
	w := do(r, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestUpload(t *testing.T) {
	r, svc := newRouter(t)
	body, ct := multipartBody(t, "pdf_file", "report.pdf", "%PDF-1.7 body")

	w := do(r, http.MethodPost, "/api/v1/sessions", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decode(t, w)
	assert.Equal(t, sid, out["session_id"])
	assert.Equal(t, "task-1", out["task_id"])
	assert.Equal(t, "%PDF-1.7 body", svc.uploaded)
	assert.Equal(t, []string{sid}, svc.scheduled)
}

func TestUploadRejected(t *testing.T) {
	r, svc := newRouter(t)

	tests := []struct {
		name     string
		field    string
		filename string
		content  string
		code     int
	}{
		{"missing field", "file", "report.pdf", "%PDF-1.7", http.StatusBadRequest},
		{"wrong extension", "pdf_file", "report.docx", "%PDF-1.7", http.StatusBadRequest},
		{"not a pdf", "pdf_file", "report.pdf", "GIF89a", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.field, tt.filename, tt.content)
			w := do(r, http.MethodPost, "/api/v1/sessions", body, ct)
			assert.Equal(t, tt.code, w.Code)

			out := decode(t, w)
			assert.NotEmpty(t, out["message"])
			assert.NotEmpty(t, out["error"])
		})
	}
	assert.Empty(t, svc.scheduled)
}

func TestProgressStream(t *testing.T) {
	r, svc := newRouter(t)
	svc.events = []pipeline.ProgressEvent{
		{Percent: 0, Status: "Queued…"},
		{Percent: 0, Status: "Scanning PDF for images..."},
		{Percent: 40, Status: "Scanning PDF for images..."},
		{Percent: -1, Status: "Error", Error: "extractor failed: boom"},
	}

	w := do(r, http.MethodGet, "/api/v1/sessions/"+sid+"/progress", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	body := w.Body.String()
	assert.Equal(t, 1, strings.Count(body, "data:Scanning PDF for images..."), "status sent once per change")
	assert.Contains(t, body, "data:40\n")
	assert.Contains(t, body, "event:error\ndata:extractor failed: boom\n")
	assert.Less(t, strings.Index(body, "data:Queued…"), strings.Index(body, "data:0\n"))
}

func TestProgressUnknownSession(t *testing.T) {
	r, _ := newRouter(t)
	w := do(r, http.MethodGet, "/api/v1/sessions/nope0000/progress", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAltTextFlow(t *testing.T) {
	r, svc := newRouter(t)

	w := do(r, http.MethodPost, "/api/v1/alt-text",
		strings.NewReader(`{"session_id":"`+sid+`","images":["b.png","a.png"],"lang":"es"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "started", decode(t, w)["status"])
	assert.Equal(t, []string{"b.png", "a.png"}, svc.altReq)
	assert.Equal(t, "es", svc.altLang)

	w = do(r, http.MethodPost, "/api/v1/alt-text", strings.NewReader(`{"session_id":"`+sid+`","images":[]}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/alt-text", strings.NewReader(`{"images":["a.png"]}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.alts = []progress.Alt{{Percent: 0, Done: 0, Total: 2}, {Percent: 50, Done: 1, Total: 2}, {Percent: 100, Done: 2, Total: 2}}
	w = do(r, http.MethodGet, "/api/v1/sessions/"+sid+"/alt-text/progress", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "data:0|0|2\n\ndata:50|1|2\n\ndata:100|2|2\n\n", w.Body.String())
}

func TestAltTextLanguageStaysInSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	sessions, err := workspace.NewManager(root)
	require.NoError(t, err)
	pool := queue.NewPool(1, queue.NewMemoryStatusStore(time.Minute), logger.NewNop())
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	svc := pipeline.NewService(pipeline.Deps{
		Sessions: sessions,
		Tracker:  progress.NewTracker(),
		Queue:    pool,
	}, logger.NewNop(), &pipeline.ServiceConfig{ArtifactPolls: 1, ArtifactInterval: time.Millisecond})
	r := gin.New()
	SetupRoutes(r, handlers.NewHandlers(svc, logger.NewNop()), []string{"*"}, logger.NewNop())

	pdf := "%PDF-1.4\n%%EOF\n"
	sess, err := svc.CreateSession(context.Background(), "doc.pdf", int64(len(pdf)), strings.NewReader(pdf))
	require.NoError(t, err)

	marker := filepath.Join(root, "escaped.txt")
	require.NoError(t, os.WriteFile(marker, []byte("keep"), 0o644))

	for _, lang := range []string{"x/../../../escaped", "../escaped", `en\..\..`} {
		body := fmt.Sprintf(`{"session_id":%q,"images":["a.png"],"lang":%q}`, sess.ID, lang)
		w := do(r, http.MethodPost, "/api/v1/alt-text", strings.NewReader(body), "application/json")
		assert.Equal(t, http.StatusBadRequest, w.Code, lang)
	}
	assert.FileExists(t, marker)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{sess.ID, "escaped.txt"}, names)

	w := do(r, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/alt-text/..%5C..%5Cescaped/document", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/alt-text",
		strings.NewReader(`{"session_id":"`+sess.ID+`","images":["a.png"],"lang":"pt-BR"}`), "application/json")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestArtifacts(t *testing.T) {
	r, svc := newRouter(t)

	w := do(r, http.MethodGet, "/api/v1/sessions/"+sid+"/alt-text/en/document", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Artifact not ready", decode(t, w)["message"])

	docName := "alt_text_results_" + sid + "_en.docx"
	require.NoError(t, os.WriteFile(filepath.Join(svc.dir, docName), []byte("docx"), 0o644))
	w = do(r, http.MethodGet, "/api/v1/sessions/"+sid+"/alt-text/en/document", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), docName)
	assert.Equal(t, "docx", w.Body.String())

	require.NoError(t, os.WriteFile(filepath.Join(svc.dir, "copy_panel_"+sid+".html"), []byte("<html></html>"), 0o644))
	w = do(r, http.MethodGet, "/api/v1/sessions/"+sid+"/copy-panel", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	require.NoError(t, os.WriteFile(filepath.Join(svc.dir, "alt_text_results_"+sid+"_es.json"), []byte(`{"status":"completed"}`), 0o644))
	w = do(r, http.MethodGet, "/api/v1/sessions/"+sid+"/alt-text/es/results", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"completed"}`, w.Body.String())
}

func TestImages(t *testing.T) {
	r, svc := newRouter(t)

	w := do(r, http.MethodGet, "/api/v1/sessions/"+sid+"/images", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"images":["Extracted_Image_1.png"]}`, w.Body.String())

	w = do(r, http.MethodGet, "/api/v1/sessions/"+sid+"/images/missing.png", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/v1/sessions/"+sid+"/images/..secret", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, os.WriteFile(filepath.Join(svc.dir, "a.png"), []byte("png"), 0o644))
	w = do(r, http.MethodGet, "/api/v1/sessions/"+sid+"/images/a.png", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png", w.Body.String())

	w = do(r, http.MethodPost, "/api/v1/sessions/"+sid+"/images/a.png/flip", strings.NewReader(`{"direction":"vertical"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a.png:vertical", svc.flipped)

	w = do(r, http.MethodPost, "/api/v1/sessions/"+sid+"/images/a.png/flip", strings.NewReader(`{"direction":"sideways"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobsAndDelete(t *testing.T) {
	r, svc := newRouter(t)

	w := do(r, http.MethodGet, "/api/v1/jobs/task-1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", decode(t, w)["status"])

	w = do(r, http.MethodGet, "/api/v1/jobs/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodDelete, "/api/v1/sessions/"+sid, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, sid, svc.removed)

	w = do(r, http.MethodDelete, "/api/v1/sessions/nope0000", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	r, _ := newRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/alt-text", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
