package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/filmyai/filmy/internal/db"
	"github.com/filmyai/filmy/internal/editor"
	"github.com/filmyai/filmy/internal/instruction"
	"github.com/filmyai/filmy/internal/status"
	"github.com/filmyai/filmy/internal/storage"
	"github.com/filmyai/filmy/internal/studio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubEditor writes a small marker file instead of running ffmpeg.
type stubEditor struct {
	mu       sync.Mutex
	fail     bool
	commands []instruction.Command
}

func (e *stubEditor) Edit(ctx context.Context, src, out string, cmd instruction.Command) editor.Result {
	e.mu.Lock()
	e.commands = append(e.commands, cmd)
	fail := e.fail
	e.mu.Unlock()

	if fail {
		return editor.Result{Status: editor.StatusError, Message: "encoder exited with code 1"}
	}
	if err := os.WriteFile(out, []byte("0123456789"), 0644); err != nil {
		return editor.Result{Status: editor.StatusError, Message: err.Error()}
	}
	return editor.Result{Status: editor.StatusSuccess, OutputPath: out, Applied: []string{"render"}, Duration: 5}
}

func (e *stubEditor) Probe(ctx context.Context, path string) (*editor.ProbeResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &editor.ProbeResult{Duration: 5, Width: 640, Height: 360, Codec: "h264", FrameRate: 30, SizeBytes: info.Size()}, nil
}

type apiEnv struct {
	router   *chi.Mux
	cfg      ServerConfig
	svc      *studio.Service
	editor   *stubEditor
	statuses *status.MemoryStore
}

func setupAPI(t *testing.T, opts ...func(*ServerConfig)) *apiEnv {
	t.Helper()
	root := t.TempDir()

	database, err := db.New(filepath.Join(root, "filmy.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	files, err := storage.New(storage.Config{
		TempDir:          filepath.Join(root, storage.TempMarker),
		OutputDir:        filepath.Join(root, storage.OutputMarker),
		SupportedFormats: []string{"mp4", "mov"},
		MaxBytes:         1 << 20,
	}, testLogger())
	require.NoError(t, err)

	ed := &stubEditor{}
	statuses := status.NewMemoryStore()
	svc := studio.NewService(
		studio.NewRepository(database.Conn()),
		instruction.NewStrategy(nil, testLogger()),
		ed, files, statuses, 2, testLogger(),
	)

	cfg := ServerConfig{
		Service:            svc,
		Logger:             testLogger(),
		StartTime:          time.Now(),
		Version:            "test",
		SupportedFormats:   []string{"mp4", "mov"},
		MaxUploadBytes:     1 << 20,
		StatusPollInterval: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &apiEnv{router: NewRouter(cfg), cfg: cfg, svc: svc, editor: ed, statuses: statuses}
}

func (e *apiEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *apiEnv) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

// upload posts a multipart upload and returns the stored video id.
func (e *apiEnv) upload(t *testing.T, name string) string {
	t.Helper()
	rr := e.do(uploadRequest(t, name, "video/mp4", []byte("source-frames")))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp UploadResponse
	decodeBody(t, rr, &resp)
	return resp.VideoID
}

func uploadRequest(t *testing.T, name, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload/video", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func httptestGet(path string) *http.Request {
	return httptest.NewRequest(http.MethodGet, path, nil)
}
