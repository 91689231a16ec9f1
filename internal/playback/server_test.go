package playback

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeVideo(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func serve(t *testing.T, method, path, rangeHeader string) *httptest.ResponseRecorder {
	t.Helper()
	s := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	req := httptest.NewRequest(method, "/download/x", nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rr := httptest.NewRecorder()
	if err := s.ServeFile(rr, req, path, filepath.Base(path)); err != nil {
		t.Fatalf("ServeFile() error = %v", err)
	}
	return rr
}

func TestServeFile_Full(t *testing.T) {
	path := writeVideo(t, "edited_clip.mp4", "0123456789")
	rr := serve(t, http.MethodGet, path, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Body.String(); got != "0123456789" {
		t.Errorf("body = %q", got)
	}
	if got := rr.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q, want video/mp4", got)
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename=edited_clip.mp4` {
		t.Errorf("Content-Disposition = %q", got)
	}
}

func TestServeFile_Partial(t *testing.T) {
	path := writeVideo(t, "clip.mp4", "0123456789")
	rr := serve(t, http.MethodGet, path, "bytes=2-5")

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rr.Code)
	}
	if got := rr.Body.String(); got != "2345" {
		t.Errorf("body = %q, want 2345", got)
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeFile_Unsatisfiable(t *testing.T) {
	path := writeVideo(t, "clip.mp4", "0123456789")
	rr := serve(t, http.MethodGet, path, "bytes=20-")

	if rr.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", rr.Code)
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes */10" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeFile_MalformedRangeServesWholeFile(t *testing.T) {
	path := writeVideo(t, "clip.mp4", "0123456789")
	rr := serve(t, http.MethodGet, path, "bytes=9-1")
	if rr.Code != http.StatusOK || rr.Body.Len() != 10 {
		t.Fatalf("status = %d, body length = %d", rr.Code, rr.Body.Len())
	}
}

func TestServeFile_Head(t *testing.T) {
	path := writeVideo(t, "clip.mov", "0123456789")
	rr := serve(t, http.MethodHead, path, "")
	if rr.Code != http.StatusOK || rr.Body.Len() != 0 {
		t.Fatalf("status = %d, body length = %d", rr.Code, rr.Body.Len())
	}
	if got := rr.Header().Get("Content-Length"); got != "10" {
		t.Errorf("Content-Length = %q", got)
	}
}

func TestServeFile_Missing(t *testing.T) {
	s := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	rr := httptest.NewRecorder()
	err := s.ServeFile(rr, httptest.NewRequest(http.MethodGet, "/", nil), filepath.Join(t.TempDir(), "nope.mp4"), "nope.mp4")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("error = %v, want os.ErrNotExist", err)
	}
	if rr.Body.Len() != 0 {
		t.Error("nothing should be written for a missing file")
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"a.mp4":  "video/mp4",
		"a.MP4":  "video/mp4",
		"noext":  "video/mp4",
		"a.zzzz": "video/mp4",
	}
	for in, want := range cases {
		if got := ContentType(in); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", in, got, want)
		}
	}
}
