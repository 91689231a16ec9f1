// Package playback streams stored videos to HTTP clients with single
// byte-range support.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultContentType = "video/mp4"

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeFile writes path as an attachment called name. A missing file is
// reported as an error wrapping os.ErrNotExist before anything is written.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, path, name string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	if stat.IsDir() {
		return fmt.Errorf("%s: %w", filepath.Base(path), os.ErrNotExist)
	}
	size := stat.Size()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", ContentType(path))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	h.Set("Last-Modified", stat.ModTime().UTC().Format(http.TimeFormat))

	span, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	case err != nil:
		// Malformed ranges are ignored.
		span = nil
	}

	if span == nil {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			s.copy(w, file, size, name)
		}
		return nil
	}

	h.Set("Content-Length", strconv.FormatInt(span.Length(), 10))
	h.Set("Content-Range", span.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := file.Seek(span.First, io.SeekStart); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	s.copy(w, file, span.Length(), name)
	return nil
}

// copy logs instead of failing: headers are already out.
func (s *Server) copy(w io.Writer, r io.Reader, n int64, name string) {
	if _, err := io.CopyN(w, r, n); err != nil {
		s.logger.Debug("download interrupted", "file", name, "error", err)
	}
}

// ContentType picks the media type of a video by extension.
func ContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".mp4" || ext == "" {
		return defaultContentType
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return defaultContentType
}
