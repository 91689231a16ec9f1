// Package storage manages the video files on local disk: uploads land in
// the temp directory, rendered results in the output directory. Nothing in
// this package deletes a stored video.
package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

const (
	TempMarker   = "temp_videos"
	OutputMarker = "output_videos"

	timestampLayout = "20060102_150405"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported video format")
	ErrTooLarge          = errors.New("video exceeds maximum size")
	ErrInvalidID         = errors.New("invalid video id")
	ErrNotFound          = errors.New("video not found")
)

// Config holds the storage configuration.
type Config struct {
	TempDir          string
	OutputDir        string
	SupportedFormats []string // lower-case extensions without the dot
	MaxBytes         int64    // 0 = unlimited
}

type Store struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// New creates the temp and output directories if needed.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	for _, dir := range []string{cfg.TempDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
		}
	}
	return &Store{cfg: cfg, now: time.Now, logger: logger}, nil
}

func (s *Store) TempDir() string   { return s.cfg.TempDir }
func (s *Store) OutputDir() string { return s.cfg.OutputDir }

// Upload describes a stored upload.
type Upload struct {
	ID   string
	Path string
	Size int64
}

// SaveUpload stores r under <temp>/<YYYYMMDD_HHMMSS>_<name>. The file only
// becomes visible once it is completely written.
func (s *Store) SaveUpload(r io.Reader, filename string) (Upload, error) {
	name := SanitizeFilename(filename)
	if err := s.CheckFormat(name); err != nil {
		return Upload{}, err
	}

	id := s.uniqueName(s.cfg.TempDir, s.now().Format(timestampLayout)+"_"+name)
	path := filepath.Join(s.cfg.TempDir, id)

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0644))
	if err != nil {
		return Upload{}, fmt.Errorf("create pending upload: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			s.logger.Debug("cleanup pending upload", "error", err)
		}
	}()

	src := r
	if s.cfg.MaxBytes > 0 {
		src = io.LimitReader(r, s.cfg.MaxBytes+1)
	}
	n, err := io.Copy(pending, src)
	if err != nil {
		return Upload{}, fmt.Errorf("write upload: %w", err)
	}
	if s.cfg.MaxBytes > 0 && n > s.cfg.MaxBytes {
		return Upload{}, fmt.Errorf("%w: limit is %d MB", ErrTooLarge, s.cfg.MaxBytes/(1024*1024))
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return Upload{}, fmt.Errorf("commit upload: %w", err)
	}

	s.logger.Info("video saved", "video_id", id, "bytes", n)
	return Upload{ID: id, Path: path, Size: n}, nil
}

// CheckFormat rejects names whose extension is not in the allow-list.
func (s *Store) CheckFormat(name string) error {
	if len(s.cfg.SupportedFormats) == 0 {
		return nil
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	for _, f := range s.cfg.SupportedFormats {
		if ext == f {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFormat, ext, strings.Join(s.cfg.SupportedFormats, ", "))
}

// SourcePath resolves an upload id to its path.
func (s *Store) SourcePath(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	path := filepath.Join(s.cfg.TempDir, id)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return path, nil
}

// OutputDirFor derives the output directory of an input file by replacing
// the temp marker in its directory. Inputs outside a marked directory go to
// the configured output directory.
func (s *Store) OutputDirFor(inputPath string) string {
	dir := filepath.Dir(inputPath)
	if strings.Contains(dir, TempMarker) {
		return strings.ReplaceAll(dir, TempMarker, OutputMarker)
	}
	return s.cfg.OutputDir
}

// OutputPath names the result of processing inputPath:
// <output dir>/<prefix>_<YYYYMMDD_HHMMSS>_<input name>.
func (s *Store) OutputPath(inputPath, prefix string) string {
	dir := s.OutputDirFor(inputPath)
	name := fmt.Sprintf("%s_%s_%s", prefix, s.now().Format(timestampLayout), filepath.Base(inputPath))
	return filepath.Join(dir, s.uniqueName(dir, name))
}

// FindOutput looks up a rendered file by exact name, then by substring of
// the name. Among substring matches the most recent wins.
func (s *Store) FindOutput(name string) (string, error) {
	if err := ValidateID(name); err != nil {
		return "", err
	}

	dirs := s.outputDirs()
	for _, dir := range dirs {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	type match struct {
		path string
		mod  time.Time
	}
	var matches []match
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.Contains(e.Name(), name) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			matches = append(matches, match{path: filepath.Join(dir, e.Name()), mod: info.ModTime()})
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].mod.Equal(matches[j].mod) {
			return matches[i].path > matches[j].path
		}
		return matches[i].mod.After(matches[j].mod)
	})
	return matches[0].path, nil
}

func (s *Store) outputDirs() []string {
	dirs := []string{s.cfg.OutputDir}
	derived := s.OutputDirFor(filepath.Join(s.cfg.TempDir, "x"))
	if filepath.Clean(derived) != filepath.Clean(s.cfg.OutputDir) {
		dirs = append(dirs, derived)
	}
	return dirs
}

// CopyFile copies src to dst atomically.
func (s *Store) CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	pending, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0644))
	if err != nil {
		return fmt.Errorf("create pending copy: %w", err)
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, in); err != nil {
		return fmt.Errorf("copy video: %w", err)
	}
	return pending.CloseAtomicallyReplace()
}

// uniqueName appends -2, -3, ... before the extension while name exists in dir.
func (s *Store) uniqueName(dir, name string) string {
	if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
	}
}

// ValidateID rejects ids that could escape the storage directories.
func ValidateID(id string) error {
	switch {
	case id == "", id == ".", id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.ContainsAny(id, `/\`), strings.ContainsRune(id, 0):
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// SanitizeFilename keeps the base name and replaces anything outside
// [A-Za-z0-9._-] with an underscore.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" || out == "_" {
		return "video.mp4"
	}
	return out
}
