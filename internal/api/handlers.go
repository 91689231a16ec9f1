package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/filmyai/filmy/internal/logging"
	"github.com/filmyai/filmy/internal/status"
)

const (
	maxJSONBody = 1 << 20
	// multipartOverhead covers boundaries and part headers on top of the
	// file itself.
	multipartOverhead = 1 << 20
)

var allowedUploadTypes = map[string]bool{
	"video/mp4":                true,
	"video/mpeg":               true,
	"video/quicktime":          true,
	"video/x-msvideo":          true,
	"application/octet-stream": true,
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return nil
}

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, _ := r.Context().Value(RequestIDKey).(string)
		log := logging.WithRequestID(cfg.Logger, requestID)
		if cfg.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+multipartOverhead)
		}

		mr, err := r.MultipartReader()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "expected multipart/form-data", "BAD_REQUEST")
			return
		}

		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				WriteError(w, http.StatusBadRequest, "file field is required", "BAD_REQUEST")
				return
			}
			if err != nil {
				var tooBig *http.MaxBytesError
				if errors.As(err, &tooBig) {
					WriteError(w, http.StatusRequestEntityTooLarge, "upload too large", "TOO_LARGE")
					return
				}
				WriteError(w, http.StatusBadRequest, "malformed multipart body", "BAD_REQUEST")
				return
			}
			if part.FormName() != "file" {
				part.Close()
				continue
			}

			filename := part.FileName()
			if filename == "" {
				part.Close()
				WriteError(w, http.StatusBadRequest, "file name is required", "BAD_REQUEST")
				return
			}

			ct, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
			if !allowedUploadTypes[ct] {
				if cfg.StrictContentType {
					part.Close()
					WriteError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("invalid file type %q", ct), "UNSUPPORTED_MEDIA_TYPE")
					return
				}
				log.Warn("accepting upload with unexpected content type", "content_type", ct, "filename", filename)
			}

			up, err := cfg.Service.Upload(part, filename)
			part.Close()
			if err != nil {
				writeServiceError(w, cfg.Logger, err)
				return
			}

			log.Info("video uploaded", "video_id", up.ID, "size", up.Size)
			WriteJSON(w, http.StatusOK, UploadResponse{
				Status:   "success",
				VideoID:  up.ID,
				Message:  "Video uploaded successfully: " + filename,
				Filename: up.ID,
				Size:     up.Size,
			})
			return
		}
	}
}

func instructHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InstructRequest
		if err := decodeJSON(w, r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.VideoID == "" {
			WriteError(w, http.StatusBadRequest, "video_id is required", "BAD_REQUEST")
			return
		}

		out, err := cfg.Service.Instruct(r.Context(), req.VideoID, req.Instruction)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, OutcomeToResponse(out))
	}
}

func instructAsyncHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InstructRequest
		if err := decodeJSON(w, r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.VideoID == "" {
			WriteError(w, http.StatusBadRequest, "video_id is required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Service.Submit(r.Context(), req.VideoID, req.Instruction)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
		WriteJSON(w, http.StatusAccepted, AsyncResponse{
			Status:  string(status.Processing),
			JobID:   job.ID,
			VideoID: job.VideoID,
		})
	}
}

func editHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EditRequest
		if err := decodeJSON(w, r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.VideoID == "" {
			WriteError(w, http.StatusBadRequest, "video_id is required", "BAD_REQUEST")
			return
		}
		if req.Command == nil {
			WriteError(w, http.StatusBadRequest, "command is required", "BAD_REQUEST")
			return
		}

		out, err := cfg.Service.Edit(r.Context(), req.VideoID, *req.Command)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, OutcomeToResponse(out))
	}
}

func enhanceHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EnhanceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.VideoID == "" || req.EnhancementType == "" {
			WriteError(w, http.StatusBadRequest, "video_id and enhancement_type are required", "BAD_REQUEST")
			return
		}

		out, err := cfg.Service.Enhance(r.Context(), req.VideoID, req.EnhancementType, req.Settings)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, EnhanceResponse{
			OutputPath:      out.OutputPath,
			OutputFile:      filepath.Base(out.OutputPath),
			ProcessingTime:  out.ProcessingTime,
			EnhancementType: out.EnhancementType,
			Fallback:        out.Fallback,
			JobID:           out.Job.ID,
		})
	}
}

func downloadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "filename")
		path, err := cfg.Service.OutputFile(name)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		if err := cfg.Playback.ServeFile(w, r, path, filepath.Base(path)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				WriteError(w, http.StatusNotFound, "file not found", "NOT_FOUND")
				return
			}
			cfg.Logger.Error("download failed", "filename", name, "error", err)
			WriteError(w, http.StatusInternalServerError, "cannot read file", "INTERNAL_ERROR")
		}
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		st, err := cfg.Service.Status(r.Context(), id)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, VideoStatusResponse{VideoID: id, Status: string(st)})
	}
}

// statusStreamHandler pushes an event whenever the status of id changes and
// closes the stream once it is terminal.
func statusStreamHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ctx := r.Context()
		rc := http.NewResponseController(w)

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		ticker := time.NewTicker(cfg.StatusPollInterval)
		defer ticker.Stop()

		var last status.Status
		for {
			st, err := cfg.Service.Status(ctx, id)
			if err != nil {
				if ctx.Err() == nil {
					cfg.Logger.Warn("status stream lookup failed", "video_id", id, "error", err)
					_ = writeEvent(w, "error", ErrorResponse{Status: "error", Message: "status lookup failed"})
					_ = rc.Flush()
				}
				return
			}
			if st != last {
				if err := writeEvent(w, "status", VideoStatusResponse{VideoID: id, Status: string(st)}); err != nil {
					return
				}
				if err := rc.Flush(); err != nil {
					return
				}
				last = st
			}
			if st.Terminal() {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

func writeEvent(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func metadataHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		md, err := cfg.Service.Metadata(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, md)
	}
}
