package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/filmyai/filmy/internal/instruction"
	"github.com/filmyai/filmy/internal/playback"
	"github.com/filmyai/filmy/internal/status"
	"github.com/filmyai/filmy/internal/storage"
	"github.com/filmyai/filmy/internal/studio"
)

const serviceName = "Filmy AI API"

// StudioService is the part of studio.Service the handlers use.
type StudioService interface {
	Upload(r io.Reader, filename string) (storage.Upload, error)
	Instruct(ctx context.Context, videoID, text string) (*studio.Outcome, error)
	Submit(ctx context.Context, videoID, text string) (*studio.Job, error)
	Edit(ctx context.Context, videoID string, cmd instruction.Command) (*studio.Outcome, error)
	Enhance(ctx context.Context, videoID, kind string, settings studio.EnhanceSettings) (*studio.EnhanceOutcome, error)
	Status(ctx context.Context, id string) (status.Status, error)
	Metadata(ctx context.Context, videoID string) (*studio.Metadata, error)
	OutputFile(name string) (string, error)
	Job(ctx context.Context, id string) (*studio.Job, error)
	Jobs(ctx context.Context, limit int) ([]*studio.Job, error)
}

type FileServer interface {
	ServeFile(w http.ResponseWriter, r *http.Request, path, name string) error
}

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.Playback == nil {
		cfg.Playback = playback.NewServer(cfg.Logger)
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	if cfg.StatusPollInterval <= 0 {
		cfg.StatusPollInterval = time.Second
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSMiddleware(cfg.CORSOrigins))

	r.Get("/", rootHandler(cfg))
	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/health", healthHandler(cfg))
	r.Handle("/metrics", cfg.MetricsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler(cfg))
		r.Get("/features", featuresHandler(cfg))

		r.Group(func(r chi.Router) {
			if cfg.APIKey != "" {
				r.Use(APIKeyMiddleware(cfg.APIKey, cfg.Logger))
			}

			r.Get("/status/{id}", statusHandler(cfg))
			r.Get("/status/{id}/stream", statusStreamHandler(cfg))
			r.Get("/download/{filename}", downloadHandler(cfg))
			r.Head("/download/{filename}", downloadHandler(cfg))
			r.Get("/videos/{id}/metadata", metadataHandler(cfg))
			r.Get("/jobs", listJobsHandler(cfg))
			r.Get("/jobs/{id}", getJobHandler(cfg))

			r.Group(func(r chi.Router) {
				if cfg.RateLimitPerMinute > 0 {
					r.Use(RateLimit(cfg.RateLimitPerMinute))
				}
				r.Post("/upload/video", uploadHandler(cfg))
				r.Post("/instruct", instructHandler(cfg))
				r.Post("/instruct/async", instructAsyncHandler(cfg))
				r.Post("/edit", editHandler(cfg))
				r.Post("/enhance/video", enhanceHandler(cfg))
			})
		})
	})

	return r
}

func rootHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, RootResponse{
			Service: serviceName,
			Version: cfg.Version,
			Status:  "running",
			Docs:    "/api/v1/features",
		})
	}
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "healthy",
			Service: serviceName,
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

var editingOperations = []string{
	instruction.OpTrim,
	instruction.OpDenoise,
	instruction.OpVolume,
	instruction.OpStabilize,
	instruction.OpColorAdjust,
	instruction.OpCrop,
	instruction.OpResize,
	instruction.OpUpscale,
	instruction.OpGrayscale,
	instruction.OpSpeed,
	instruction.OpText,
}

func featuresHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parsers := []string{string(instruction.SourceRuleBased)}
		if cfg.LLMEnabled {
			parsers = []string{string(instruction.SourceLLM), string(instruction.SourceRuleBased)}
		}
		formats := cfg.SupportedFormats
		if formats == nil {
			formats = []string{}
		}
		WriteJSON(w, http.StatusOK, FeaturesResponse{
			VideoEnhancements:  studio.EnhancementTypes,
			EditingOperations:  editingOperations,
			SupportedFormats:   formats,
			InstructionParsers: parsers,
		})
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 500 {
				WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500", "BAD_REQUEST")
				return
			}
			limit = n
		}

		jobs, err := cfg.Service.Jobs(r.Context(), limit)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Service.Job(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, studio.ErrVideoNotFound), errors.Is(err, storage.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, studio.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, storage.ErrTooLarge), errors.As(err, &tooBig):
		WriteError(w, http.StatusRequestEntityTooLarge, err.Error(), "TOO_LARGE")
	case errors.Is(err, storage.ErrUnsupportedFormat):
		WriteError(w, http.StatusUnsupportedMediaType, err.Error(), "UNSUPPORTED_FORMAT")
	case errors.Is(err, storage.ErrInvalidID),
		errors.Is(err, studio.ErrEmptyInstruction),
		errors.Is(err, studio.ErrUnknownEnhancement),
		errors.Is(err, studio.ErrInvalidSettings),
		errors.Is(err, instruction.ErrInvalidCommand):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "UNAVAILABLE")
	case errors.Is(err, studio.ErrEditFailed):
		WriteError(w, http.StatusInternalServerError, err.Error(), "EDIT_FAILED")
	default:
		logger.Error("request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}
