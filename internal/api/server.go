package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"plagiscan/internal/models"
	"plagiscan/internal/pipeline"
	"plagiscan/internal/ratelimit"
	"plagiscan/internal/report"
	"plagiscan/internal/telemetry"
)

const maxRequestBytes = 1 << 20

// Documents is the pipeline boundary the HTTP layer drives.
type Documents interface {
	Ingest(ctx context.Context, req pipeline.IngestRequest) (pipeline.Ack, error)
	Status(ctx context.Context, id string) (pipeline.StatusView, error)
	Result(ctx context.Context, id string) (models.MatchResult, error)
	Report(ctx context.Context, id string) (report.Report, error)
	Delete(ctx context.Context, id string) error
}

// Limiter decides whether a tenant may ingest another document.
type Limiter interface {
	Allow(ctx context.Context, tenant string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers for the document API.
type Server struct {
	docs     Documents
	limiter  Limiter
	logger   *slog.Logger
	validate *validator.Validate
}

// New constructs the API server. A nil limiter disables rate limiting.
func New(docs Documents, limiter Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{
		docs:     docs,
		limiter:  limiter,
		logger:   logger,
		validate: v,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", s.handleIngest)
		r.Get("/{id}", s.handleStatus)
		r.Delete("/{id}", s.handleDelete)
		r.Get("/{id}/result", s.handleResult)
		r.Get("/{id}/report", s.handleReport)
		r.Get("/{id}/report.xlsx", s.handleReportXLSX)
	})
	return r
}

type ingestRequest struct {
	ID        string `json:"id" validate:"omitempty,max=128,printascii,excludes=/"`
	Name      string `json:"name" validate:"required,max=255"`
	FileRef   string `json:"file_ref" validate:"required,max=1024"`
	MediaType string `json:"media_type" validate:"required"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		s.writeError(w, &ErrValidation{Field: "body", Message: "invalid json"})
		return
	}
	if err := s.validateIngest(req); err != nil {
		s.writeError(w, err)
		return
	}

	tenant := tenantFromRequest(r)
	if s.limiter != nil {
		d, err := s.limiter.Allow(r.Context(), tenant)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			if d.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			}
			s.writeError(w, &ErrRateLimited{Tenant: tenant})
			return
		}
	}

	ack, err := s.docs.Ingest(r.Context(), pipeline.IngestRequest{
		ID:        req.ID,
		Name:      req.Name,
		FileRef:   req.FileRef,
		MediaType: req.MediaType,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

func (s *Server) validateIngest(req ingestRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ErrValidation{Field: fe.Field(), Message: "failed " + fe.Tag()}
		}
		return &ErrValidation{Field: "body", Message: err.Error()}
	}
	if !models.IsSupportedMediaType(req.MediaType) {
		return &ErrValidation{Field: "media_type", Message: "unsupported media type " + req.MediaType}
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.docs.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.docs.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.docs.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleReportXLSX(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rep, err := s.docs.Report(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := rep.XLSX()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="plagiarism-report-`+id+`.xlsx"`)
	w.Header().Set("Last-Modified", rep.GeneratedAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.docs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
