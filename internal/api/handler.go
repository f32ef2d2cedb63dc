// Package api serves the question pipeline over HTTP/JSON.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"duck-ask/internal/domain"
	"duck-ask/internal/middleware"
	"duck-ask/internal/service/query"
)

const maxBodyBytes = 64 << 10

// Handler exposes the query service, the stored history and the data
// source catalog.
type Handler struct {
	queries  *query.Service
	history  domain.HistoryRepository
	sources  domain.DataSourceCatalog
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a Handler. history may be nil, in which case the
// history routes answer 404.
func NewHandler(queries *query.Service, history domain.HistoryRepository, sources domain.DataSourceCatalog, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		queries:  queries,
		history:  history,
		sources:  sources,
		validate: v,
		logger:   logger.With("component", "api"),
	}
}

// Register mounts the JSON routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/queries", h.submitQuery)
		r.Route("/queries/{id}", func(r chi.Router) {
			r.Get("/", h.getStatus)
			r.Post("/clarifications", h.submitClarification)
			r.Get("/result", h.getResult)
			r.Post("/chart", h.switchChart)
			r.Post("/cancel", h.cancelQuery)
			r.Get("/watch", h.watch)
		})
		r.Get("/history", h.listHistory)
		r.Get("/history/{id}", h.getHistory)
		r.Get("/data-sources", h.listDataSources)
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into dst and runs its validate tags.
func (h *Handler) decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.ErrValidation("request body is required")
		}
		return domain.ErrValidation("invalid request body: %v", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return domain.ErrValidation("%s", describeFieldError(verrs[0]))
		}
		return domain.ErrValidation("%v", err)
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody(err)
	if body.Code >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"error", err, "path", r.URL.Path, "request_id", middleware.RequestIDFromContext(r.Context()))
	}
	writeJSON(w, body.Code, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
