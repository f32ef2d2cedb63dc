// Package ui renders the HTML pages for asking questions and following
// their progress. Pages only read status snapshots; every form post maps
// onto one query service operation.
package ui

import (
	"errors"
	"log/slog"
	"net/http"

	"duck-ask/internal/domain"
	"duck-ask/internal/service/query"

	gomponents "maragu.dev/gomponents"
)

const recentLimit = 20

// Handler serves the /ui pages.
type Handler struct {
	Queries    *query.Service
	Sources    domain.DataSourceCatalog
	Production bool
	Logger     *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(queries *query.Service, sources domain.DataSourceCatalog, production bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Queries:    queries,
		Sources:    sources,
		Production: production,
		Logger:     logger.With("component", "ui"),
	}
}

func renderHTML(w http.ResponseWriter, status int, node gomponents.Node) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = node.Render(w)
}

func statusFromError(err error) int {
	var (
		notFound     *domain.NotFoundError
		validation   *domain.ValidationError
		emptyAnswer  *domain.EmptyAnswerError
		invalidState *domain.InvalidStateError
		notReady     *domain.NotReadyError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation), errors.As(err, &emptyAnswer):
		return http.StatusBadRequest
	case errors.As(err, &invalidState), errors.As(err, &notReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// parseFormOrRenderBadRequest parses the posted form, answering 400 itself
// when the body is malformed.
func parseFormOrRenderBadRequest(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		renderHTML(w, http.StatusBadRequest, errorPage("Bad Request", "Could not read the submitted form."))
		return false
	}
	return true
}
