package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"duck-ask/internal/domain"
)

type submitQueryRequest struct {
	Text       string `json:"text" validate:"required,max=4000"`
	DataSource string `json:"data_source" validate:"required,max=128"`
}

// Empty answers are left to the service so they surface as EmptyAnswer.
type clarificationRequest struct {
	Answer string `json:"answer" validate:"max=2000"`
}

type chartRequest struct {
	Kind string `json:"kind" validate:"required,oneof=kpi bar line pie scatter single_value_gauge"`
}

func (h *Handler) submitQuery(w http.ResponseWriter, r *http.Request) {
	var req submitQueryRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := h.queries.Submit(r.Context(), req.Text, req.DataSource)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/queries/"+snap.RequestID)
	writeJSON(w, http.StatusAccepted, snap)
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.queries.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) submitClarification(w http.ResponseWriter, r *http.Request) {
	var req clarificationRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := h.queries.AnswerClarification(r.Context(), chi.URLParam(r, "id"), req.Answer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (h *Handler) getResult(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.queries.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) switchChart(w http.ResponseWriter, r *http.Request) {
	var req chartRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	spec, err := h.queries.SwitchChartKind(r.Context(), chi.URLParam(r, "id"), domain.ChartKind(req.Kind))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (h *Handler) cancelQuery(w http.ResponseWriter, r *http.Request) {
	snap, err := h.queries.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
