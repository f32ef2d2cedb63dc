package ui

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"duck-ask/internal/domain"
)

// Home shows the question form, the data sources and recent questions.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	h.renderHome(w, r, http.StatusOK, homeModel{})
}

// Submit starts a question and redirects to its page.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if !parseFormOrRenderBadRequest(w, r) {
		return
	}
	text, source := r.Form.Get("text"), r.Form.Get("data_source")
	snap, err := h.Queries.Submit(r.Context(), text, source)
	if err != nil {
		h.renderHome(w, r, statusFromError(err), homeModel{Text: text, DataSource: source, Error: err.Error()})
		return
	}
	http.Redirect(w, r, "/ui/queries/"+snap.RequestID, http.StatusSeeOther)
}

// Detail shows progress, the pending clarification or the result.
func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	h.renderDetail(w, r, http.StatusOK, "")
}

// Answer posts a clarification answer.
func (h *Handler) Answer(w http.ResponseWriter, r *http.Request) {
	if !parseFormOrRenderBadRequest(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.Queries.AnswerClarification(r.Context(), id, r.Form.Get("answer")); err != nil {
		h.renderDetail(w, r, statusFromError(err), err.Error())
		return
	}
	http.Redirect(w, r, "/ui/queries/"+id, http.StatusSeeOther)
}

// SwitchChart reclassifies the result for the chosen chart kind.
func (h *Handler) SwitchChart(w http.ResponseWriter, r *http.Request) {
	if !parseFormOrRenderBadRequest(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.Queries.SwitchChartKind(r.Context(), id, domain.ChartKind(r.Form.Get("kind"))); err != nil {
		h.renderDetail(w, r, statusFromError(err), err.Error())
		return
	}
	http.Redirect(w, r, "/ui/queries/"+id, http.StatusSeeOther)
}

// Cancel stops a question that is still running or waiting.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Queries.Cancel(r.Context(), id); err != nil {
		h.renderDetail(w, r, statusFromError(err), err.Error())
		return
	}
	http.Redirect(w, r, "/ui/queries/"+id, http.StatusSeeOther)
}

func (h *Handler) renderHome(w http.ResponseWriter, r *http.Request, status int, m homeModel) {
	m.Sources = h.Sources.List()
	if m.DataSource == "" && len(m.Sources) > 0 {
		m.DataSource = m.Sources[0].Name
	}
	m.Recent = h.Queries.List(r.Context(), recentLimit)
	m.CSRF = csrfField(r)
	renderHTML(w, status, homePage(m))
}

// renderDetail re-reads the snapshot so a failed action still shows the
// current state next to its error.
func (h *Handler) renderDetail(w http.ResponseWriter, r *http.Request, status int, message string) {
	id := chi.URLParam(r, "id")
	snap, err := h.Queries.Status(r.Context(), id)
	if err != nil {
		renderHTML(w, statusFromError(err), errorPage("Question Not Found", err.Error()))
		return
	}
	m := detailModel{Snapshot: *snap, Error: message, CSRF: csrfField(r)}
	if snap.State == domain.StateCompleted {
		if out, err := h.Queries.Result(r.Context(), id); err == nil {
			m.Outcome = out
		}
	}
	renderHTML(w, status, detailPage(m))
}
