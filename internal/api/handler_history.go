package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"duck-ask/internal/domain"
)

type historyPage struct {
	Records       []domain.QueryExecutionRecord `json:"records"`
	TotalCount    int64                         `json:"total_count"`
	NextPageToken string                        `json:"next_page_token,omitempty"`
}

type dataSourceList struct {
	DataSources []domain.DataSource `json:"data_sources"`
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, r, domain.ErrNotFound("history is not enabled"))
		return
	}
	filter, err := historyFilterFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	records, total, err := h.history.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []domain.QueryExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, historyPage{
		Records:       records,
		TotalCount:    total,
		NextPageToken: domain.NextPageToken(filter.Page.Offset(), filter.Page.Limit(), total),
	})
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, r, domain.ErrNotFound("history is not enabled"))
		return
	}
	rec, err := h.history.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) listDataSources(w http.ResponseWriter, _ *http.Request) {
	sources := h.sources.List()
	if sources == nil {
		sources = []domain.DataSource{}
	}
	writeJSON(w, http.StatusOK, dataSourceList{DataSources: sources})
}

func historyFilterFromQuery(r *http.Request) (domain.HistoryFilter, error) {
	q := r.URL.Query()
	var filter domain.HistoryFilter

	if v := q.Get("state"); v != "" {
		state, err := domain.ParseExecutionState(v)
		if err != nil {
			return filter, err
		}
		filter.State = &state
	}
	if v := q.Get("data_source"); v != "" {
		filter.DataSourceRef = &v
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, domain.ErrValidation("%s must be an RFC 3339 timestamp", p.name)
		}
		*p.dst = &t
	}
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, domain.ErrValidation("max_results must be a non-negative integer")
		}
		filter.Page.MaxResults = n
	}
	filter.Page.PageToken = q.Get("page_token")
	return filter, nil
}
