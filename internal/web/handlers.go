package web

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/hpungsan/modrelay/internal/errors"
	"github.com/hpungsan/modrelay/internal/ops"
	"github.com/hpungsan/modrelay/internal/submission"
)

// Handlers contains HTTP route handlers for the dashboard.
type Handlers struct {
	db       *sql.DB
	renderer *Renderer
}

// HandleList handles GET /submissions, newest first.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input := ops.ListInput{
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	}

	if s := q.Get("status"); s != "" {
		st, err := submission.ParseStatus(s)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest(err.Error()))
			return
		}
		input.Status = &st
	}
	if s := q.Get("submitter_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("submitter_id must be an integer"))
			return
		}
		input.SubmitterID = &id
	}

	result, err := ops.ListSubmissions(r.Context(), h.db, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	stats, err := ops.Stats(r.Context(), h.db)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, "list", ListPageData{
		PageData: PageData{
			Title:   "Submissions",
			Version: h.renderer.version,
		},
		Items:       result.Items,
		Pagination:  result.Pagination,
		Stats:       stats,
		Statuses:    submission.Statuses,
		Status:      q.Get("status"),
		SubmitterID: q.Get("submitter_id"),
	})
}

// HandleDetail handles GET /submissions/{id}.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("submission ID is required"))
		return
	}

	s, err := ops.GetSubmission(r.Context(), h.db, id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, s)
		return
	}

	items := make([]ItemView, len(s.Items))
	for i, it := range s.Items {
		items[i] = ItemView{
			Kind:     string(it.Kind),
			TextHTML: renderMarkdown(it.Text),
			MediaRef: it.MediaRef,
		}
		if i < len(s.ReviewMessageIDs) {
			items[i].Review = s.ReviewMessageIDs[i]
		}
	}

	h.renderer.renderPage(w, "detail", DetailPageData{
		PageData: PageData{
			Title:   "Submission " + shortID(s.ID),
			Version: h.renderer.version,
		},
		Submission:  s,
		SubjectHTML: renderMarkdown(s.Subject),
		Items:       items,
	})
}

// HandleHealth handles GET /healthz. It fails when the ledger is unreachable.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		h.renderer.logger.Error("health check failed", "error", err)
		renderJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": h.renderer.version})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// shortID truncates a ULID for page titles.
func shortID(id string) string {
	if len(id) > 10 {
		return id[:10] + "..."
	}
	return id
}
