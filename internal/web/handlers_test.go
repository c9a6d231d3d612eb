package web

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/modrelay/internal/content"
	"github.com/hpungsan/modrelay/internal/db"
	"github.com/hpungsan/modrelay/internal/errors"
	"github.com/hpungsan/modrelay/internal/metrics"
	"github.com/hpungsan/modrelay/internal/ops"
	"github.com/hpungsan/modrelay/internal/submission"
)

func setupTest(t *testing.T) *Handlers {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		t.Fatalf("template sub-FS: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &Handlers{
		db:       database,
		renderer: NewRenderer(templateSub, "test", logger),
	}
}

// seedSubmission records a submission and returns its ID.
func seedSubmission(t *testing.T, h *Handlers, submitterID int64, subject string, status submission.Status, items ...content.Item) string {
	t.Helper()
	if len(items) == 0 {
		items = []content.Item{{SourceChatID: submitterID, SourceMessageID: 1, Kind: content.KindText, Text: "body text"}}
	}
	input := ops.RecordInput{
		SubmitterID:     submitterID,
		SubmitterChatID: submitterID,
		Subject:         subject,
		Items:           items,
		Status:          status,
	}
	if status == submission.StatusPending {
		input.ReviewChatID = -200
		input.ControlMessageID = 77
		input.HeaderMessageID = 76
		input.ReviewMessageIDs = make([]int, len(items))
		for i := range items {
			input.ReviewMessageIDs[i] = 70 + i
		}
	}
	s, err := ops.RecordSubmission(context.Background(), h.db, input)
	if err != nil {
		t.Fatalf("seed submission %q: %v", subject, err)
	}
	return s.ID
}

// --- HandleList ---

func TestHandleList_Default(t *testing.T) {
	h := setupTest(t)
	seedSubmission(t, h, 100, "broken streetlight", submission.StatusPending)

	req := httptest.NewRequest("GET", "/submissions", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "broken streetlight") {
		t.Error("expected subject in response")
	}
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("expected full layout")
	}
	if !strings.Contains(body, "<strong>1</strong> total") {
		t.Error("expected stats summary")
	}
}

func TestHandleList_StatusFilter(t *testing.T) {
	h := setupTest(t)
	seedSubmission(t, h, 100, "still pending", submission.StatusPending)
	seedSubmission(t, h, 101, "posted directly", submission.StatusDirect)

	req := httptest.NewRequest("GET", "/submissions?status=direct", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "posted directly") {
		t.Error("expected direct submission in filtered results")
	}
	if strings.Contains(body, "still pending") {
		t.Error("did not expect pending submission in filtered results")
	}
	if !strings.Contains(body, `<option value="direct" selected>`) {
		t.Error("expected the active filter to be selected")
	}
}

func TestHandleList_SubmitterFilterJSON(t *testing.T) {
	h := setupTest(t)
	seedSubmission(t, h, 100, "a", submission.StatusPending)
	seedSubmission(t, h, 100, "b", submission.StatusDirect)
	seedSubmission(t, h, 200, "c", submission.StatusPending)

	req := httptest.NewRequest("GET", "/submissions?submitter_id=100", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var out ops.ListOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Items) != 2 {
		t.Errorf("items = %d, want 2", len(out.Items))
	}
	for _, it := range out.Items {
		if it.SubmitterID != 100 {
			t.Errorf("unexpected submitter %d", it.SubmitterID)
		}
	}
}

func TestHandleList_Empty(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/submissions", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No submissions found") {
		t.Error("expected empty state message")
	}
}

func TestHandleList_Pagination(t *testing.T) {
	h := setupTest(t)
	for i := 0; i < 3; i++ {
		seedSubmission(t, h, int64(100+i), "item", submission.StatusDirect)
	}

	req := httptest.NewRequest("GET", "/submissions?limit=2", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "offset=2") {
		t.Error("expected a link to the next page")
	}
	if strings.Contains(body, "newer") {
		t.Error("first page should not link to a previous page")
	}
}

func TestHandleList_BadFilters(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"unknown status", "status=archived"},
		{"non-numeric submitter", "submitter_id=abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupTest(t)
			req := httptest.NewRequest("GET", "/submissions?"+tt.query, nil)
			rec := httptest.NewRecorder()
			h.HandleList(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandleList_InvalidLimitFallsBack(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/submissions?limit=notanumber&offset=bad", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

// --- HandleDetail ---

func TestHandleDetail_Found(t *testing.T) {
	h := setupTest(t)
	id := seedSubmission(t, h, 100, "two photos", submission.StatusPending,
		content.Item{SourceChatID: 100, SourceMessageID: 1, Kind: content.KindPhoto, MediaRef: "file-a", Text: "first *caption*", GroupID: "g"},
		content.Item{SourceChatID: 100, SourceMessageID: 2, Kind: content.KindPhoto, MediaRef: "file-b", GroupID: "g"},
	)

	req := httptest.NewRequest("GET", "/submissions/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{id, "two photos", "file-a", "file-b", "<em>caption</em>", "review message 71", "controls 77"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in detail page", want)
		}
	}
}

func TestHandleDetail_RawHTMLNotRendered(t *testing.T) {
	h := setupTest(t)
	id := seedSubmission(t, h, 100, "<script>alert(1)</script>", submission.StatusDirect)

	req := httptest.NewRequest("GET", "/submissions/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if strings.Contains(rec.Body.String(), "<script>alert(1)</script>") {
		t.Error("raw HTML from the subject must not reach the page")
	}
}

func TestHandleDetail_JSON(t *testing.T) {
	h := setupTest(t)
	id := seedSubmission(t, h, 100, "json please", submission.StatusDirect)

	req := httptest.NewRequest("GET", "/submissions/"+id, nil)
	req.SetPathValue("id", id)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	var s submission.Submission
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.ID != id || s.Status != submission.StatusDirect {
		t.Errorf("got %s/%s, want %s/direct", s.ID, s.Status, id)
	}
}

func TestHandleDetail_NotFound(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/submissions/01ARZ3NDEKTSV4RRFFQ69G5FAV", nil)
	req.SetPathValue("id", "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Error 404") {
		t.Error("expected error page")
	}
}

func TestHandleDetail_EmptyID(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/submissions/", nil)
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// --- Errors ---

func TestErrorRendering_JSONError(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/submissions/nope", nil)
	req.SetPathValue("id", "nope")
	req.Header.Set("Accept", "text/html, application/json")
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var payload struct {
		Error struct {
			Code   string `json:"code"`
			Status int    `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Error.Code != "NOT_FOUND" || payload.Error.Status != 404 {
		t.Errorf("error = %+v, want NOT_FOUND/404", payload.Error)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"INVALID_REQUEST", http.StatusBadRequest},
		{"NOT_FOUND", http.StatusNotFound},
		{"CONFLICT", http.StatusConflict},
		{"PERMISSION_DENIED", http.StatusForbidden},
		{"TRANSPORT_PERMANENT", http.StatusBadGateway},
		{"INTERNAL", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := httpStatus(errors.ErrorCode(tt.code)); got != tt.want {
				t.Errorf("httpStatus(%s) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

// --- Health and server ---

func TestHandleHealth(t *testing.T) {
	h := setupTest(t)

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	h.db.Close()
	rec = httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status after close = %d, want 503", rec.Code)
	}
}

func TestServer_RoutesAndHeaders(t *testing.T) {
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	m := metrics.New()
	m.Inbound("text")

	srv, err := NewServer(Options{DB: database, Metrics: m, Version: "test", Bind: "127.0.0.1", Port: 0})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	client := ts.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/", http.StatusFound, ""},
		{"/submissions", http.StatusOK, "No submissions found"},
		{"/healthz", http.StatusOK, `"status":"ok"`},
		{"/metrics", http.StatusOK, "modrelay_inbound_events_total"},
		{"/static/style.css", http.StatusOK, "body"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := client.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body does not contain %q", tt.wantBody)
			}
			if resp.Header.Get("X-Frame-Options") != "DENY" {
				t.Error("missing X-Frame-Options header")
			}
			if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
				t.Error("missing X-Content-Type-Options header")
			}
		})
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	srv, err := NewServer(Options{DB: database, Bind: "127.0.0.1", Port: 0})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, srv, nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && err != http.ErrServerClosed {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFormatTime(t *testing.T) {
	if got := formatTime(0); got != "1970-01-01 00:00" {
		t.Errorf("formatTime(0) = %q", got)
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=abc", 20},
		{"limit=-1", -1},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/submissions?"+tt.query, nil)
		if got := parseIntParam(req, "limit", 20); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
