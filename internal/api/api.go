// Package api serves the cwrite HTTP JSON API.
//
// Stateless checks go through POST /v1/check. Document sessions live under
// /v1/sessions: a client creates a session, asks for a check, then applies
// or dismisses the corrections one at a time while the server keeps every
// remaining span valid. GET /v1/sessions/{id}/events streams session events
// over a WebSocket. GET /metrics exposes the Prometheus registry.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liutong011025-cloud/CwritevV7/internal/app"
	"github.com/liutong011025-cloud/CwritevV7/internal/checklog"
	"github.com/liutong011025-cloud/CwritevV7/internal/observe"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread/llmcheck"
	"github.com/liutong011025-cloud/CwritevV7/internal/resilience"
)

const (
	// maxBodyBytes bounds request bodies.
	maxBodyBytes = 1 << 20

	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

var errBadRequest = errors.New("api: bad request")

// Checker runs one stateless grammar check.
type Checker interface {
	Check(ctx context.Context, req llmcheck.Request) (llmcheck.Result, error)
}

// Handler serves the API routes.
type Handler struct {
	checker  Checker
	sessions *app.SessionManager
	checks   checklog.Store
}

// New returns a Handler. checks may be nil, in which case GET /v1/checks
// answers with an empty list.
func New(checker Checker, sessions *app.SessionManager, checks checklog.Store) *Handler {
	if checks == nil {
		checks = checklog.Discard
	}
	return &Handler{checker: checker, sessions: sessions, checks: checks}
}

// Register mounts the API on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/check", h.check)
	mux.HandleFunc("GET /v1/checks", h.recentChecks)

	mux.HandleFunc("POST /v1/sessions", h.createSession)
	mux.HandleFunc("GET /v1/sessions", h.listSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", h.getSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.deleteSession)
	mux.HandleFunc("PUT /v1/sessions/{id}/text", h.setText)
	mux.HandleFunc("POST /v1/sessions/{id}/check", h.checkSession)
	mux.HandleFunc("POST /v1/sessions/{id}/corrections/{cid}/apply", h.applyCorrection)
	mux.HandleFunc("DELETE /v1/sessions/{id}/corrections/{cid}", h.dismissCorrection)
	mux.HandleFunc("POST /v1/sessions/{id}/apply-all", h.applyAll)
	mux.HandleFunc("GET /v1/sessions/{id}/events", h.events)

	mux.Handle("GET /metrics", promhttp.Handler())
}

// checkRequest accepts the field names of the original web client; the text
// may also arrive as "letter", "story" or "review".
type checkRequest struct {
	Text       string `json:"text"`
	Letter     string `json:"letter"`
	Story      string `json:"story"`
	Review     string `json:"review"`
	Type       string `json:"type"`
	Recipient  string `json:"recipient"`
	Occasion   string `json:"occasion"`
	BookTitle  string `json:"bookTitle"`
	ReviewType string `json:"reviewType"`
	User       string `json:"user_id"`
}

func (r checkRequest) toRequest() llmcheck.Request {
	text := r.Text
	for _, alt := range []string{r.Letter, r.Story, r.Review} {
		if text != "" {
			break
		}
		text = alt
	}
	return llmcheck.Request{
		Text:        text,
		ContentType: llmcheck.ContentType(r.Type),
		Recipient:   r.Recipient,
		Occasion:    r.Occasion,
		BookTitle:   r.BookTitle,
		ReviewType:  r.ReviewType,
		User:        r.User,
	}
}

type checkResponse struct {
	Success bool                   `json:"success"`
	Errors  []proofread.Correction `json:"errors"`
	Dropped map[string]int         `json:"dropped,omitempty"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.checker.Check(r.Context(), req.toRequest())
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := checkResponse{Success: true, Errors: res.Corrections, Dropped: dropped(res.Stats)}
	if resp.Errors == nil {
		resp.Errors = []proofread.Correction{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// dropped returns the non-zero drop counts of s.
func dropped(s proofread.Stats) map[string]int {
	out := map[string]int{}
	if !s.Parsed {
		out["extract"] = 1
	}
	for stage, n := range s.Dropped() {
		if n > 0 {
			out[stage] = n
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (h *Handler) recentChecks(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = min(n, maxRecentLimit)
	}

	entries, err := h.checks.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []checklog.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"checks": entries})
}

type createSessionRequest struct {
	Text string `json:"text"`
	app.Meta
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.sessions.Create(req.Text, req.Meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/sessions/"+v.ID)
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.sessions.List()})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	v, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setTextRequest struct {
	Text *string `json:"text"`
}

func (h *Handler) setText(w http.ResponseWriter, r *http.Request) {
	var req setTextRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Text == nil {
		writeError(w, r, fmt.Errorf("%w: text is required", errBadRequest))
		return
	}
	v, err := h.sessions.SetText(r.PathValue("id"), *req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type sessionCheckResponse struct {
	Token   uint64         `json:"token"`
	View    *app.View      `json:"view,omitempty"`
	Dropped map[string]int `json:"dropped,omitempty"`
}

// checkSession waits for the check unless the query sets wait=false, in
// which case it answers 202 with the request token and the result arrives
// on the event stream.
func (h *Handler) checkSession(w http.ResponseWriter, r *http.Request) {
	wait := true
	if s := r.URL.Query().Get("wait"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: wait must be a boolean", errBadRequest))
			return
		}
		wait = b
	}

	ch, err := h.sessions.Check(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !wait {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "checking"})
		return
	}

	select {
	case <-r.Context().Done():
		return
	case o := <-ch:
		switch {
		case o.Err != nil:
			writeError(w, r, o.Err)
		case o.Stale:
			writeError(w, r, fmt.Errorf("check %d: %w", o.Token, proofread.ErrStaleRequest))
		default:
			writeJSON(w, http.StatusOK, sessionCheckResponse{Token: o.Token, View: &o.View, Dropped: dropped(o.Stats)})
		}
	}
}

func (h *Handler) applyCorrection(w http.ResponseWriter, r *http.Request) {
	v, err := h.sessions.Apply(r.Context(), r.PathValue("id"), r.PathValue("cid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) dismissCorrection(w http.ResponseWriter, r *http.Request) {
	v, err := h.sessions.Dismiss(r.PathValue("id"), r.PathValue("cid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type applyAllResponse struct {
	Applied int `json:"applied"`
	app.View
}

func (h *Handler) applyAll(w http.ResponseWriter, r *http.Request) {
	v, n, err := h.sessions.ApplyAll(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, applyAllResponse{Applied: n, View: v})
}

// decode reads a JSON body into v. An empty body leaves v unchanged.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, app.ErrSessionNotFound),
		errors.Is(err, proofread.ErrUnknownCorrection):
		return http.StatusNotFound
	case errors.Is(err, proofread.ErrSpanDrift),
		errors.Is(err, proofread.ErrStaleRequest):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, llmcheck.ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, llmcheck.ErrCompletion),
		errors.Is(err, resilience.ErrAllFailed),
		errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	} else {
		log.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
