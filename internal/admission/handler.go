package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Identity headers set by the Gateway.
const (
	HeaderUserID   = "x-user-id"
	HeaderUserRole = "x-user-role"
)

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler holds shared dependencies.
type Handler struct {
	svc *Service
}

// NewHandler returns a configured Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts all admission-service routes on mux. Every route
// expects x-user-id and x-user-role headers forwarded by the Gateway.
//
//	POST  /jobs                              → open a job posting
//	GET   /jobs/{id}/stats                   → capacity view of a job
//	GET   /jobs/{id}/applications            → list a job's applications
//	POST  /jobs/{id}/reevaluate              → resume an interrupted cascade
//	POST  /applications                      → apply to a job
//	GET   /applications/has-applied?jobId=   → has the caller applied?
//	GET   /applications/{id}                 → fetch one application
//	PATCH /applications/{id}/status          → accept or reject
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/jobs", h.handleJobs)
	mux.HandleFunc("/jobs/", h.handleJobAction)
	mux.HandleFunc("/applications", h.handleApplications)
	mux.HandleFunc("/applications/", h.handleApplicationAction)
}

// ─── Route dispatch ───────────────────────────────────────────────────────────

// handleJobs handles POST /jobs
func (h *Handler) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.createJob(w, r)
}

// handleJobAction handles /jobs/{id}/stats|applications|reevaluate
func (h *Handler) handleJobAction(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	jobID, err := uuid.Parse(parts[1])
	if err != nil {
		jsonError(w, "invalid job id", http.StatusBadRequest)
		return
	}

	switch action := parts[2]; {
	case action == "stats" && r.Method == http.MethodGet:
		h.jobStats(w, r, jobID)
	case action == "applications" && r.Method == http.MethodGet:
		h.listForJob(w, r, jobID)
	case action == "reevaluate" && r.Method == http.MethodPost:
		h.reevaluate(w, r, jobID)
	case action == "stats" || action == "applications" || action == "reevaluate":
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	default:
		jsonError(w, fmt.Sprintf("unknown action %q", action), http.StatusNotFound)
	}
}

// handleApplications handles POST /applications
func (h *Handler) handleApplications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.submit(w, r)
}

// handleApplicationAction handles GET /applications/{id},
// PATCH|POST /applications/{id}/status and GET /applications/has-applied
func (h *Handler) handleApplicationAction(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	if len(parts) == 2 && parts[1] == "has-applied" {
		if r.Method != http.MethodGet {
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.hasApplied(w, r)
		return
	}

	if len(parts) < 2 || len(parts) > 3 {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	appID, err := uuid.Parse(parts[1])
	if err != nil {
		jsonError(w, "invalid application id", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		h.getApplication(w, r, appID)
	case len(parts) == 3 && parts[2] == "status" &&
		(r.Method == http.MethodPatch || r.Method == http.MethodPost):
		h.changeStatus(w, r, appID)
	case len(parts) == 3 && parts[2] != "status":
		jsonError(w, fmt.Sprintf("unknown action %q", parts[2]), http.StatusNotFound)
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ─── Individual handlers ──────────────────────────────────────────────────────

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		Title              string `json:"title"`
		AvailablePositions *int   `json:"availablePositions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AvailablePositions == nil {
		jsonError(w, "body must contain title and availablePositions", http.StatusBadRequest)
		return
	}

	job, err := h.svc.CreateJob(r.Context(), actor, body.Title, *body.AvailablePositions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonStatus(w, http.StatusCreated, job)
}

func (h *Handler) jobStats(w http.ResponseWriter, r *http.Request, jobID uuid.UUID) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	stats, err := h.svc.GetJobStats(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonOK(w, stats)
}

func (h *Handler) listForJob(w http.ResponseWriter, r *http.Request, jobID uuid.UUID) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	apps, err := h.svc.ListForJob(r.Context(), jobID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if apps == nil {
		apps = []Application{}
	}
	jsonOK(w, apps)
}

func (h *Handler) reevaluate(w http.ResponseWriter, r *http.Request, jobID uuid.UUID) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	n, err := h.svc.ReevaluateAs(r.Context(), jobID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonOK(w, map[string]any{"jobId": jobID, "rejected": n})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		JobID          string `json:"jobId"`
		CandidateEmail string `json:"candidateEmail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	jobID, err := uuid.Parse(body.JobID)
	if err != nil {
		jsonError(w, "body must contain a valid jobId", http.StatusBadRequest)
		return
	}

	app, err := h.svc.Submit(r.Context(), jobID, actor, body.CandidateEmail)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonStatus(w, http.StatusCreated, app)
}

func (h *Handler) hasApplied(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	jobID, err := uuid.Parse(r.URL.Query().Get("jobId"))
	if err != nil {
		jsonError(w, "query must contain a valid jobId", http.StatusBadRequest)
		return
	}

	applied, err := h.svc.HasApplied(r.Context(), actor.ID, jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonOK(w, map[string]bool{"hasApplied": applied})
}

func (h *Handler) getApplication(w http.ResponseWriter, r *http.Request, appID uuid.UUID) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	app, err := h.svc.GetApplication(r.Context(), appID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonOK(w, app)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, appID uuid.UUID) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		jsonError(w, "body must contain status", http.StatusBadRequest)
		return
	}

	app, err := h.svc.ChangeStatus(r.Context(), appID, RequestedStatus(body.Status), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonOK(w, app)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// actorFrom resolves the caller from the Gateway headers, writing a 401 and
// returning false when they are missing or malformed.
func actorFrom(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	actor, err := ParseActor(r.Header.Get(HeaderUserID), r.Header.Get(HeaderUserRole))
	if err != nil {
		jsonError(w, err.Error(), http.StatusUnauthorized)
		return Actor{}, false
	}
	return actor, true
}

// ParseActor builds an Actor from the raw identity values forwarded by the
// Gateway.
func ParseActor(rawID, rawRole string) (Actor, error) {
	if rawID == "" {
		return Actor{}, errors.New("missing " + HeaderUserID)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Actor{}, errors.Newf("invalid %s", HeaderUserID)
	}
	role, err := ParseRole(strings.ToUpper(rawRole))
	if err != nil {
		return Actor{}, errors.Newf("invalid %s %q", HeaderUserRole, rawRole)
	}
	return Actor{ID: id, Role: role}, nil
}

// RequestedStatus normalizes a status named by a client. Both transports
// accept any letter case.
func RequestedStatus(raw string) Status {
	return Status(strings.ToUpper(raw))
}

// StatusClientClosedRequest is returned when the caller went away before the
// engine finished, e.g. while waiting for the job lock.
const StatusClientClosedRequest = 499

// HTTPStatus maps an engine error to the response status code.
func HTTPStatus(err error) int {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := HTTPStatus(err)
	switch code {
	case StatusClientClosedRequest:
		slog.DebugContext(r.Context(), "client went away", "method", r.Method, "path", r.URL.Path, "err", err)
		jsonError(w, "request cancelled", code)
		return
	case http.StatusInternalServerError:
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		jsonError(w, "internal error", code)
		return
	}

	var ce *ConflictError
	if errors.As(err, &ce) {
		jsonStatus(w, code, map[string]string{"error": err.Error(), "reason": ce.Reason.Error()})
		return
	}
	jsonError(w, err.Error(), code)
}

func jsonOK(w http.ResponseWriter, v any) {
	jsonStatus(w, http.StatusOK, v)
}

func jsonStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	jsonStatus(w, code, map[string]string{"error": msg})
}
