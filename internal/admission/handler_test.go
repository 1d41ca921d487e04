package admission_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/admission-service/internal/admission"
)

type httpFixture struct {
	*fixture
	mux *http.ServeMux
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()
	f := newFixture(t)
	mux := http.NewServeMux()
	admission.NewHandler(f.svc).RegisterRoutes(mux)
	return &httpFixture{fixture: f, mux: mux}
}

func (h *httpFixture) do(t *testing.T, method, path string, actor *admission.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != nil {
		req.Header.Set(admission.HeaderUserID, actor.ID.String())
		req.Header.Set(admission.HeaderUserRole, string(actor.Role))
	}
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestHandler_FullFlow(t *testing.T) {
	h := newHTTPFixture(t)

	rec := h.do(t, http.MethodPost, "/jobs", &h.recruiter, map[string]any{"title": "Go Developer", "availablePositions": 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	job := decode[admission.Job](t, rec)

	c1, c2 := candidate(), candidate()
	rec = h.do(t, http.MethodPost, "/applications", &c1, map[string]string{"jobId": job.ID.String(), "candidateEmail": "c1@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a1 := decode[admission.Application](t, rec)

	rec = h.do(t, http.MethodPost, "/applications", &c2, map[string]string{"jobId": job.ID.String(), "candidateEmail": "c2@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)
	a2 := decode[admission.Application](t, rec)

	rec = h.do(t, http.MethodGet, "/applications/has-applied?jobId="+job.ID.String(), &c1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"hasApplied": true}, decode[map[string]bool](t, rec))

	rec = h.do(t, http.MethodPatch, "/applications/"+a1.ID.String()+"/status", &h.recruiter, map[string]string{"status": "accepted"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, admission.StatusAccepted, decode[admission.Application](t, rec).Status)

	rec = h.do(t, http.MethodGet, "/applications/"+a2.ID.String(), &c2, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, admission.StatusRejected, decode[admission.Application](t, rec).Status)

	rec = h.do(t, http.MethodGet, "/jobs/"+job.ID.String()+"/stats", &h.recruiter, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[admission.JobStats](t, rec)
	assert.Equal(t, 1, stats.AcceptedCount)
	assert.Equal(t, 0, stats.RemainingPositions)

	rec = h.do(t, http.MethodGet, "/jobs/"+job.ID.String()+"/applications", &h.recruiter, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]admission.Application](t, rec), 2)
}

func TestHandler_ErrorMapping(t *testing.T) {
	h := newHTTPFixture(t)
	job := h.job(t, 1)
	accepted := h.seed(job, admission.StatusAccepted)
	pending := h.seed(job, admission.StatusPending)

	cases := []struct {
		name   string
		method string
		path   string
		actor  *admission.Actor
		body   any
		want   int
	}{
		{"missing identity", http.MethodGet, "/jobs/" + job.ID.String() + "/stats", nil, nil, http.StatusUnauthorized},
		{"unknown job", http.MethodGet, "/jobs/" + uuid.NewString() + "/stats", &h.admin, nil, http.StatusNotFound},
		{"bad job id", http.MethodGet, "/jobs/nope/stats", &h.admin, nil, http.StatusBadRequest},
		{"non-owner", http.MethodPatch, "/applications/" + pending.ID.String() + "/status", &h.stranger, map[string]string{"status": "REJECTED"}, http.StatusForbidden},
		{"already finalized", http.MethodPatch, "/applications/" + accepted.ID.String() + "/status", &h.admin, map[string]string{"status": "REJECTED"}, http.StatusConflict},
		{"capacity exhausted", http.MethodPost, "/applications/" + pending.ID.String() + "/status", &h.admin, map[string]string{"status": "ACCEPTED"}, http.StatusConflict},
		{"unknown status", http.MethodPatch, "/applications/" + pending.ID.String() + "/status", &h.admin, map[string]string{"status": "HIRED"}, http.StatusBadRequest},
		{"empty body", http.MethodPatch, "/applications/" + pending.ID.String() + "/status", &h.admin, nil, http.StatusBadRequest},
		{"unknown action", http.MethodPost, "/applications/" + pending.ID.String() + "/archive", &h.admin, nil, http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/applications/" + pending.ID.String(), &h.admin, nil, http.StatusMethodNotAllowed},
		{"jobs wrong method", http.MethodGet, "/jobs", &h.admin, nil, http.StatusMethodNotAllowed},
		{"candidate creates job", http.MethodPost, "/jobs", &admission.Actor{ID: uuid.New(), Role: admission.RoleCandidate}, map[string]any{"title": "x", "availablePositions": 1}, http.StatusForbidden},
		{"missing positions", http.MethodPost, "/jobs", &h.recruiter, map[string]any{"title": "x"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, tc.method, tc.path, tc.actor, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestHandler_ConflictCarriesReason(t *testing.T) {
	h := newHTTPFixture(t)
	app := h.seed(h.job(t, 1), admission.StatusRejected)

	rec := h.do(t, http.MethodPatch, "/applications/"+app.ID.String()+"/status", &h.admin, map[string]string{"status": "ACCEPTED"})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, admission.ErrAlreadyFinalized.Error(), body["reason"])
}

func TestHandler_Reevaluate(t *testing.T) {
	h := newHTTPFixture(t)
	job := h.job(t, 1)
	h.seed(job, admission.StatusAccepted)
	stray := h.seed(job, admission.StatusPending)

	rec := h.do(t, http.MethodPost, "/jobs/"+job.ID.String()+"/reevaluate", &h.stranger, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodPost, "/jobs/"+job.ID.String()+"/reevaluate", &h.recruiter, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["rejected"])
	assert.Equal(t, admission.StatusRejected, h.status(t, stray.ID))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, admission.HTTPStatus(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, admission.HTTPStatus(assert.AnError))
	assert.Equal(t, http.StatusNotFound, admission.HTTPStatus(admission.NotFound("job", uuid.New())))
	assert.Equal(t, admission.StatusClientClosedRequest, admission.HTTPStatus(fmt.Errorf("wait for job: %w", context.Canceled)))
}

func TestHandler_CancelledRequestIsNotInternalError(t *testing.T) {
	h := newHTTPFixture(t)
	app := h.seed(h.job(t, 1), admission.StatusPending)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPatch, "/applications/"+app.ID.String()+"/status",
		strings.NewReader(`{"status":"ACCEPTED"}`)).WithContext(ctx)
	req.Header.Set(admission.HeaderUserID, h.recruiter.ID.String())
	req.Header.Set(admission.HeaderUserRole, string(h.recruiter.Role))
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)

	assert.Equal(t, admission.StatusClientClosedRequest, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]string{"error": "request cancelled"}, decode[map[string]string](t, rec))
	assert.Equal(t, admission.StatusPending, h.status(t, app.ID))
}

func TestRequestedStatus(t *testing.T) {
	assert.Equal(t, admission.StatusAccepted, admission.RequestedStatus("accepted"))
	assert.Equal(t, admission.StatusRejected, admission.RequestedStatus("Rejected"))
	assert.Equal(t, admission.Status("HIRED"), admission.RequestedStatus("hired"))
}
