package grpcserver_test

import (
	"context"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"jobmate/admission-service/internal/admission"
	"jobmate/admission-service/internal/grpcserver"
	"jobmate/admission-service/internal/notify"
	"jobmate/admission-service/internal/store/memory"
)

type env struct {
	client    *grpcserver.Client
	store     *memory.Store
	svc       *admission.Service
	recruiter admission.Actor
}

func setup(t *testing.T) *env {
	t.Helper()
	store := memory.New()
	svc := admission.NewService(store, notify.LogNotifier{})

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.LoggingInterceptor))
	grpcserver.Register(srv, grpcserver.NewServer(svc))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &env{
		client:    grpcserver.NewClient(conn),
		store:     store,
		svc:       svc,
		recruiter: admission.Actor{ID: uuid.New(), Role: admission.RoleRecruiter},
	}
}

func as(actor admission.Actor) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(),
		admission.HeaderUserID, actor.ID.String(),
		admission.HeaderUserRole, string(actor.Role))
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func (e *env) jobWithApps(t *testing.T, positions, apps int) (*admission.Job, []*admission.Application) {
	t.Helper()
	ctx := context.Background()
	job, err := e.svc.CreateJob(ctx, e.recruiter, "Platform Engineer", positions)
	require.NoError(t, err)

	out := make([]*admission.Application, 0, apps)
	for range apps {
		c := admission.Actor{ID: uuid.New(), Role: admission.RoleCandidate}
		app, err := e.svc.Submit(ctx, job.ID, c, "cand@example.com")
		require.NoError(t, err)
		out = append(out, app)
	}
	return job, out
}

func TestChangeStatus_AcceptAndStats(t *testing.T) {
	e := setup(t)
	job, apps := e.jobWithApps(t, 1, 2)

	resp, err := e.client.ChangeStatus(as(e.recruiter), mustStruct(t, map[string]any{
		"applicationId": apps[0].ID.String(),
		"status":        "ACCEPTED",
	}))
	require.NoError(t, err)
	assert.Equal(t, "ACCEPTED", resp.Fields["status"].GetStringValue())
	assert.Equal(t, job.ID.String(), resp.Fields["jobId"].GetStringValue())
	assert.Len(t, resp.Fields["history"].GetListValue().GetValues(), 1)

	stats, err := e.client.GetJobStats(as(e.recruiter), mustStruct(t, map[string]any{"jobId": job.ID.String()}))
	require.NoError(t, err)
	assert.Equal(t, 1.0, stats.Fields["acceptedCount"].GetNumberValue())
	assert.Equal(t, 0.0, stats.Fields["remainingPositions"].GetNumberValue())
	assert.Equal(t, "Platform Engineer", stats.Fields["title"].GetStringValue())
}

func TestChangeStatus_StatusAnyCase(t *testing.T) {
	e := setup(t)
	_, apps := e.jobWithApps(t, 2, 2)

	resp, err := e.client.ChangeStatus(as(e.recruiter), mustStruct(t, map[string]any{
		"applicationId": apps[0].ID.String(),
		"status":        "accepted",
	}))
	require.NoError(t, err)
	assert.Equal(t, "ACCEPTED", resp.Fields["status"].GetStringValue())

	resp, err = e.client.ChangeStatus(as(e.recruiter), mustStruct(t, map[string]any{
		"applicationId": apps[1].ID.String(),
		"status":        "Rejected",
	}))
	require.NoError(t, err)
	assert.Equal(t, "REJECTED", resp.Fields["status"].GetStringValue())
}

func TestChangeStatus_ErrorCodes(t *testing.T) {
	e := setup(t)
	_, apps := e.jobWithApps(t, 1, 2)
	stranger := admission.Actor{ID: uuid.New(), Role: admission.RoleRecruiter}

	_, err := e.client.ChangeStatus(as(e.recruiter), mustStruct(t, map[string]any{
		"applicationId": apps[0].ID.String(), "status": "ACCEPTED",
	}))
	require.NoError(t, err)

	cases := []struct {
		name  string
		ctx   context.Context
		req   map[string]any
		wantc codes.Code
	}{
		{"no identity", context.Background(), map[string]any{"applicationId": apps[1].ID.String(), "status": "REJECTED"}, codes.Unauthenticated},
		{"not owner", as(stranger), map[string]any{"applicationId": apps[1].ID.String(), "status": "REJECTED"}, codes.PermissionDenied},
		{"finalized", as(e.recruiter), map[string]any{"applicationId": apps[1].ID.String(), "status": "ACCEPTED"}, codes.FailedPrecondition},
		{"missing", as(e.recruiter), map[string]any{"applicationId": uuid.NewString(), "status": "ACCEPTED"}, codes.NotFound},
		{"bad id", as(e.recruiter), map[string]any{"applicationId": "x", "status": "ACCEPTED"}, codes.InvalidArgument},
		{"bad status", as(e.recruiter), map[string]any{"applicationId": apps[1].ID.String(), "status": "HIRED"}, codes.InvalidArgument},
		{"no status", as(e.recruiter), map[string]any{"applicationId": apps[1].ID.String()}, codes.InvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.client.ChangeStatus(tc.ctx, mustStruct(t, tc.req))
			assert.Equal(t, tc.wantc, status.Code(err), err)
		})
	}
}

func TestGetJobStats_NotFound(t *testing.T) {
	e := setup(t)
	_, err := e.client.GetJobStats(as(e.recruiter), mustStruct(t, map[string]any{"jobId": uuid.NewString()}))
	assert.Equal(t, codes.NotFound, status.Code(err))
}
