// Package grpcserver implements the AdmissionService gRPC server.
//
// It delegates all business logic to admission.Service and handles
// only the gRPC transport concerns: metadata extraction, error mapping,
// and conversion between the domain model and wire messages. Messages are
// google.protobuf.Struct values, so no generated code is needed on either
// side.
package grpcserver

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"jobmate/admission-service/internal/admission"
)

// Server implements AdmissionServer.
type Server struct {
	svc *admission.Service
}

var _ AdmissionServer = (*Server)(nil)

// NewServer constructs a gRPC Server backed by the given admission.Service.
func NewServer(svc *admission.Service) *Server {
	return &Server{svc: svc}
}

// ─── RPC implementations ──────────────────────────────────────────────────────

// ChangeStatus accepts or rejects an application.
// Request: {applicationId, status}. Response: the updated application.
func (s *Server) ChangeStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	appID, err := uuidField(req, "applicationId")
	if err != nil {
		return nil, err
	}
	st := stringField(req, "status")
	if st == "" {
		return nil, status.Error(codes.InvalidArgument, "status is required")
	}

	app, err := s.svc.ChangeStatus(ctx, appID, admission.RequestedStatus(st), actor)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return appToStruct(app)
}

// GetJobStats returns the capacity view of a job.
// Request: {jobId}.
func (s *Server) GetJobStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := actorFromCtx(ctx); err != nil {
		return nil, err
	}
	jobID, err := uuidField(req, "jobId")
	if err != nil {
		return nil, err
	}

	stats, err := s.svc.GetJobStats(ctx, jobID)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return statsToStruct(stats)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// actorFromCtx extracts the x-user-id and x-user-role values forwarded by the
// Gateway via gRPC metadata.
func actorFromCtx(ctx context.Context) (admission.Actor, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return admission.Actor{}, status.Error(codes.Unauthenticated, "missing metadata")
	}
	actor, err := admission.ParseActor(first(md, admission.HeaderUserID), first(md, admission.HeaderUserRole))
	if err != nil {
		return admission.Actor{}, status.Error(codes.Unauthenticated, err.Error())
	}
	return actor, nil
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func stringField(req *structpb.Struct, name string) string {
	if v, ok := req.GetFields()[name]; ok {
		return v.GetStringValue()
	}
	return ""
}

func uuidField(req *structpb.Struct, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(stringField(req, name))
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s must be a UUID", name)
	}
	return id, nil
}

// toGRPCError maps domain errors to gRPC status errors.
func toGRPCError(err error) error {
	var ve *admission.ValidationError
	var ce *admission.ConflictError
	switch {
	case errors.As(err, &ve):
		return status.Error(codes.InvalidArgument, ve.Msg)
	case errors.Is(err, admission.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, admission.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.As(err, &ce):
		return status.Errorf(codes.FailedPrecondition, "%s: %s", ce.Reason, err)
	case errors.Is(err, admission.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, "internal server error")
}

// appToStruct converts an admission.Application to its wire representation.
func appToStruct(a *admission.Application) (*structpb.Struct, error) {
	history := make([]any, 0, len(a.History))
	for _, h := range a.History {
		history = append(history, map[string]any{
			"from":    string(h.From),
			"to":      string(h.To),
			"at":      h.At.Format(time.RFC3339Nano),
			"actorId": h.ActorID.String(),
			"cause":   string(h.Cause),
		})
	}
	return structpb.NewStruct(map[string]any{
		"id":             a.ID.String(),
		"jobId":          a.JobID.String(),
		"candidateId":    a.CandidateID.String(),
		"candidateEmail": a.CandidateEmail,
		"status":         string(a.Status),
		"history":        history,
		"appliedAt":      a.AppliedAt.Format(time.RFC3339Nano),
		"updatedAt":      a.UpdatedAt.Format(time.RFC3339Nano),
	})
}

func statsToStruct(st *admission.JobStats) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"jobId":              st.JobID.String(),
		"title":              st.Title,
		"availablePositions": st.AvailablePositions,
		"acceptedCount":      st.AcceptedCount,
		"remainingPositions": st.RemainingPositions,
	})
}

// Register mounts srv on s.
func Register(s *grpc.Server, srv AdmissionServer) {
	s.RegisterService(&ServiceDesc, srv)
}
