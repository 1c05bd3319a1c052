package server

import (
	"context"
	"fmt"
	"net"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	gatev1 "github.com/ppiankov/actiongate/api/gate/v1"
	"github.com/ppiankov/actiongate/internal/dispatch"
	"github.com/ppiankov/actiongate/internal/gate"
	"github.com/ppiankov/actiongate/internal/model"
	"github.com/ppiankov/actiongate/internal/policy"
)

// Config holds gRPC server configuration.
type Config struct {
	Addr string
}

// Server implements the actiongate.v1.Gate gRPC service.
type Server struct {
	gate   *gate.Gate
	logger *log.Logger
	cfg    Config

	grpcServer *grpc.Server
}

// New creates a gRPC server in front of g.
func New(g *gate.Gate, cfg Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		gate:       g,
		logger:     logger,
		cfg:        cfg,
		grpcServer: grpc.NewServer(grpc.ChainUnaryInterceptor(logUnary(logger))),
	}
	gatev1.RegisterGateServer(s.grpcServer, s)
	return s
}

// Serve listens on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.ServeOn(lis)
}

// ServeOn serves on the given listener.
func (s *Server) ServeOn(lis net.Listener) error {
	s.logger.Info("gate server listening", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Evaluate implements the Evaluate RPC.
func (s *Server) Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req gatev1.EvaluateRequest
	if err := gatev1.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := policy.ValidateTenantID(req.TenantID); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "tenant_id: %v", err)
	}

	session := s.gate.Open(ctx, req.TenantID, req.ActorID)
	var action model.ActionRequest
	switch {
	case req.Request != nil:
		action = *req.Request
	case req.Tool != "":
		tool, ok := s.gate.Registry().Lookup(req.Tool)
		if !ok {
			return nil, status.Errorf(codes.NotFound, "unknown_tool: %s", req.Tool)
		}
		args, err := dispatch.ParseArgs(req.Args)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, dispatch.CodeBadJSON)
		}
		action = tool.Request(args)
	default:
		return nil, status.Error(codes.InvalidArgument, "request or tool is required")
	}

	return gatev1.Encode(gatev1.EvaluateResponse{
		Decision:     session.Check(action),
		Request:      action,
		PolicyHash:   session.Policy().Hash(),
		PolicySource: session.Policy().Source(),
	})
}

// Execute implements the Execute RPC.
func (s *Server) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req gatev1.ExecuteRequest
	if err := gatev1.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := policy.ValidateTenantID(req.TenantID); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "tenant_id: %v", err)
	}
	if req.ActorID == "" {
		return nil, status.Error(codes.InvalidArgument, "actor_id is required")
	}

	out := s.gate.Open(ctx, req.TenantID, req.ActorID).Execute(ctx, req.Tool, req.Args)
	return gatev1.Encode(toResponse(out))
}

// Approve implements the Approve RPC.
func (s *Server) Approve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req gatev1.ApproveRequest
	if err := gatev1.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.ID == "" || req.Approver == "" {
		return nil, status.Error(codes.InvalidArgument, "id and approver are required")
	}

	out, err := s.gate.Approve(ctx, req.ID, req.Approver)
	if err != nil {
		return nil, toStatus(err)
	}
	return gatev1.Encode(toResponse(out))
}

// Reject implements the Reject RPC.
func (s *Server) Reject(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req gatev1.RejectRequest
	if err := gatev1.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.ID == "" || req.Approver == "" {
		return nil, status.Error(codes.InvalidArgument, "id and approver are required")
	}

	p, err := s.gate.Reject(ctx, req.ID, req.Approver, req.Note)
	if err != nil {
		return nil, toStatus(err)
	}
	return gatev1.Encode(gatev1.ProposalResponse{Proposal: p})
}

// ListPending implements the ListPending RPC.
func (s *Server) ListPending(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req gatev1.ListPendingRequest
	if err := gatev1.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	list, err := s.gate.Pending(ctx, req.TenantID)
	if err != nil {
		return nil, toStatus(err)
	}
	return gatev1.Encode(gatev1.ListPendingResponse{Proposals: list})
}

func toResponse(out gate.Outcome) gatev1.ExecuteResponse {
	return gatev1.ExecuteResponse{
		Decision: out.Decision,
		Proposal: out.Proposal,
		Result:   out.Result,
		Error:    out.Error,
		Message:  out.Message(),
	}
}

// toStatus maps the error taxonomy onto gRPC codes.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, model.ErrProposalNotFound):
		code = codes.NotFound
	case errors.Is(err, model.ErrLocked):
		code = codes.Aborted
	case errors.Is(err, model.ErrProposalResolved),
		errors.Is(err, model.ErrProposalExpired),
		errors.Is(err, model.ErrAuthorityDenied),
		errors.Is(err, model.ErrPolicyDenied):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

func logUnary(logger *log.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		resp, err := next(ctx, req)
		if err != nil {
			logger.Warn("rpc failed", "method", info.FullMethod, "error", err)
		} else {
			logger.Debug("rpc", "method", info.FullMethod)
		}
		return resp, err
	}
}
