// Package grpcserver implements the gRPC service for running
// dimensionality-reduction methods.
//
// Messages are plain Go structs carried by a JSON codec registered under
// the "json" content subtype. All business logic is delegated to
// internal/service.RunService.
package grpcserver

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openproblems/dimred/internal/service"
	"github.com/openproblems/dimred/pkg/method"
)

// Server implements MethodsServer.
type Server struct {
	svc     *service.RunService
	metrics *Metrics
}

// New creates a new gRPC server backed by svc. metrics may be nil.
func New(svc *service.RunService, metrics *Metrics) *Server {
	return &Server{svc: svc, metrics: metrics}
}

// NewGRPCServer returns a grpc.Server with the recovery, logging and
// (when m is non-nil) metrics interceptors installed and srv registered.
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) *grpc.Server {
	interceptors := []grpc.UnaryServerInterceptor{
		RecoveryUnaryInterceptor(),
		LoggingUnaryInterceptor(),
	}
	if srv.metrics != nil {
		interceptors = append(interceptors, srv.metrics.UnaryInterceptor())
	}
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(256 * 1024 * 1024),
		grpc.MaxSendMsgSize(64 * 1024 * 1024),
		grpc.ChainUnaryInterceptor(interceptors...),
	}, opts...)

	gs := grpc.NewServer(opts...)
	RegisterMethodsServer(gs, srv)
	return gs
}

func (s *Server) ListMethods(ctx context.Context, _ *ListMethodsRequest) (*ListMethodsResponse, error) {
	return &ListMethodsResponse{Methods: s.svc.ListMethods(ctx)}, nil
}

func (s *Server) RunMethod(ctx context.Context, req *RunMethodRequest) (*RunMethodResponse, error) {
	if req.Method == "" {
		return nil, status.Error(codes.InvalidArgument, "method is required")
	}
	if len(req.Rows) == 0 {
		return nil, status.Error(codes.InvalidArgument, "rows are required")
	}

	start := time.Now()
	rec, err := s.svc.Run(ctx, service.RunRequest{
		Method:   req.Method,
		Dataset:  req.Dataset,
		Rows:     req.Rows,
		ObsNames: req.ObsNames,
		VarNames: req.VarNames,
		Options:  method.Options{Test: req.Test, NPCA: req.NPCA},
	})
	if err != nil {
		return nil, mapError(err)
	}
	s.metrics.observeRun(req.Method, time.Since(start))

	return &RunMethodResponse{Result: rec}, nil
}

func (s *Server) GetResult(ctx context.Context, req *GetResultRequest) (*GetResultResponse, error) {
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	rec, err := s.svc.GetResult(ctx, req.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return &GetResultResponse{Result: rec}, nil
}

// mapError translates service-layer errors to gRPC status codes.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return status.Errorf(codes.InvalidArgument, "%v", err)
	case errors.Is(err, service.ErrNotFound):
		return status.Errorf(codes.NotFound, "%v", err)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%v", err)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%v", err)
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}

var _ MethodsServer = (*Server)(nil)
