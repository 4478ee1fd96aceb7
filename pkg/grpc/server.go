package grpcserver

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	grpcStatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fluxo/calgen/pkg/logger"
)

// ServiceName is the status service registered on the server and in the health service
const ServiceName = "calgen.v1.StatusService"

const getStatusMethod = "/" + ServiceName + "/GetStatus"

// Snapshotter supplies the live run report
type Snapshotter interface {
	Snapshot() (*structpb.Struct, error)
}

// StatusServer is the server API of calgen.v1.StatusService
type StatusServer interface {
	GetStatus(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// statusServiceDesc is declared by hand: the service has one unary method
// using well-known types, so no generated code is needed.
var statusServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StatusServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "calgen/v1/status.proto",
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatusServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getStatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StatusServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Server exposes run status and health over gRPC
type Server struct {
	port       int
	logger     *logger.Logger
	snapshots  Snapshotter
	health     *health.Server
	grpcServer *grpc.Server
}

// NewServer creates a status server. The service reports NOT_SERVING until
// SetServing(true) is called.
func NewServer(port int, snapshots Snapshotter, log *logger.Logger) *Server {
	s := &Server{
		port:      port,
		logger:    log,
		snapshots: snapshots,
		health:    health.NewServer(),
	}

	s.grpcServer = grpc.NewServer()
	s.grpcServer.RegisterService(&statusServiceDesc, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)

	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Start listens on the configured port and serves in the background
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.Serve(lis)
	return nil
}

// Serve serves on lis in the background
func (s *Server) Serve(lis net.Listener) {
	s.logger.Info("Status server starting", logger.Fields{"addr": lis.Addr().String()})

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			s.logger.Error("Status server error", logger.Fields{"error": err.Error()})
		}
	}()
}

// SetServing flips the health status of the status service
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	s.logger.Info("Stopping status server...")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	s.logger.Info("Status server stopped")
}

// GetStatus implements StatusServer
func (s *Server) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	contextLogger := s.logger.WithContext(ctx).WithComponent("status_server")

	snap, err := s.snapshots.Snapshot()
	if err != nil {
		contextLogger.LogError("StatusSnapshotError", "Failed to build status snapshot", "SNAPSHOT_ERROR", err.Error(), nil)
		return nil, grpcStatus.Error(codes.Internal, "failed to build status snapshot")
	}

	contextLogger.LogDebug("StatusQueried", "Status query served", nil)
	return snap, nil
}

// GetStatus calls calgen.v1.StatusService/GetStatus on conn
func GetStatus(ctx context.Context, conn grpc.ClientConnInterface) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, getStatusMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}
