// Package grpc exposes the chat gateway as a bidirectional gRPC stream.
// Frames travel as google.protobuf.Struct values carrying the same
// {event, data, ack} envelope the websocket gateway uses.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/mediarelay/internal/logging"
	"github.com/dmitrijs2005/mediarelay/internal/server/auth"
	"github.com/dmitrijs2005/mediarelay/internal/server/delivery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type GRPCServer struct {
	address  string
	hub      *delivery.Hub
	router   *delivery.Router
	verifier auth.Verifier
	logger   logging.Logger
	health   *health.Server
}

func NewGRPCServer(a string, l logging.Logger, hub *delivery.Hub, router *delivery.Router, verifier auth.Verifier) *GRPCServer {
	return &GRPCServer{
		address:  a,
		logger:   l.With("module", "grpc_server"),
		hub:      hub,
		router:   router,
		verifier: verifier,
		health:   health.NewServer(),
	}
}

// Register installs the chat and health services on srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	srv.RegisterService(&chatServiceDesc, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus(chatServiceName, healthpb.HealthCheckResponse_SERVING)
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainStreamInterceptor(s.accessTokenInterceptor))
	s.Register(srv)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)

	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
