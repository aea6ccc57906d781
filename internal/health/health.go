// Package health serves the standard gRPC health checking protocol for the
// bridge, so supervisors can probe it without speaking HTTP.
package health

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/banshee-data/marcopolo/internal/monitoring"
)

// BridgeService is the service name reported alongside the overall ("")
// status.
const BridgeService = "marcopolo.Bridge"

var logf = monitoring.Component("health")

// Server wraps a grpc.Server carrying only the health service.
type Server struct {
	addr    string
	server  *grpc.Server
	health  *health.Server
	lis     net.Listener
	running atomic.Bool
	wg      sync.WaitGroup
}

// New returns a server that reports NOT_SERVING until SetServing(true).
func New(addr string) *Server {
	s := &Server{
		addr:   addr,
		server: grpc.NewServer(),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)
	s.SetServing(false)
	return s
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.Serve(lis)
	return nil
}

// Serve serves on an existing listener in the background.
func (s *Server) Serve(lis net.Listener) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.lis = lis
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logf("gRPC health listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			logf("gRPC server error: %v", err)
		}
	}()
}

// Addr is the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	return s.addr
}

// SetServing flips both the overall and the bridge service status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(BridgeService, status)
}

// Stop marks everything NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.server.GracefulStop()
	s.wg.Wait()
	logf("gRPC health server stopped")
}
