package health

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// ServiceCoordinator is SERVING while a worker is active.
	ServiceCoordinator = "coordinator"
	// ServiceOrigin tracks whether the origin answers probes. The
	// coordinator keeps serving from cache while it is NOT_SERVING.
	ServiceOrigin = "coordinator.origin"
)

// Server exposes the standard gRPC health service for the coordinator.
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server

	mu       sync.Mutex
	listener net.Listener
	version  string
}

func NewServer() *Server {
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceCoordinator, healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceOrigin, healthpb.HealthCheckResponse_UNKNOWN)

	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	return &Server{grpc: server, health: hs}
}

// Start listens on addr and serves in the background. It returns the bound
// address.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("health listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	go func() {
		if err := s.grpc.Serve(ln); err != nil {
			log.Printf("health server error: %v", err)
		}
	}()
	return ln.Addr().String(), nil
}

func (s *Server) WorkerActivated(version string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.version = version
	s.mu.Unlock()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceCoordinator, healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) SetOriginReachable(reachable bool) {
	if s == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if reachable {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceOrigin, status)
}

func (s *Server) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Shutdown flips every service to NOT_SERVING and stops the server,
// waiting up to timeout for in-flight checks.
func (s *Server) Shutdown(timeout time.Duration) {
	if s == nil {
		return
	}
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.grpc.Stop()
	}
}

// Check queries a coordinator's health service and returns the status name.
func Check(ctx context.Context, addr string, service string) (string, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "", fmt.Errorf("health dial %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return "", fmt.Errorf("health check %q: %w", service, err)
	}
	return resp.GetStatus().String(), nil
}
