// Package health publishes hub and worker-pool availability through the
// standard gRPC health checking protocol.
//
// The overall service ("") is SERVING from New until Shutdown. Each worker
// category is published as "musink.worker.<Category>" and is SERVING exactly
// while its pool is non-empty.
package health

import (
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/musink/musink/server/internal/dispatch"
)

// ServicePrefix is prepended to a worker category to form its service name.
const ServicePrefix = "musink.worker."

// ServiceName returns the health service name for a worker category.
func ServiceName(cat dispatch.Category) string {
	return ServicePrefix + string(cat)
}

// Server wraps the grpc health server.
type Server struct {
	hs *grpchealth.Server

	// mu orders status writes; size, once set by Watch, is the source of
	// truth for a pool's size.
	mu   sync.Mutex
	size func(dispatch.Category) int
}

// New returns a Server with the overall status SERVING and every category
// NOT_SERVING.
func New() *Server {
	s := &Server{hs: grpchealth.NewServer()}
	s.hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, c := range dispatch.Categories {
		s.hs.SetServingStatus(ServiceName(c), healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s
}

// Register attaches the health service to a gRPC server.
func (s *Server) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.hs)
}

// WorkersChanged updates cat's status. It has the signature of a
// dispatch.Dispatcher observer. Observers can run out of mutation order, so
// once Watch has been called the reported size is ignored and the pool is
// read again under s.mu.
func (s *Server) WorkersChanged(cat dispatch.Category, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size != nil {
		size = s.size(cat)
	}

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if size > 0 {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.hs.SetServingStatus(ServiceName(cat), status)
	slog.Debug("health: worker pool changed", "category", cat, "size", size, "status", status.String())
}

// Watch subscribes s to pool changes on d and publishes d's current sizes.
func (s *Server) Watch(d *dispatch.Dispatcher) {
	s.mu.Lock()
	s.size = d.Size
	s.mu.Unlock()

	d.OnChange(s.WorkersChanged)
	for _, c := range dispatch.Categories {
		s.WorkersChanged(c, d.Size(c))
	}
}

// Shutdown sets every service to NOT_SERVING. Later updates are ignored.
func (s *Server) Shutdown() {
	s.hs.Shutdown()
}
