package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"extmetrics/internal/metrics"
)

const (
	// HealthServiceCAdvisor is the gRPC health service name of the cAdvisor producer.
	HealthServiceCAdvisor = "cadvisor"
	// HealthServiceNodeExporter is the gRPC health service name of the Node Exporter producer.
	HealthServiceNodeExporter = "node_exporter"
)

// healthServer exposes producer reachability over the standard gRPC health protocol.
// Params: listen address and logger.
// Returns: runner and poll observer.
type healthServer struct {
	listen string
	ln     net.Listener
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// newHealthServer binds the listener and registers the health service.
// Params: listen host:port; logger root logger.
// Returns: health server or bind error.
func newHealthServer(listen string, logger *slog.Logger) (*healthServer, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", listen, err)
	}

	status := health.NewServer()
	status.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	status.SetServingStatus(HealthServiceCAdvisor, healthpb.HealthCheckResponse_UNKNOWN)
	status.SetServingStatus(HealthServiceNodeExporter, healthpb.HealthCheckResponse_UNKNOWN)

	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, status)

	return &healthServer{
		listen: listen,
		ln:     ln,
		grpc:   server,
		health: status,
		logger: logger,
	}, nil
}

// addr returns the bound listener address.
func (s *healthServer) addr() string {
	return s.ln.Addr().String()
}

// close releases the listener of a server that never ran.
func (s *healthServer) close() error {
	return s.ln.Close()
}

// ObservePoll maps poll outcome to producer serving status.
// Params: metric producer metric name; outcome poll result; fetch is unused.
// Returns: none.
func (s *healthServer) ObservePoll(metric string, outcome metrics.PollOutcome, _ time.Duration) {
	service := healthServiceName(metric)
	if service == "" {
		return
	}

	status := healthpb.HealthCheckResponse_SERVING
	if outcome == metrics.PollFetchFailed {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// run serves gRPC until context cancellation.
// Params: ctx lifecycle context.
// Returns: nil on graceful stop; serve error otherwise.
func (s *healthServer) run(ctx context.Context) error {
	s.logger.Info("grpc health server started", slog.String("listen", s.addr()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(s.ln)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			s.grpc.Stop()
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		s.logger.Error("grpc health server stopped unexpectedly", slog.String("listen", s.listen), slog.String("error", err.Error()))
		return err
	}
}

func healthServiceName(metric string) string {
	switch metric {
	case metrics.CAdvisorMetricName:
		return HealthServiceCAdvisor
	case metrics.NodeExporterMetricName:
		return HealthServiceNodeExporter
	default:
		return ""
	}
}
