// ABOUTME: Standard gRPC health service reporting whether the controller loop is running.
// ABOUTME: Also provides Probe, the client used by "fleet-controller health".

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported alongside the overall ("") status.
const HealthService = "fleet.Controller"

type healthServer struct {
	grpcServer *grpc.Server
	status     *health.Server
	ln         net.Listener
	logger     *slog.Logger
}

// newHealthServer binds addr unless ln is already provided. Both services
// start NOT_SERVING until the loop is running.
func newHealthServer(addr string, ln net.Listener, logger *slog.Logger) (*healthServer, error) {
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("binding health endpoint %s: %w", addr, err)
		}
	}

	h := &healthServer{
		grpcServer: grpc.NewServer(),
		status:     health.NewServer(),
		ln:         ln,
		logger:     logger.With("component", "health"),
	}
	healthpb.RegisterHealthServer(h.grpcServer, h.status)
	h.setServing(false)
	return h, nil
}

func (h *healthServer) serve() error {
	h.logger.Info("health endpoint listening", "addr", h.ln.Addr().String())
	if err := h.grpcServer.Serve(h.ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

func (h *healthServer) setServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.status.SetServingStatus("", st)
	h.status.SetServingStatus(HealthService, st)
}

// stop marks everything NOT_SERVING and closes the endpoint.
func (h *healthServer) stop() {
	h.status.Shutdown()
	h.grpcServer.Stop()
}

// Probe asks a controller's health endpoint for its serving status.
func Probe(ctx context.Context, addr string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check: %w", err)
	}
	return resp.GetStatus(), nil
}
