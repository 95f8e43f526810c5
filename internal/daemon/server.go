package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/matheus3301/crmsync/internal/api"
	"github.com/matheus3301/crmsync/internal/metrics"
	"github.com/matheus3301/crmsync/internal/profile"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server manages the gRPC server lifecycle for a profile daemon.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to the profile's Unix domain socket.
func NewServer(p Params, logger *zap.Logger, control *api.ControlService) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.ProfileName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer()
	api.RegisterControlServer(srv, control)

	return &Server{
		grpcServer: srv,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("gRPC server stopping")
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}

// MetricsServer serves /metrics and /healthz over HTTP. A nil server is a
// disabled endpoint; its methods are no-ops.
type MetricsServer struct {
	srv    *http.Server
	addr   string
	logger *zap.Logger
}

// NewMetricsServer returns nil when addr is empty.
func NewMetricsServer(addr string, logger *zap.Logger) *MetricsServer {
	if addr == "" {
		return nil
	}
	return &MetricsServer{
		srv: &http.Server{
			Handler:           metrics.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		addr:   addr,
		logger: logger,
	}
}

// Start binds the listen address and serves in the background.
func (m *MetricsServer) Start() error {
	if m == nil {
		return nil
	}
	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	m.addr = ln.Addr().String()
	m.logger.Info("metrics server starting", zap.String("addr", m.addr))
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (m *MetricsServer) Addr() string {
	if m == nil {
		return ""
	}
	return m.addr
}

// Stop shuts the HTTP server down.
func (m *MetricsServer) Stop(ctx context.Context) {
	if m == nil {
		return
	}
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Warn("metrics server shutdown", zap.Error(err))
	}
}
