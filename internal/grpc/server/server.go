package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpctls "github.com/tailmon/tailmon/internal/grpc/tls"
)

// ServiceName is the health service name reported for the collector.
const ServiceName = "tailmon.Collector"

const defaultProbeInterval = 10 * time.Second

type TLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	CAFile     string `mapstructure:"ca_file"`
	ClientAuth string `mapstructure:"client_auth"`
	// AutoGenerate writes a self-signed certificate to CertFile/KeyFile when they are missing.
	AutoGenerate bool   `mapstructure:"auto_generate"`
	DomainNames  string `mapstructure:"domain_names"`
	IPAddresses  string `mapstructure:"ip_addresses"`
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes grpc.health.v1 and keeps the serving status in line with storage health.
type Server struct {
	grpcServer    *grpc.Server
	health        *health.Server
	storage       Pinger
	port          int
	tlsConfig     *TLSConfig
	probeInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewServer(port int, tlsConfig *TLSConfig, storage Pinger) *Server {
	return &Server{
		health:        health.NewServer(),
		storage:       storage,
		port:          port,
		tlsConfig:     tlsConfig,
		probeInterval: defaultProbeInterval,
	}
}

// WithProbeInterval changes how often storage is pinged.
func (s *Server) WithProbeInterval(interval time.Duration) *Server {
	if interval > 0 {
		s.probeInterval = interval
	}
	return s
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	return s.Serve(lis)
}

// Serve blocks serving on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	var opts []grpc.ServerOption
	if s.tlsConfig != nil && s.tlsConfig.Enabled {
		clientAuth, err := grpctls.ParseClientAuthType(s.tlsConfig.ClientAuth)
		if err != nil {
			return err
		}
		creds, err := grpctls.LoadServerCredentials(s.tlsConfig.CertFile, s.tlsConfig.KeyFile, s.tlsConfig.CAFile, clientAuth)
		if err != nil {
			return err
		}
		opts = append(opts, grpc.Creds(creds))
		slog.Info("gRPC TLS enabled", "client_auth", s.tlsConfig.ClientAuth)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.grpcServer = grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.cancel = cancel
	s.done = done
	grpcServer := s.grpcServer
	s.mu.Unlock()

	s.Probe(ctx)
	go func() {
		defer close(done)
		s.watch(ctx)
	}()

	slog.Info("Starting gRPC server", "address", lis.Addr().String())

	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Probe pings storage once and updates the serving status of both the overall server and
// ServiceName.
func (s *Server) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	pingCtx, cancel := context.WithTimeout(ctx, s.probeInterval)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.storage.Ping(pingCtx); err != nil {
		slog.Warn("Storage health probe failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Health returns the health service implementation.
func (s *Server) Health() healthpb.HealthServer {
	return s.health
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping gRPC server")

	s.mu.Lock()
	grpcServer, cancel, done := s.grpcServer, s.cancel, s.done
	s.mu.Unlock()

	s.health.Shutdown()

	if cancel != nil {
		cancel()
		<-done
	}
	if grpcServer == nil {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		slog.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		slog.Warn("gRPC server stop timeout, forcing shutdown")
		grpcServer.Stop()
	}

	return nil
}

func (s *Server) StopWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(ctx)
}
