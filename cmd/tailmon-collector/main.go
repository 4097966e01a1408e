package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tailmon/tailmon/internal/agents"
	"github.com/tailmon/tailmon/internal/aggregation"
	internalhttp "github.com/tailmon/tailmon/internal/api/http"
	"github.com/tailmon/tailmon/internal/cert"
	"github.com/tailmon/tailmon/internal/db"
	grpcserver "github.com/tailmon/tailmon/internal/grpc/server"
	"github.com/tailmon/tailmon/internal/metrics"
	"github.com/tailmon/tailmon/internal/retention"
)

var AppVersion string

type stores struct {
	agents  agents.Store
	metrics metrics.Store
	pool    *pgxpool.Pool
}

func openStores(ctx context.Context, cfg db.Config) (*stores, error) {
	switch cfg.Driver {
	case db.DriverMemory:
		slog.Warn("Using in-memory storage; data is lost on restart")
		agentStore := agents.NewMemoryStore()
		return &stores{
			agents:  agentStore,
			metrics: metrics.NewMemoryStore().WithLastSeen(agentStore),
		}, nil
	case db.DriverPostgres, "":
		pool, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &stores{
			agents:  db.NewAgentStore(pool),
			metrics: db.NewMetricStore(pool),
			pool:    pool,
		}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func ensureServerCertificate(tlsConfig grpcserver.TLSConfig) error {
	var ips []net.IP
	for _, raw := range ParseCommaSeparated(tlsConfig.IPAddresses) {
		ip := net.ParseIP(raw)
		if ip == nil {
			return fmt.Errorf("invalid IP address in grpc.tls.ip_addresses: %q", raw)
		}
		ips = append(ips, ip)
	}

	_, err := cert.EnsureServerCertificate(tlsConfig.CertFile, tlsConfig.KeyFile, cert.Options{
		DomainNames: ParseCommaSeparated(tlsConfig.DomainNames),
		IPAddresses: ips,
	})
	return err
}

func main() {
	InitConfig()

	slog.Info("Tailmon Collector", "version", AppVersion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, config.Database)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	if st.pool != nil {
		defer st.pool.Close()
	}

	cc := config.Collector
	agentService := agents.NewService(st.agents, cc.SamplingInterval)
	ingest := metrics.NewService(agentService, st.metrics, metrics.Config{
		MaxClockSkew:   cc.MaxClockSkew,
		Retention:      cc.Retention,
		MaxConnections: cc.MaxConnectionsPerRecord,
	})
	engine := aggregation.NewEngine(agentService, st.metrics, aggregation.Config{
		TopConnectionsLimit:  cc.TopConnectionsLimit,
		TopConnectionsWindow: cc.TopConnectionsWindow,
	})
	retentionManager := retention.NewManager(st.metrics, cc.Retention, cc.RetentionCheckInterval)

	services := &internalhttp.Services{
		AgentService: agentService,
		Ingest:       ingest,
		Engine:       engine,
		Storage:      st.metrics,
		Version:      AppVersion,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     config.Http.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(gin.Recovery())
	internalhttp.SetupRoute(router, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: router,
	}

	var grpcSrv *grpcserver.Server
	if config.Grpc.Port > 0 {
		tlsConfig := config.Grpc.TLS
		if tlsConfig.Enabled && tlsConfig.AutoGenerate {
			if err := ensureServerCertificate(tlsConfig); err != nil {
				slog.Error("Failed to prepare gRPC certificate", "error", err)
				os.Exit(1)
			}
		}
		grpcSrv = grpcserver.NewServer(config.Grpc.Port, &tlsConfig, st.metrics)
	}

	errChan := make(chan error, 2)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if grpcSrv != nil {
		go func() {
			if err := grpcSrv.Start(); err != nil {
				errChan <- fmt.Errorf("gRPC server error: %w", err)
			}
		}()
	}

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		retentionManager.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down servers...")

	var wg sync.WaitGroup
	shutdownTimeout := 10 * time.Second

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}()

	if grpcSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := grpcSrv.StopWithTimeout(shutdownTimeout); err != nil {
				slog.Error("gRPC server shutdown error", "error", err)
			}
		}()
	}

	wg.Wait()

	cancel()
	background.Wait()

	stats := retentionManager.Stats()
	slog.Info("Shutdown complete", "retention_runs", stats.Runs, "records_deleted", stats.RecordsDeleted)
}
