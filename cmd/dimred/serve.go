package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/openproblems/dimred/internal/service"
	"github.com/openproblems/dimred/pkg/grpcserver"
	"github.com/openproblems/dimred/pkg/method"
	"github.com/openproblems/dimred/pkg/results"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve registered methods over gRPC",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("grpc-port") {
			cfg.Server.GRPCPort, _ = flags.GetInt("grpc-port")
		}
		if flags.Changed("http-port") {
			cfg.Server.HTTPPort, _ = flags.GetInt("http-port")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	store, err := results.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := service.NewRunService(service.Config{
		MaxConcurrentRuns: cfg.Server.MaxConcurrentRuns,
		DefaultNPCA:       cfg.NPCA,
	}, method.Default, store)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := grpcserver.NewMetrics(reg)
	if err != nil {
		return err
	}

	var serverOpts []grpc.ServerOption
	if cfg.Server.TLSCert != "" {
		creds, err := grpcserver.LoadTLSCredentials(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
		slog.Info("TLS enabled")
	}
	grpcServer := grpcserver.NewGRPCServer(grpcserver.New(svc, metrics), serverOpts...)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcserver.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", cfg.Server.GRPCPort, err)
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("gRPC server listening", "port", cfg.Server.GRPCPort)
		if err := grpcServer.Serve(grpcLis); err != nil {
			errCh <- fmt.Errorf("gRPC server failed: %w", err)
		}
	}()

	httpMux := http.NewServeMux()
	httpMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		healthy, msg, count := svc.HealthCheck(r.Context())
		if healthy {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, "OK\n")
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "ERROR: %s\n", msg)
		}
		fmt.Fprintf(w, "Results: %d\n", count)
	})
	httpMux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Ready\n")
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err = <-errCh:
		slog.Error("server error, shutting down", "error", err)
	}

	healthServer.Shutdown()
	grpcServer.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	slog.Info("shutdown complete")
	return err
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("grpc-port", 50051, "gRPC server port")
	serveCmd.Flags().Int("http-port", 8080, "HTTP metrics/health port")
}
