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
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/blockberries/valgov/app"
	"github.com/blockberries/valgov/governance"
	valgovgrpc "github.com/blockberries/valgov/grpc"
	"github.com/blockberries/valgov/internal/config"
	"github.com/blockberries/valgov/internal/httpapi"
	"github.com/blockberries/valgov/store"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the application to a consensus engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			return serveRun(cmd.Context(), cfg, commonRun())
		},
	}
}

func serveRun(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info(
		"version: "+versionString(),
		"component", programName,
	)
	programCfg, err := cfg.ProgramConfig()
	if err != nil {
		return err
	}
	shutdownTimeout, err := cfg.ShutdownTimeoutDuration()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.StoreBackend, cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithPromRegistry(registry),
		app.WithProgramConfig(programCfg),
	}
	// Without a remote governance service votes go to an in-process
	// recorder, which is also served next to the application.
	var recorder *governance.Recorder
	if cfg.GovernanceAddr != "" {
		govClient, err := governance.Dial(ctx, cfg.GovernanceAddr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		if err != nil {
			return err
		}
		defer govClient.Close()
		opts = append(opts, app.WithGovernance(govClient))
		logger.Info("forwarding votes", "governance_addr", cfg.GovernanceAddr)
	} else {
		recorder = governance.NewRecorder()
		opts = append(opts, app.WithGovernance(recorder))
	}

	application, err := app.New(st, opts...)
	if err != nil {
		return err
	}

	appServer := valgovgrpc.NewGRPCServer(application, logger)
	grpcServer := grpc.NewServer()
	appServer.Register(grpcServer)
	if recorder != nil {
		governance.NewGRPCServer(recorder).Register(grpcServer)
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}

	api := httpapi.New(application, appServer.Server(), registry, logger)
	httpServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           api.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("serving application", "addr", cfg.ListenAddr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("serving http api", "addr", cfg.MetricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		logger.Warn("grpc graceful stop timed out")
		grpcServer.Stop()
	}
	return runErr
}
