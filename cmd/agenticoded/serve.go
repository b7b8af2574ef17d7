//go:build linux

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agenticode/agenticoded/internal/config"
	"github.com/agenticode/agenticoded/internal/edge"
	"github.com/agenticode/agenticoded/internal/ideserver"
	"github.com/agenticode/agenticoded/internal/logging"
	"github.com/agenticode/agenticoded/internal/metrics"
	"github.com/agenticode/agenticoded/internal/objectstore"
	"github.com/agenticode/agenticoded/internal/portpool"
	"github.com/agenticode/agenticoded/internal/sandbox"
	"github.com/agenticode/agenticoded/internal/session"
	"github.com/agenticode/agenticoded/internal/store"
	"github.com/agenticode/agenticoded/internal/workspace"
)

// reapInterval is how often the Session Manager's reaper sweeps for idle
// and over-age sessions (spec.md §4.5).
const reapInterval = 60 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session manager daemon and its HTTP/WebSocket edge surface",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel)
	logger.Info().Int("port", cfg.Port).Msg("starting agenticoded")

	st, err := store.New(cfg.DBPath, 0)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	objStore, err := objectstore.New(objectstore.Options{
		Provider:  objectstore.Provider(cfg.Storage.Provider),
		Bucket:    cfg.Storage.Bucket,
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	}, logger)
	if err != nil {
		return fmt.Errorf("constructing object store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := objStore.EnsureBucket(ctx); err != nil {
		cancel()
		return fmt.Errorf("ensuring bucket %q: %w", cfg.Storage.Bucket, err)
	}
	cancel()

	sandboxMgr := sandbox.NewManager(cfg.SandboxMinUID, cfg.SandboxMaxUID, cfg.SandboxHomeDir, logger)
	if cfg.SandboxEnabled {
		sandboxMgr.Initialize()
	}

	wsMgr := workspace.NewManager(objStore, cfg.WorkspacesPath, true, logger)

	idePool := portpool.New(cfg.IDE.BasePort, cfg.IDE.MaxInstances)
	ideSupervisor := ideserver.NewSupervisor(ideserver.Config{
		BinaryPath:      cfg.IDE.BinaryPath,
		DataBase:        cfg.IDE.UserDataBase,
		ExternalURLBase: cfg.IDE.ExternalURLBase,
		StartupTimeout:  time.Duration(cfg.IDE.StartupTimeout) * time.Second,
		LockdownEnabled: cfg.IDE.LockdownEnabled,
	}, idePool, logger)

	mc := metrics.NewCollector()

	mgr := session.NewManager(cfg, st, sandboxMgr, wsMgr, ideSupervisor, mc, logger)
	ideSupervisor.OnExit(func(sessionID string) {
		logger.Warn().Str("session_id", sessionID).Msg("ide exited unexpectedly")
	})

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	go mgr.RunReaper(reaperCtx, reapInterval)

	srv := edge.NewServer(cfg, mgr, mc, logger)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpSrv.Addr).Msg("edge surface listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: srv.MetricsHandler()}
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("prometheus metrics listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("edge surface listener failed")
	}

	stopReaper()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown timed out")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics listener shutdown timed out")
		}
	}

	logger.Info().Msg("agenticoded stopped")
	return nil
}
