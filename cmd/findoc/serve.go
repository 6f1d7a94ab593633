package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), withWorker)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run the analysis worker in this process")
	return cmd
}

func runServe(parent context.Context, withWorker bool) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if inProcessOnly(cfg) && !withWorker {
		return errInProcessOnly
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// nil unless a worker runs here, so the select below never picks it.
	var workerDone chan error
	if withWorker {
		w, err := a.worker()
		if err != nil {
			return err
		}
		workerDone = make(chan error, 1)
		go func() { workerDone <- w.Run(ctx) }()
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var workerErr error
	select {
	case err := <-errCh:
		stop()
		if workerDone != nil {
			<-workerDone
		}
		return fmt.Errorf("server error: %w", err)
	case workerErr = <-workerDone:
		workerDone = nil
		logger.Warn("worker stopped, shutting down", zap.Error(workerErr))
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	shutdownErr := shutdown(srv, cfg.Server.ShutdownTimeout, logger)
	if workerDone != nil {
		logger.Info("waiting for in-flight analyses")
		workerErr = <-workerDone
	}
	if workerErr != nil {
		return fmt.Errorf("worker: %w", workerErr)
	}
	if shutdownErr != nil {
		return fmt.Errorf("server shutdown: %w", shutdownErr)
	}
	logger.Info("server stopped gracefully")
	return nil
}

func shutdown(srv *http.Server, timeout time.Duration, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown incomplete", zap.Error(err))
		return err
	}
	return nil
}
