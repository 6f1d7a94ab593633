package main

import (
	"fmt"

	"github.com/kiranshivaraju/findoc/internal/config"
	"github.com/kiranshivaraju/findoc/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "findoc",
		Short:         "Asynchronous financial document analysis",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd(), newWorkerCmd(), newSubmitCmd(), newSweepCmd())
	return root
}

// setup loads configuration and installs the process logger. Every subcommand
// calls it first so a bad configuration stops the process before any I/O.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.IsProduction())
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	logger.Info("config loaded",
		zap.String("env", cfg.Server.Env),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("broker", config.Scheme(cfg.Queue.BrokerURL)),
		zap.String("result_backend", config.Scheme(cfg.Queue.ResultBackendURL)),
		zap.String("upload_storage", cfg.Storage.Driver),
	)
	return cfg, logger, nil
}
