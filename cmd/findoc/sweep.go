package main

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/findoc/internal/storage"
	"github.com/kiranshivaraju/findoc/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove orphaned uploads and expired results once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			n, err := runSweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d orphaned uploads\n", n)
			return nil
		},
	}
}

// runSweep only needs upload storage, plus the result backend when it is Postgres.
func runSweep(ctx context.Context) (int, error) {
	cfg, logger, err := setup()
	if err != nil {
		return 0, err
	}
	defer logger.Sync()

	if cfg.Storage.SweepAge <= 0 {
		return 0, fmt.Errorf("UPLOAD_SWEEP_AGE is 0; sweeping is disabled")
	}

	files, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return 0, fmt.Errorf("open upload storage: %w", err)
	}
	sw, ok := files.(storage.Sweeper)
	if !ok {
		return 0, fmt.Errorf("upload storage %q cannot be swept", cfg.Storage.Driver)
	}
	n, err := sw.Sweep(ctx, cfg.Storage.SweepAge)
	if err != nil {
		return n, fmt.Errorf("sweep uploads: %w", err)
	}
	logger.Info("orphaned uploads removed", zap.Int("count", n))

	if s := cfg.Queue.ResultBackendURL; isPostgres(s) {
		results, err := store.Open(ctx, s, cfg.Queue.ResultTTL)
		if err != nil {
			return n, fmt.Errorf("open result backend: %w", err)
		}
		defer results.Close()
		if p, ok := results.(*store.PostgresStore); ok {
			purged, err := p.PurgeExpired(ctx)
			if err != nil {
				return n, fmt.Errorf("purge results: %w", err)
			}
			logger.Info("expired results purged", zap.Int64("count", purged))
		}
	}
	return n, nil
}
