package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kiranshivaraju/findoc/internal/storage"
	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "submit <file.pdf>",
		Short: "Store a local PDF and enqueue it for analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			id, err := runSubmit(ctx, args[0], query)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "question to answer about the document")
	return cmd
}

func runSubmit(ctx context.Context, path, query string) (string, error) {
	cfg, logger, err := setup()
	if err != nil {
		return "", err
	}
	defer logger.Sync()

	if inProcessOnly(cfg) {
		return "", errInProcessOnly
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return "", err
	}
	defer a.Close()

	ref, err := a.files.Save(ctx, f)
	if err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	job, err := a.service().Submit(ctx, ref, query)
	if err != nil {
		storage.CleanupUpload(context.WithoutCancel(ctx), a.files, ref, logger)
		return "", err
	}
	return job.ID.String(), nil
}
