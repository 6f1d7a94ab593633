package jobs

import (
	"context"
	"time"

	"github.com/kiranshivaraju/findoc/internal/storage"
	"github.com/kiranshivaraju/findoc/pkg/models"
	"go.uber.org/zap"
)

// Runner executes one analysis and then disposes of its upload.
type Runner struct {
	engine  models.AnalysisEngine
	files   storage.Store
	logger  *zap.Logger
	timeout time.Duration
}

// NewRunner builds a Runner. A zero timeout lets the engine run as long as it needs.
func NewRunner(engine models.AnalysisEngine, files storage.Store, logger *zap.Logger, timeout time.Duration) *Runner {
	return &Runner{engine: engine, files: files, logger: logger, timeout: timeout}
}

// Run returns the engine's report or its error unchanged. The upload is removed
// afterwards on every path, including a panicking engine.
func (r *Runner) Run(ctx context.Context, fileRef, query string) (string, error) {
	defer storage.CleanupUpload(context.WithoutCancel(ctx), r.files, fileRef, r.logger)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.engine.Analyze(ctx, fileRef, query)
}
