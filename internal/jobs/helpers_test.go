package jobs_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/findoc/internal/jobs"
	"github.com/kiranshivaraju/findoc/internal/queue"
	"github.com/kiranshivaraju/findoc/internal/storage"
	"github.com/kiranshivaraju/findoc/internal/store"
	"github.com/kiranshivaraju/findoc/pkg/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEngine satisfies models.AnalysisEngine.
type fakeEngine struct {
	AnalyzeFunc func(ctx context.Context, fileRef, query string) (string, error)
	calls       atomic.Int32
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Analyze(ctx context.Context, fileRef, query string) (string, error) {
	f.calls.Add(1)
	if f.AnalyzeFunc != nil {
		return f.AnalyzeFunc(ctx, fileRef, query)
	}
	return "report for " + query, nil
}

var _ models.AnalysisEngine = (*fakeEngine)(nil)

type harness struct {
	store  *store.MemoryStore
	broker *queue.MemoryBroker
	files  *storage.LocalStore
	engine *fakeEngine
	svc    *jobs.Service
	runner *jobs.Runner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	files, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	h := &harness{
		store:  store.NewMemoryStore(time.Hour),
		broker: queue.NewMemoryBroker(),
		files:  files,
		engine: &fakeEngine{},
	}
	h.svc = jobs.NewService(h.store, h.broker, zap.NewNop())
	h.runner = jobs.NewRunner(h.engine, h.files, zap.NewNop(), 0)
	t.Cleanup(func() { h.broker.Close() })
	return h
}

func (h *harness) upload(t *testing.T) string {
	t.Helper()
	ref, err := h.files.Save(context.Background(), strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	return ref
}

// startWorker runs a worker until the test ends.
func (h *harness) startWorker(t *testing.T, opts ...jobs.WorkerOption) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := jobs.NewWorker(h.store, h.broker, h.runner, zap.NewNop(), opts...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// waitTerminal polls until the job reaches a terminal state.
func (h *harness) waitTerminal(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		j, err := h.store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}
