package jobs_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/findoc/internal/jobs"
	"github.com/kiranshivaraju/findoc/internal/queue"
	"github.com/kiranshivaraju/findoc/internal/store"
	"github.com/kiranshivaraju/findoc/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorker_CompletesJob(t *testing.T) {
	h := newHarness(t)
	h.startWorker(t)
	ref := h.upload(t)

	job, err := h.svc.Submit(context.Background(), ref, "margins")
	require.NoError(t, err)

	got := h.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "report for margins", *got.Result)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	_, err = os.Stat(ref)
	assert.True(t, os.IsNotExist(err))
	assert.Zero(t, h.broker.Len())
}

func TestWorker_FailsJob(t *testing.T) {
	h := newHarness(t)
	h.engine.AnalyzeFunc = func(context.Context, string, string) (string, error) {
		return "", errors.New("not a PDF file")
	}
	h.startWorker(t)
	ref := h.upload(t)

	job, err := h.svc.Submit(context.Background(), ref, "")
	require.NoError(t, err)

	got := h.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "not a PDF file", *got.ErrorMessage)

	_, err = os.Stat(ref)
	assert.True(t, os.IsNotExist(err))
}

func TestWorker_RecoversPanic(t *testing.T) {
	h := newHarness(t)
	h.engine.AnalyzeFunc = func(context.Context, string, string) (string, error) { panic("nil map") }
	h.startWorker(t)

	job, err := h.svc.Submit(context.Background(), h.upload(t), "q")
	require.NoError(t, err)

	got := h.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Contains(t, *got.ErrorMessage, "panic: nil map")
}

func TestWorker_KeepsRunningAfterPanic(t *testing.T) {
	h := newHarness(t)
	var n atomic.Int32
	h.engine.AnalyzeFunc = func(context.Context, string, string) (string, error) {
		if n.Add(1) == 1 {
			panic("first one")
		}
		return "fine", nil
	}
	h.startWorker(t)

	first, err := h.svc.Submit(context.Background(), h.upload(t), "q")
	require.NoError(t, err)
	second, err := h.svc.Submit(context.Background(), h.upload(t), "q")
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusFailed, h.waitTerminal(t, first.ID).Status)
	assert.Equal(t, models.JobStatusCompleted, h.waitTerminal(t, second.ID).Status)
}

func TestWorker_DropsMalformedAndUnknownTasks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.broker.Publish(ctx, []byte("garbage")))
	orphan, err := queue.Encode(queue.Task{JobID: uuid.New(), FileRef: "x.pdf", Query: "q"})
	require.NoError(t, err)
	require.NoError(t, h.broker.Publish(ctx, orphan))

	h.startWorker(t)

	job, err := h.svc.Submit(ctx, h.upload(t), "q")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, h.waitTerminal(t, job.ID).Status)
	assert.Equal(t, int32(1), h.engine.calls.Load())
	assert.Zero(t, h.broker.Len())
}

func TestWorker_SkipsFinishedJobOnRedelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.Submit(ctx, h.upload(t), "q")
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning))
	require.NoError(t, h.store.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, store.WithResult("earlier")))

	h.startWorker(t)

	require.Eventually(t, func() bool { return h.broker.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.engine.calls.Load())

	got, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "earlier", *got.Result)
}

func TestWorker_ResumesRunningJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.Submit(ctx, h.upload(t), "q")
	require.NoError(t, err)
	// A previous worker died after marking the job running.
	require.NoError(t, h.store.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning))

	h.startWorker(t)

	assert.Equal(t, models.JobStatusCompleted, h.waitTerminal(t, job.ID).Status)
}

func TestWorker_Concurrency(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	var inFlight, peak atomic.Int32
	h.engine.AnalyzeFunc = func(context.Context, string, string) (string, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return "ok", nil
	}
	h.startWorker(t, jobs.WithConcurrency(3))

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		job, err := h.svc.Submit(context.Background(), h.upload(t), "q")
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	require.Eventually(t, func() bool { return peak.Load() == 3 }, 5*time.Second, 10*time.Millisecond)
	close(release)
	for _, id := range ids {
		assert.Equal(t, models.JobStatusCompleted, h.waitTerminal(t, id).Status)
	}
}

// flakyStore fails the first terminal update so the task is requeued.
type flakyStore struct {
	*store.MemoryStore
	mu     sync.Mutex
	failed bool
}

func (f *flakyStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	f.mu.Lock()
	if status == models.JobStatusCompleted && !f.failed {
		f.failed = true
		f.mu.Unlock()
		return errors.New("backend timeout")
	}
	f.mu.Unlock()
	return f.MemoryStore.UpdateJobStatus(ctx, id, status, opts...)
}

func TestWorker_NacksWhenResultCannotBeStored(t *testing.T) {
	h := newHarness(t)
	fs := &flakyStore{MemoryStore: h.store}
	svc := jobs.NewService(fs, h.broker, zap.NewNop())
	w := jobs.NewWorker(fs, h.broker, h.runner, zap.NewNop(), jobs.WithRetryDelay(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	job, err := svc.Submit(context.Background(), h.upload(t), "q")
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, h.waitTerminal(t, job.ID).Status)
	assert.Equal(t, int32(2), h.engine.calls.Load())
}

// unreachableStore fails the first lookups of a job as if the backend were down.
type unreachableStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	failures int
	calls    []time.Time
}

func (u *unreachableStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	u.mu.Lock()
	u.calls = append(u.calls, time.Now())
	fail := len(u.calls) <= u.failures
	u.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	return u.MemoryStore.GetJob(ctx, id)
}

func TestWorker_BacksOffWhenJobCannotBeLoaded(t *testing.T) {
	h := newHarness(t)
	us := &unreachableStore{MemoryStore: h.store, failures: 2}
	svc := jobs.NewService(h.store, h.broker, zap.NewNop())

	delay := 150 * time.Millisecond
	w := jobs.NewWorker(us, h.broker, h.runner, zap.NewNop(), jobs.WithRetryDelay(delay))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	job, err := svc.Submit(context.Background(), h.upload(t), "q")
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, h.waitTerminal(t, job.ID).Status)
	assert.Equal(t, int32(1), h.engine.calls.Load())

	us.mu.Lock()
	calls := append([]time.Time(nil), us.calls...)
	us.mu.Unlock()
	require.GreaterOrEqual(t, len(calls), 3)
	for i := 1; i < 3; i++ {
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), delay, "lookup %d came too soon", i)
	}
}

func TestWorker_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	w := jobs.NewWorker(h.store, h.broker, h.runner, zap.NewNop(), jobs.WithConcurrency(2))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_FinishesInFlightJobOnShutdown(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	h.engine.AnalyzeFunc = func(ctx context.Context, _, _ string) (string, error) {
		close(started)
		<-release
		return "done", ctx.Err()
	}
	w := jobs.NewWorker(h.store, h.broker, h.runner, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- w.Run(ctx) }()

	job, err := h.svc.Submit(context.Background(), h.upload(t), "q")
	require.NoError(t, err)
	<-started
	cancel()
	close(release)

	require.NoError(t, <-done)
	got, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

type countingPurger struct{ n atomic.Int32 }

func (c *countingPurger) PurgeExpired(context.Context) (int64, error) {
	c.n.Add(1)
	return 0, nil
}

func TestWorker_Maintain(t *testing.T) {
	h := newHarness(t)
	old := h.upload(t)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	fresh := h.upload(t)

	purger := &countingPurger{}
	w := jobs.NewWorker(h.store, h.broker, h.runner, zap.NewNop(),
		jobs.WithSweeper(h.files, 24*time.Hour, time.Hour), jobs.WithPurger(purger))
	w.Maintain(context.Background())

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
	assert.Equal(t, int32(1), purger.n.Load())
}

func TestWorker_MaintainSweepDisabled(t *testing.T) {
	h := newHarness(t)
	old := h.upload(t)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	w := jobs.NewWorker(h.store, h.broker, h.runner, zap.NewNop(), jobs.WithSweeper(h.files, 0, time.Hour))
	w.Maintain(context.Background())

	_, err := os.Stat(old)
	assert.NoError(t, err)
}
