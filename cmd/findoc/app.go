package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kiranshivaraju/findoc/internal/ai"
	"github.com/kiranshivaraju/findoc/internal/api"
	"github.com/kiranshivaraju/findoc/internal/api/handler"
	mw "github.com/kiranshivaraju/findoc/internal/api/middleware"
	"github.com/kiranshivaraju/findoc/internal/cache"
	"github.com/kiranshivaraju/findoc/internal/config"
	"github.com/kiranshivaraju/findoc/internal/document"
	"github.com/kiranshivaraju/findoc/internal/jobs"
	"github.com/kiranshivaraju/findoc/internal/queue"
	"github.com/kiranshivaraju/findoc/internal/storage"
	"github.com/kiranshivaraju/findoc/internal/store"
	"go.uber.org/zap"
)

// app holds the shared infrastructure of one process.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	results store.Store
	broker  queue.Broker
	files   storage.Store
	// redis is set when either the broker or the result backend is Redis; it backs
	// rate limiting and the cross-worker LLM throttle.
	redis *cache.RedisCache
}

func openApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.results, err = store.Open(ctx, cfg.Queue.ResultBackendURL, cfg.Queue.ResultTTL)
	if err != nil {
		return nil, fmt.Errorf("open result backend: %w", err)
	}
	if err := a.results.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping result backend: %w", err)
	}
	logger.Info("result backend connected")

	a.broker, err = queue.Open(cfg.Queue.BrokerURL, cfg.Queue.Name, logger)
	if err != nil {
		return nil, fmt.Errorf("open broker: %w", err)
	}
	if err := a.broker.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping broker: %w", err)
	}
	logger.Info("broker connected", zap.String("queue", cfg.Queue.Name))

	a.files, err = storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open upload storage: %w", err)
	}

	if url := redisURL(cfg); url != "" {
		a.redis, err = cache.NewRedisCache(url)
		if err != nil {
			return nil, fmt.Errorf("create redis cache: %w", err)
		}
	}
	return a, nil
}

// redisURL picks the first Redis URL among the broker and result backend.
func redisURL(cfg *config.Config) string {
	for _, u := range []string{cfg.Queue.BrokerURL, cfg.Queue.ResultBackendURL} {
		switch config.Scheme(u) {
		case "redis", "rediss":
			return u
		}
	}
	return ""
}

func (a *app) Close() {
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.logger.Warn("close broker", zap.Error(err))
		}
	}
	if a.results != nil {
		if err := a.results.Close(); err != nil {
			a.logger.Warn("close result backend", zap.Error(err))
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

func (a *app) service() *jobs.Service {
	return jobs.NewService(a.results, a.broker, a.logger)
}

func (a *app) router() http.Handler {
	svc := a.service()

	var limiter *mw.RateLimit
	if a.cfg.Security.RateLimitRPM > 0 {
		if a.redis == nil {
			a.logger.Warn("RATE_LIMIT_RPM ignored: rate limiting needs a Redis broker or result backend")
		} else {
			limiter = mw.NewRateLimit(a.redis, a.cfg.Security.RateLimitRPM, a.logger)
		}
	}

	return api.NewRouter(api.Dependencies{
		Logger:    a.logger,
		Auth:      mw.NewAuth(a.cfg.Security.APIKeyHash),
		RateLimit: limiter,

		RootHandler: handler.NewRootHandler(),
		HealthHandler: handler.NewHealthHandler(map[string]handler.Pinger{
			"result_backend": a.results,
			"broker":         a.broker,
			"upload_storage": a.files,
		}),
		AnalyzeHandler: handler.NewAnalyzeHandler(a.files, svc, a.cfg.Storage.MaxBytes, a.logger),
		ResultHandler:  handler.NewResultHandler(svc, a.logger),
	})
}

func (a *app) worker() (*jobs.Worker, error) {
	model, err := ai.NewModel(a.cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("create AI model: %w", err)
	}

	agent := ai.DefaultAgent()
	agent.MaxIter = a.cfg.AI.MaxIter
	agent.MaxRPM = a.cfg.AI.MaxRPM

	opts := []ai.Option{
		ai.WithAgent(agent),
		ai.WithTemperature(a.cfg.AI.Temperature),
		ai.WithContextChars(a.cfg.AI.ContextChars),
		ai.WithLogger(a.logger),
	}
	if a.redis != nil {
		opts = append(opts, ai.WithThrottle(ai.NewRedisThrottle(a.redis, a.cfg.AI.Provider, agent.MaxRPM, time.Minute, a.logger)))
	}
	analyst := ai.NewAnalyst(a.cfg.AI.Provider, model, document.NewReader(a.files), opts...)
	a.logger.Info("AI provider initialized", zap.String("provider", analyst.Name()))

	runner := jobs.NewRunner(analyst, a.files, a.logger, a.cfg.AI.InferenceTimeout)

	wopts := []jobs.WorkerOption{jobs.WithConcurrency(a.cfg.Worker.Concurrency)}
	if a.cfg.Worker.Name != "" {
		wopts = append(wopts, jobs.WithName(a.cfg.Worker.Name))
	}
	if sw, ok := a.files.(storage.Sweeper); ok {
		wopts = append(wopts, jobs.WithSweeper(sw, a.cfg.Storage.SweepAge, a.cfg.Storage.SweepInterval))
	}
	if p, ok := a.results.(jobs.Purger); ok {
		wopts = append(wopts, jobs.WithPurger(p))
	}
	return jobs.NewWorker(a.results, a.broker, runner, a.logger, wopts...), nil
}

var errInProcessOnly = errors.New("memory:// broker and result backend only work in-process; use findoc serve --with-worker")

// inProcessOnly reports whether the configuration cannot be shared between processes.
func inProcessOnly(cfg *config.Config) bool {
	return config.Scheme(cfg.Queue.BrokerURL) == "memory" || config.Scheme(cfg.Queue.ResultBackendURL) == "memory"
}

func isPostgres(raw string) bool {
	switch config.Scheme(raw) {
	case "postgres", "postgresql":
		return true
	}
	return false
}
