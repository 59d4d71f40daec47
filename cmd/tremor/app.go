package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"tremor/internal/command"
	"tremor/internal/config"
	"tremor/internal/constants"
	"tremor/internal/delivery"
	"tremor/internal/feed"
	"tremor/internal/logger"
	"tremor/internal/render"
	"tremor/internal/routing"
	"tremor/internal/stream"
	"tremor/pkg/cel"
	"tremor/pkg/health"
	"tremor/pkg/metrics"
)

type App struct {
	cfg        *config.Config
	configFile string
	logger     logger.Logger

	store      *config.Store
	eval       *cel.Evaluator
	redis      *redis.Client
	tracker    *feed.Tracker
	supervisor *stream.Supervisor
	router     *routing.Router
	dispatcher *delivery.Dispatcher
	server     *http.Server
}

func NewApp(cfg *config.Config, configFile string, log logger.Logger) *App {
	return &App{cfg: cfg, configFile: configFile, logger: log}
}

func (a *App) Initialize(ctx context.Context) error {
	metrics.Register()

	eval, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create rule evaluator: %w", err)
	}
	a.eval = eval

	snap, err := config.Build(a.cfg, eval)
	if err != nil {
		return fmt.Errorf("failed to compile configuration: %w", err)
	}
	a.store = config.NewStore(snap)

	repo, err := a.initDedupStore()
	if err != nil {
		return err
	}
	a.tracker = feed.NewTracker(repo, a.cfg.Dedup.TTL, a.logger.Named("dedup"))

	pushClient := delivery.NewClient(a.cfg.Push, a.logger.Named("push"))

	var maps delivery.MapRenderer
	if a.cfg.Drawing.RendererURL != "" {
		maps = delivery.NewBreakerMapRenderer(
			delivery.NewHTTPMapRenderer(a.cfg.Drawing.RendererURL, a.cfg.Drawing.Timeout),
		)
	}
	a.dispatcher = delivery.NewDispatcher(pushClient, maps, pushClient, a.cfg.Delivery, a.cfg.Drawing.Timeout, a.logger.Named("dispatcher"))

	cache := command.NewCache()
	a.router = routing.NewRouter(
		a.store,
		feed.NewNormalizer(a.logger.Named("normalizer")),
		a.tracker,
		routing.NewRuleEngine(eval, a.logger.Named("rules")),
		render.NewRenderer(),
		a.dispatcher,
		cache,
		a.cfg.Delivery.FanoutWorkers,
		a.logger.Named("router"),
	)

	a.supervisor = stream.NewSupervisor(a.cfg.Feed, a.logger.Named("feed"))

	a.initHTTPServer(command.NewRouter(a.store, cache, a.router, a.dispatcher, a.logger.Named("command")))

	return nil
}

func (a *App) initDedupStore() (feed.Repository, error) {
	if a.cfg.Dedup.Backend != constants.DedupBackendRedis {
		return feed.NewMemoryRepository(), nil
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", a.cfg.Redis.Host, a.cfg.Redis.Port),
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	return feed.NewRedisRepository(a.redis), nil
}

func (a *App) initHTTPServer(cmdRouter *command.Router) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	registry := health.NewCheckerRegistry()
	registry.Register(health.NewFeedChecker("feed", func() string {
		return a.supervisor.State().String()
	}))
	if a.redis != nil {
		registry.Register(health.NewRedisChecker(a.redis))
	}

	engine.GET("/health", func(c *gin.Context) {
		h := registry.Check(c.Request.Context())
		status := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, h)
	})

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if a.cfg.Command.Enabled {
		engine.GET("/ws", command.WebsocketHandler(cmdRouter, a.logger.Named("listener")))
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  a.cfg.Server.ReadTimeoutSeconds,
		WriteTimeout: a.cfg.Server.WriteTimeoutSeconds,
	}
}

func (a *App) Run(ctx context.Context) error {
	config.Watch(a.configFile, a.store, a.eval, a.logger.Named("config"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.supervisor.Run(gctx)
	})

	g.Go(func() error {
		return a.router.Run(gctx, a.supervisor.Frames())
	})

	g.Go(func() error {
		a.tracker.StartJanitor(gctx, time.Minute)
		return nil
	})

	g.Go(func() error {
		a.logger.Infow("HTTP server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	a.dispatcher.Shutdown(a.cfg.Delivery.ShutdownTimeout)

	if a.redis != nil {
		if closeErr := a.redis.Close(); closeErr != nil {
			a.logger.Warnw("Redis close failed", "error", closeErr)
		}
	}

	return err
}
