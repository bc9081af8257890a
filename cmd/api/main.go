package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"campusattend/internal/analytics"
	"campusattend/internal/attendance"
	"campusattend/internal/auth"
	"campusattend/internal/config"
	"campusattend/internal/handler"
	"campusattend/internal/httpmiddleware"
	"campusattend/internal/logger"
	"campusattend/internal/memstore"
	"campusattend/internal/metrics"
	"campusattend/internal/notify"
	"campusattend/internal/queue"
	"campusattend/internal/seed"
	"campusattend/internal/store"
	"campusattend/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, zl); err != nil {
		zl.Fatal("http server failed", zap.Error(err))
	}
}

// backends bundles the stores and queue chosen by configuration.
type backends struct {
	store     attendance.Store
	analytics analytics.Store
	queue     queue.Queue
	db        *store.DB
	redis     *store.Redis
}

func (b *backends) close() {
	_ = b.db.Close()
	_ = b.redis.Close()
}

func openBackends(ctx context.Context, cfg config.App) (*backends, error) {
	b := &backends{}
	switch cfg.StoreBackend {
	case config.BackendMemory:
		mem := memstore.New()
		b.store, b.analytics = mem, mem
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		b.db = db
		b.store = attendance.NewRepository(db.Client)
		b.analytics = analytics.NewRepository(db.Client)
	}

	switch cfg.QueueBackend {
	case config.BackendMemory:
		b.queue = queue.NewInMemory(256)
	default:
		b.redis = store.NewRedis(cfg.Redis())
		b.queue = queue.NewRedisQueue(b.redis.Client, cfg.QueueKey)
	}
	return b, nil
}

func runHTTP(cfg config.App, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open backends: %w", err)
	}
	defer b.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dispatch := notify.NewQueueDispatcher(b.queue)
	if cfg.QueueBackend == config.BackendMemory {
		// No separate worker can reach an in-process queue.
		var d notify.Deliverer = notify.NewLogDeliverer(zl)
		if cfg.DeliveryURL != "" {
			d = webhook.New(cfg.DeliveryURL, cfg.DeliveryTimeout)
		}
		go func() {
			if err := notify.Run(ctx, b.queue, d, zl); err != nil {
				zl.Error("in-process delivery stopped", zap.Error(err))
			}
		}()
	}

	resolver := attendance.NewResolver(b.store, cfg.Location, cfg.LateGrace)
	dir := attendance.NewDirectory(b.store, zl)
	tt := attendance.NewTimetable(b.store, cfg.Location, dispatch, m, zl)
	if cfg.SeedDemo {
		if err := seed.Demo(ctx, dir, tt, zl); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	signer := auth.NewSigner(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTTL)
	h := handler.New(handler.Deps{
		Sessions:    attendance.NewService(b.store, resolver, dispatch, m, zl),
		Timetable:   tt,
		Corrections: attendance.NewCorrections(b.store, dispatch, m, zl),
		Inbox:       attendance.NewInbox(b.store, zl),
		Directory:   dir,
		Analytics:   analytics.NewEngine(b.analytics, b.store, cfg.Location, zl),
		Signer:      signer,
		Location:    cfg.Location,
		Log:         zl,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(handler.RequestLog(zl, "/healthz", "/metrics"))
	r.Use(handler.Observe(m))
	r.Use(httpmiddleware.CORS(cfg.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	r.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		healthy := true
		if b.db != nil {
			dbHealthy := b.db.Healthy(c.Request.Context())
			body["db"] = dbHealthy
			healthy = healthy && dbHealthy
		}
		if b.redis != nil {
			redisHealthy := b.redis.Healthy(c.Request.Context())
			body["redis"] = redisHealthy
			healthy = healthy && redisHealthy
			if backlog, err := b.redis.Backlog(c.Request.Context(), cfg.QueueKey); err == nil {
				body["queue_backlog"] = backlog
			}
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	})

	byUser := httpmiddleware.ByUserOrIP(auth.CurrentUserID)
	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	refreshLimiter := httpmiddleware.NewTokenBucket(cfg.RefreshRateLimitPerMin, cfg.RefreshRateLimitPerMin)
	v1 := r.Group("/v1", auth.UserAuth(signer), limiter.GinMiddleware(byUser))
	h.Register(v1, refreshLimiter.GinMiddleware(byUser))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("starting server",
			zap.String("port", cfg.HTTPPort),
			zap.String("store", cfg.StoreBackend),
			zap.String("queue", cfg.QueueBackend),
			zap.String("timezone", cfg.Location.String()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	zl.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("server forced shutdown", zap.Error(err))
	}
	zl.Info("server exited")
	return nil
}
