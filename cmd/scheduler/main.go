package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OneSila/OneSilaHeadless-sub006/internal/admin"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/auth"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/config"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/db"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/health"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/logging"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/metrics"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/taskqueue"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/tracing"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/webhooks"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New("onesila-scheduler")

	shutdown, err := tracing.InitTracing(ctx, "onesila-scheduler")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer producer.Stop()

	store := taskqueue.NewPGStore(pool)
	hooks := webhooks.NewPGStore(pool)

	scheduler := &taskqueue.Scheduler{
		Store:         store,
		Budgets:       hooks,
		Producer:      producer,
		Logger:        logger,
		Topic:         cfg.NSQ.DispatchTopic,
		Interval:      cfg.Scheduler.SweepInterval,
		BatchSize:     cfg.Scheduler.SweepBatchSize,
		Window:        cfg.Scheduler.BudgetWindow,
		DefaultBudget: cfg.Scheduler.DefaultBudget,
	}
	go scheduler.Run(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Scheduler.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				taskqueue.Cleanup(ctx, store, cfg.Scheduler.ProcessedTTL, logger)
			}
		}
	}()

	pruner := &webhooks.Pruner{Store: hooks, Logger: logger}
	go func() {
		ticker := time.NewTicker(cfg.Scheduler.PruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := pruner.Run(ctx, time.Now().UTC()); err != nil {
					logger.Plain().WithError(err).Error("retention prune failed")
				}
			}
		}
	}()

	adminSrv := &admin.Server{
		Publisher: &webhooks.Publisher{Store: hooks, Logger: logger, Priority: cfg.Delivery.Priority},
		Replayer:  &webhooks.Replayer{Store: hooks, Queue: store, Logger: logger, Priority: cfg.Delivery.Priority},
		Pruner:    pruner,
		Queries:   hooks,
		Logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/v1/", adminHandler(cfg, logger, adminSrv.Routes()))

	httpSrv := &http.Server{Addr: cfg.Scheduler.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("scheduler HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("scheduler HTTP server failed")
		}
	}()

	logger.Plain().WithFields(map[string]any{
		"sweep_interval": cfg.Scheduler.SweepInterval.String(),
		"topic":          cfg.NSQ.DispatchTopic,
	}).Info("scheduler service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down scheduler service")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("scheduler service stopped")
}

// adminHandler wraps the admin API with JWT auth when a public key is
// configured. Without a key the API is served unauthenticated, which is
// only acceptable on a private network.
func adminHandler(cfg config.Config, logger *logging.Logger, routes http.Handler) http.Handler {
	if cfg.Admin.JWTPublicKeyPEM == "" {
		logger.Plain().Warn("ADMIN_JWT_PUBLIC_KEY not set, admin API is unauthenticated")
		return routes
	}
	validator, err := auth.NewJWTValidator(cfg.Admin.JWTPublicKeyPEM, cfg.Admin.JWTIssuer, cfg.Admin.JWTAudience)
	if err != nil {
		logger.Plain().WithError(err).Fatal("admin JWT validator creation failed")
	}
	return validator.HTTPMiddleware(routes)
}
