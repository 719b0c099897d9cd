package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OneSila/OneSilaHeadless-sub006/internal/config"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/db"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/health"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/logging"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/metrics"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/taskqueue"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/tracing"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/webhooks"

	"go.opentelemetry.io/otel/attribute"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("onesila-worker")

	shutdown, err := tracing.InitTracing(ctx, "onesila-worker")
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

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	store := taskqueue.NewPGStore(pool)
	hooks := webhooks.NewPGStore(pool)

	sender := &webhooks.Sender{
		Store: hooks,
		Queue: store,
		HTTP:  webhooks.NewHTTPClient(cfg.Delivery.Timeout),
		Retry: webhooks.RetryPolicy{
			MaxAttempts:       cfg.Delivery.MaxAttempts,
			Backoff:           cfg.Delivery.BackoffSchedule,
			JitterPercent:     cfg.Delivery.JitterPercent,
			DefaultRetryAfter: cfg.Delivery.DefaultRetryAfter,
		},
		Logger: logger,
	}

	registry := taskqueue.NewRegistry()
	registry.MustRegister(webhooks.SendDeliveryKind, sender.Handle)

	executor := taskqueue.NewExecutor(store, registry, logger)

	conf := nsq.NewConfig()
	conf.MaxInFlight = 1000
	consumer, err := nsq.NewConsumer(cfg.NSQ.DispatchTopic, cfg.NSQ.WorkerChannel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}

	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		var d taskqueue.Dispatch
		if err := json.Unmarshal(m.Body, &d); err != nil {
			logger.Plain().WithError(err).Error("bad dispatch payload")
			m.Finish() // terminal: don't retry bad payloads
			return nil
		}

		ctx := tracing.ExtractTraceFromNSQ(ctx, d.TraceHeaders)
		ctx, span := tracing.StartSpan(ctx, "worker.dispatch",
			attribute.Int64("task_id", d.EntryID),
			attribute.String("task_name", string(d.TaskName)),
		)
		defer span.End()

		entry, err := store.Get(ctx, d.EntryID)
		if err != nil {
			tracing.SetSpanError(ctx, err)
			logger.WithContext(ctx).WithTask(d.EntryID).WithError(err).Error("load claimed entry failed")
			m.Finish()
			return nil
		}
		if entry.Status != taskqueue.StatusProcessing {
			// stale dispatch, e.g. a claim that was released after a
			// publish retry delivered the message twice
			logger.WithContext(ctx).WithTask(entry.ID).WithField("status", string(entry.Status)).Warn("dispatch for non-processing entry, skipping")
			m.Finish()
			return nil
		}

		executor.Execute(ctx, entry)
		m.Finish()
		return nil
	}))

	// Connecting directly to NSQD forces channel creation, instead of the channel being lazily created on first publish
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	logger.Plain().WithField("tasks", registry.Kinds()).Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down worker service")
	consumer.Stop()
	<-consumer.StopChan
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}
