package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OneSila/OneSilaHeadless-sub006/internal/config"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/db"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/health"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/logging"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/metrics"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/taskqueue"
)

// nsqStats is the shape of nsqd's /stats?format=json response, reduced to
// the fields the monitor reads.
type nsqStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
		Depth int64 `json:"depth"`
	} `json:"topics"`
}

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("onesila-queue-monitor")

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	store := taskqueue.NewPGStore(pool)

	interval := 15 * time.Second
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			interval = d
		}
	}

	go collect(ctx, cfg, store, logger, interval)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	port := os.Getenv("MONITOR_PORT")
	if port == "" {
		port = ":8084"
	}
	logger.Plain().WithField("addr", port).Info("queue monitor starting")
	logger.Plain().WithError(http.ListenAndServe(port, mux)).Fatal("queue monitor HTTP server failed")
}

func collect(ctx context.Context, cfg config.Config, store *taskqueue.PGStore, logger *logging.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	client := &http.Client{Timeout: 5 * time.Second}

	for range ticker.C {
		depths, err := store.DepthByStatus(ctx)
		if err != nil {
			logger.Plain().WithError(err).Error("task queue depth query failed")
		} else {
			for _, status := range []taskqueue.Status{taskqueue.StatusPending, taskqueue.StatusProcessing, taskqueue.StatusProcessed, taskqueue.StatusFailed} {
				metrics.UpdateQueueDepth(string(status), float64(depths[string(status)]))
			}
		}

		if err := updateNSQDepth(client, cfg); err != nil {
			logger.Plain().WithError(err).Error("nsq stats update failed")
		}
	}
}

func updateNSQDepth(client *http.Client, cfg config.Config) error {
	// nsqd serves stats on its HTTP port, one above the TCP port
	httpAddr := strings.Replace(cfg.NSQ.NsqdTCPAddr, ":4150", ":4151", 1)
	resp, err := client.Get(fmt.Sprintf("http://%s/stats?format=json", httpAddr))
	if err != nil {
		return fmt.Errorf("failed to get NSQ stats: %w", err)
	}
	defer resp.Body.Close()

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("failed to decode NSQ stats: %w", err)
	}

	for _, topic := range stats.Topics {
		if topic.TopicName != cfg.NSQ.DispatchTopic {
			continue
		}
		for _, channel := range topic.Channels {
			metrics.UpdateNSQTopicDepth(topic.TopicName, channel.ChannelName, float64(channel.Depth))
		}
	}
	return nil
}
