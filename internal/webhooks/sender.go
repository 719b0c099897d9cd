package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/OneSila/OneSilaHeadless-sub006/internal/logging"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/metrics"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/taskqueue"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// RetryPolicy is explicit configuration for the 5xx/timeout retry path and
// the 429 fallback.
type RetryPolicy struct {
	MaxAttempts       int
	Backoff           []time.Duration
	JitterPercent     float64
	DefaultRetryAfter time.Duration
}

// SenderStore is the delivery-side persistence the sender needs.
type SenderStore interface {
	DeliveryForSend(ctx context.Context, deliveryID string) (*Delivery, *Outbox, *Integration, error)
	MarkSending(ctx context.Context, deliveryID string) error
	MarkPending(ctx context.Context, deliveryID string) error
	MarkDelivered(ctx context.Context, deliveryID string, at time.Time) error
	MarkDeliveryFailed(ctx context.Context, deliveryID, reason string) error
	// RecordAttempt appends one attempt row and returns its number.
	RecordAttempt(ctx context.Context, deliveryID string, sentAt time.Time, responseCode, latencyMS int, errText string) (int, error)
}

// Sender executes send_webhook_delivery tasks: build the envelope, sign
// it, POST it, record exactly one attempt, and decide the next transition.
type Sender struct {
	Store  SenderStore
	Queue  taskqueue.Enqueuer
	HTTP   *http.Client
	Retry  RetryPolicy
	Logger *logging.Logger
}

// NewHTTPClient builds the outbound client: strict timeout, redirects
// never followed (a redirected signature is a security ambiguity).
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Handle is the registered task handler for SendDeliveryKind.
func (s *Sender) Handle(ctx context.Context, entry *taskqueue.Entry) error {
	var kw SendKwargs
	if err := json.Unmarshal(entry.Kwargs, &kw); err != nil {
		return fmt.Errorf("decode send kwargs: %w", err)
	}
	if kw.DeliveryID == "" {
		return fmt.Errorf("send kwargs missing delivery_id")
	}
	return s.Send(ctx, kw.DeliveryID)
}

// Send performs one delivery attempt. Every branch records exactly one
// attempt row. The returned error marks the task-queue entry failed;
// scheduled retries return nil because a follow-up entry now owns the
// delivery.
func (s *Sender) Send(ctx context.Context, deliveryID string) error {
	ctx, span := tracing.StartSpan(ctx, "webhooks.send",
		attribute.String("delivery_id", deliveryID),
	)
	defer span.End()

	delivery, outbox, integration, err := s.Store.DeliveryForSend(ctx, deliveryID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("load delivery %s: %w", deliveryID, err)
	}
	span.SetAttributes(
		attribute.String("outbox_id", outbox.ID),
		attribute.String("integration_id", integration.ID),
		attribute.String("topic", outbox.Topic),
	)

	log := s.Logger.WithContext(ctx).
		WithDelivery(delivery.ID).
		WithOutbox(outbox.ID).
		WithIntegration(integration.ID).
		WithTopic(outbox.Topic)

	if integration.Secret == "" {
		_ = s.Store.MarkDeliveryFailed(ctx, delivery.ID, "integration secret missing")
		metrics.RecordDelivery("failed", integration.ID, 0)
		return &taskqueue.PermanentError{Reason: "integration secret missing"}
	}

	if err := s.Store.MarkSending(ctx, delivery.ID); err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("mark sending: %w", err)
	}

	envelope := BuildEnvelope(*integration, *outbox)
	body, err := json.Marshal(envelope)
	if err != nil {
		_ = s.Store.MarkDeliveryFailed(ctx, delivery.ID, "envelope not serializable")
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ts := time.Now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, integration.EndpointURL, bytes.NewReader(body))
	if err != nil {
		_ = s.Store.MarkDeliveryFailed(ctx, delivery.ID, "endpoint url rejected")
		return &taskqueue.PermanentError{Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, SignatureHeaderValue(integration.Secret, ts, body))
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	start := time.Now()
	resp, doErr := s.HTTP.Do(req)
	latency := time.Since(start)
	status := 0
	retryAfterHeader := ""
	if doErr == nil {
		status = resp.StatusCode
		retryAfterHeader = resp.Header.Get("Retry-After")
		_ = resp.Body.Close()
	}

	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)

	attemptNo, recErr := s.Store.RecordAttempt(ctx, delivery.ID, start.UTC(), status, int(latency.Milliseconds()), errString(doErr))
	if recErr != nil {
		tracing.SetSpanError(ctx, recErr)
		log.WithError(recErr).Error("record attempt failed")
	}

	switch {
	case doErr == nil && status >= 200 && status < 300:
		if err := s.Store.MarkDelivered(ctx, delivery.ID, time.Now().UTC()); err != nil {
			tracing.SetSpanError(ctx, err)
			return fmt.Errorf("mark delivered: %w", err)
		}
		metrics.RecordDelivery("delivered", integration.ID, latency)
		metrics.RecordTopicDelivery(outbox.Topic, "delivered")
		log.WithField("attempt", attemptNo).Info("delivered")
		return nil

	case status == http.StatusUnauthorized || status == 496:
		// signature rejected by the subscriber: permanent, never retried
		reason := fmt.Sprintf("signature rejected (status %d)", status)
		_ = s.Store.MarkDeliveryFailed(ctx, delivery.ID, reason)
		metrics.RecordDelivery("failed", integration.ID, latency)
		metrics.RecordTopicDelivery(outbox.Topic, "failed")
		log.WithField("status", status).Error("signature rejected")
		return &taskqueue.PermanentError{Reason: reason, StatusCode: status}

	case status == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(retryAfterHeader, s.Retry.DefaultRetryAfter)
		metrics.RecordRetry("http_429")
		if err := s.scheduleRetry(ctx, delivery, outbox, integration, retryAfter); err != nil {
			return err
		}
		log.WithFields(map[string]any{"attempt": attemptNo, "retry_after": retryAfter.String()}).Info("rate limited, retry scheduled")
		return nil

	case doErr != nil || status >= 500:
		reason := classifyReason(doErr, status)
		metrics.RecordRetry(reason)
		if attemptNo >= s.Retry.MaxAttempts {
			failReason := fmt.Sprintf("max attempts reached (%d), last status=%d, err=%s", attemptNo, status, errString(doErr))
			_ = s.Store.MarkDeliveryFailed(ctx, delivery.ID, failReason)
			metrics.RecordDelivery("failed", integration.ID, latency)
			metrics.RecordTopicDelivery(outbox.Topic, "failed")
			log.WithField("attempt", attemptNo).Error("retries exhausted")
			return &taskqueue.TransientError{Reason: failReason, StatusCode: status}
		}
		delay := computeDelay(attemptNo, s.Retry.Backoff, s.Retry.JitterPercent)
		if err := s.scheduleRetry(ctx, delivery, outbox, integration, delay); err != nil {
			return err
		}
		log.WithFields(map[string]any{"attempt": attemptNo, "delay": delay.String(), "reason": reason}).Info("retry scheduled")
		return nil

	default:
		// 3xx (redirects are never followed) and remaining 4xx
		reason := fmt.Sprintf("permanent failure, status=%d", status)
		_ = s.Store.MarkDeliveryFailed(ctx, delivery.ID, reason)
		metrics.RecordDelivery("failed", integration.ID, latency)
		metrics.RecordTopicDelivery(outbox.Topic, "failed")
		log.WithField("status", status).Error("permanent delivery failure")
		return &taskqueue.PermanentError{Reason: reason, StatusCode: status}
	}
}

// scheduleRetry returns the delivery to pending and enqueues a NEW
// task-queue entry eligible no earlier than now+delay. Old entries are
// never mutated; every retry is auditable as its own entry.
func (s *Sender) scheduleRetry(ctx context.Context, delivery *Delivery, outbox *Outbox, integration *Integration, delay time.Duration) error {
	if err := s.Store.MarkPending(ctx, delivery.ID); err != nil {
		return fmt.Errorf("mark pending for retry: %w", err)
	}
	_, err := s.Queue.Enqueue(ctx, taskqueue.NewEntry{
		IntegrationID:  integration.ID,
		TaskName:       SendDeliveryKind,
		Kwargs:         SendKwargs{OutboxID: outbox.ID, DeliveryID: delivery.ID},
		RemoteRequests: 1,
		RunAfter:       time.Now().UTC().Add(delay),
	})
	if err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// parseRetryAfter reads a Retry-After header as delta-seconds or HTTP-date,
// falling back to the configured default.
func parseRetryAfter(header string, def time.Duration) time.Duration {
	if header == "" {
		return def
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return def
}

// computeDelay maps a 1-based attempt count onto the backoff schedule and
// applies +/- jitter.
func computeDelay(attempt int, schedule []time.Duration, jitterPct float64) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	base := schedule[idx]
	j := 1 + (rand.Float64()*2-1)*jitterPct
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(float64(base) * j)
}

func classifyReason(doErr error, status int) string {
	if doErr != nil {
		errLower := strings.ToLower(doErr.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline exceeded") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == 429 {
		return "http_429"
	}
	return "other"
}
