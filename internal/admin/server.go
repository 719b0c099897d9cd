package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/OneSila/OneSilaHeadless-sub006/internal/logging"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/taskqueue"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/webhooks"
)

// Queries is the read-side persistence surface the admin API exposes.
type Queries interface {
	ListDeliveries(ctx context.Context, f webhooks.DeliveryFilter) ([]*webhooks.Delivery, error)
	ListAttempts(ctx context.Context, deliveryID string) ([]*webhooks.Attempt, error)
	Stats(ctx context.Context) (*webhooks.Stats, error)
}

// Server exposes the operational admin API: publish test events, replay
// deliveries, inspect delivery state, trigger pruning.
type Server struct {
	Publisher *webhooks.Publisher
	Replayer  *webhooks.Replayer
	Pruner    *webhooks.Pruner
	Queries   Queries
	Logger    *logging.Logger
}

// Routes builds the admin mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", s.handlePublish)
	mux.HandleFunc("GET /v1/deliveries", s.handleListDeliveries)
	mux.HandleFunc("GET /v1/failures", s.handleListFailures)
	mux.HandleFunc("GET /v1/deliveries/{id}/attempts", s.handleListAttempts)
	mux.HandleFunc("POST /v1/deliveries/{id}/replay", s.handleReplay)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("POST /v1/prune", s.handlePrune)
	return mux
}

type publishRequest struct {
	SubjectType string         `json:"subject_type"`
	SubjectID   string         `json:"subject_id"`
	Topic       string         `json:"topic"`
	Action      string         `json:"action"`
	Payload     map[string]any `json:"payload"`
	DirtyFields map[string]any `json:"dirty_fields,omitempty"`
}

type publishResponse struct {
	OutboxID    string `json:"outbox_id"`
	FanoutCount int    `json:"fanout_count"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	outbox, deliveries, err := s.Publisher.Publish(r.Context(), webhooks.Event{
		SubjectType: req.SubjectType,
		SubjectID:   req.SubjectID,
		Topic:       req.Topic,
		Action:      webhooks.Action(req.Action),
		Payload:     req.Payload,
		DirtyFields: req.DirtyFields,
	})
	if err != nil {
		if taskqueue.IsConfigError(err) {
			httpError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.Logger.WithContext(r.Context()).WithError(err).Error("publish failed")
		httpError(w, http.StatusInternalServerError, "publish failed")
		return
	}

	writeJSON(w, http.StatusCreated, publishResponse{
		OutboxID:    outbox.ID,
		FanoutCount: len(deliveries),
	})
}

func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		_, _ = fmt.Sscanf(v, "%d", &limit)
	}
	deliveries, err := s.Queries.ListDeliveries(r.Context(), webhooks.DeliveryFilter{
		OutboxID:      q.Get("outbox_id"),
		IntegrationID: q.Get("integration_id"),
		Status:        q.Get("status"),
		Limit:         limit,
	})
	if err != nil {
		s.Logger.WithContext(r.Context()).WithError(err).Error("list deliveries failed")
		httpError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, deliveries)
}

// handleListFailures is a shortcut for failed deliveries, the list an
// operator reaches for first.
func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		_, _ = fmt.Sscanf(v, "%d", &limit)
	}
	deliveries, err := s.Queries.ListDeliveries(r.Context(), webhooks.DeliveryFilter{
		IntegrationID: q.Get("integration_id"),
		Status:        string(webhooks.DeliveryFailed),
		Limit:         limit,
	})
	if err != nil {
		s.Logger.WithContext(r.Context()).WithError(err).Error("list failures failed")
		httpError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, deliveries)
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.Queries.ListAttempts(r.Context(), r.PathValue("id"))
	if err != nil {
		s.Logger.WithContext(r.Context()).WithError(err).Error("list attempts failed")
		httpError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

type replayRequest struct {
	Reason string `json:"reason"`
}

type replayResponse struct {
	DeliveryID string `json:"delivery_id"`
	TaskID     int64  `json:"task_id"`
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	deliveryID := r.PathValue("id")
	var req replayRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	entry, err := s.Replayer.Replay(r.Context(), deliveryID, req.Reason)
	if err != nil {
		s.Logger.WithContext(r.Context()).WithDelivery(deliveryID).WithError(err).Error("replay failed")
		httpError(w, http.StatusNotFound, "replay failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, replayResponse{DeliveryID: deliveryID, TaskID: entry.ID})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Queries.Stats(r.Context())
	if err != nil {
		s.Logger.WithContext(r.Context()).WithError(err).Error("stats failed")
		httpError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Pruner.Run(r.Context(), time.Now().UTC())
	if err != nil {
		s.Logger.WithContext(r.Context()).WithError(err).Error("prune failed")
		httpError(w, http.StatusInternalServerError, "prune failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
