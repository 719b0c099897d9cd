package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements the webhook persistence surfaces on Postgres. It also
// serves the scheduler's per-integration budget lookups.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// CreateFanOut inserts the outbox row, one pending delivery per active
// integration subscribed to the topic and one send task per delivery, in
// a single transaction. Any failure rolls the whole fan-out back.
func (s *PGStore) CreateFanOut(ctx context.Context, outbox *Outbox, taskPriority int) ([]*Delivery, error) {
	payload, err := json.Marshal(outbox.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	dirty, err := json.Marshal(outbox.DirtyFields)
	if err != nil {
		return nil, fmt.Errorf("marshal dirty fields: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO onesila.webhook_outbox
			(id, subject_type, subject_id, topic, action, payload, dirty_fields, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		outbox.ID, outbox.SubjectType, outbox.SubjectID, outbox.Topic,
		string(outbox.Action), payload, dirty, outbox.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert outbox: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT i.id, i.tenant_id, i.endpoint_url, i.secret, i.mode, i.active,
		       i.retention_policy, i.version, i.requests_per_minute
		FROM onesila.webhook_integrations i
		JOIN onesila.webhook_subscriptions s ON s.integration_id = i.id
		WHERE i.active AND s.topic = $1`, outbox.Topic)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}

	var integrations []*Integration
	for rows.Next() {
		var i Integration
		if err := rows.Scan(&i.ID, &i.TenantID, &i.EndpointURL, &i.Secret, &i.Mode,
			&i.Active, &i.Retention, &i.Version, &i.RequestsPerMinute); err != nil {
			rows.Close()
			return nil, err
		}
		integrations = append(integrations, &i)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var deliveries []*Delivery
	for _, integ := range integrations {
		if err := ValidateIntegration(integ); err != nil {
			return nil, err
		}

		var d Delivery
		if err := tx.QueryRow(ctx, `
			INSERT INTO onesila.webhook_deliveries (outbox_id, integration_id, status)
			VALUES ($1, $2, 'pending')
			RETURNING id, outbox_id, integration_id, status, attempt, created_at, updated_at`,
			outbox.ID, integ.ID,
		).Scan(&d.ID, &d.OutboxID, &d.IntegrationID, &d.Status, &d.Attempt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("insert delivery: %w", err)
		}

		kwargs, _ := json.Marshal(SendKwargs{OutboxID: outbox.ID, DeliveryID: d.ID})
		if _, err := tx.Exec(ctx, `
			INSERT INTO onesila.task_queue
				(integration_id, task_name, kwargs, number_of_remote_requests, priority)
			VALUES ($1, $2, $3, 1, $4)`,
			integ.ID, string(SendDeliveryKind), kwargs, taskPriority,
		); err != nil {
			return nil, fmt.Errorf("enqueue send task: %w", err)
		}

		deliveries = append(deliveries, &d)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return deliveries, nil
}

func (s *PGStore) Delivery(ctx context.Context, id string) (*Delivery, error) {
	var d Delivery
	err := s.pool.QueryRow(ctx, `
		SELECT id, outbox_id, integration_id, status, attempt, sent_at,
		       COALESCE(last_error, ''), created_at, updated_at
		FROM onesila.webhook_deliveries
		WHERE id = $1`, id,
	).Scan(&d.ID, &d.OutboxID, &d.IntegrationID, &d.Status, &d.Attempt,
		&d.SentAt, &d.LastError, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// DeliveryForSend loads the delivery together with its outbox and
// integration in one round trip.
func (s *PGStore) DeliveryForSend(ctx context.Context, deliveryID string) (*Delivery, *Outbox, *Integration, error) {
	var (
		d             Delivery
		o             Outbox
		i             Integration
		payload, diff []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT d.id, d.outbox_id, d.integration_id, d.status, d.attempt, d.sent_at,
		       COALESCE(d.last_error, ''), d.created_at, d.updated_at,
		       o.id, o.subject_type, o.subject_id, o.topic, o.action, o.payload, o.dirty_fields, o.created_at,
		       i.id, i.tenant_id, i.endpoint_url, i.secret, i.mode, i.active,
		       i.retention_policy, i.version, i.requests_per_minute
		FROM onesila.webhook_deliveries d
		JOIN onesila.webhook_outbox o ON o.id = d.outbox_id
		JOIN onesila.webhook_integrations i ON i.id = d.integration_id
		WHERE d.id = $1`, deliveryID,
	).Scan(&d.ID, &d.OutboxID, &d.IntegrationID, &d.Status, &d.Attempt, &d.SentAt,
		&d.LastError, &d.CreatedAt, &d.UpdatedAt,
		&o.ID, &o.SubjectType, &o.SubjectID, &o.Topic, &o.Action, &payload, &diff, &o.CreatedAt,
		&i.ID, &i.TenantID, &i.EndpointURL, &i.Secret, &i.Mode, &i.Active,
		&i.Retention, &i.Version, &i.RequestsPerMinute)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := json.Unmarshal(payload, &o.Payload); err != nil {
		return nil, nil, nil, fmt.Errorf("decode outbox payload: %w", err)
	}
	if err := json.Unmarshal(diff, &o.DirtyFields); err != nil {
		return nil, nil, nil, fmt.Errorf("decode outbox dirty fields: %w", err)
	}
	return &d, &o, &i, nil
}

func (s *PGStore) MarkSending(ctx context.Context, deliveryID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE onesila.webhook_deliveries
		SET status = 'sending', updated_at = now()
		WHERE id = $1`, deliveryID)
	return err
}

func (s *PGStore) MarkPending(ctx context.Context, deliveryID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE onesila.webhook_deliveries
		SET status = 'pending', updated_at = now()
		WHERE id = $1`, deliveryID)
	return err
}

func (s *PGStore) MarkDelivered(ctx context.Context, deliveryID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE onesila.webhook_deliveries
		SET status = 'delivered', sent_at = $2, last_error = NULL, updated_at = now()
		WHERE id = $1`, deliveryID, at)
	return err
}

func (s *PGStore) MarkDeliveryFailed(ctx context.Context, deliveryID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE onesila.webhook_deliveries
		SET status = 'failed', last_error = $2, updated_at = now()
		WHERE id = $1`, deliveryID, reason)
	return err
}

// RecordAttempt bumps the delivery attempt counter and appends the attempt
// row with that number, atomically.
func (s *PGStore) RecordAttempt(ctx context.Context, deliveryID string, sentAt time.Time, responseCode, latencyMS int, errText string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var attempt int
	if err := tx.QueryRow(ctx, `
		UPDATE onesila.webhook_deliveries
		SET attempt = attempt + 1, last_error = NULLIF($2, ''), updated_at = now()
		WHERE id = $1
		RETURNING attempt`, deliveryID, errText,
	).Scan(&attempt); err != nil {
		return 0, fmt.Errorf("bump attempt: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO onesila.webhook_delivery_attempts
			(delivery_id, attempt_number, sent_at, response_code, latency_ms, error)
		VALUES ($1, $2, $3, NULLIF($4, 0), $5, NULLIF($6, ''))`,
		deliveryID, attempt, sentAt, responseCode, latencyMS, errText,
	); err != nil {
		return 0, fmt.Errorf("insert attempt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return attempt, nil
}

func (s *PGStore) ActiveIntegrations(ctx context.Context) ([]*Integration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, endpoint_url, secret, mode, active,
		       retention_policy, version, requests_per_minute
		FROM onesila.webhook_integrations
		WHERE active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Integration
	for rows.Next() {
		var i Integration
		if err := rows.Scan(&i.ID, &i.TenantID, &i.EndpointURL, &i.Secret, &i.Mode,
			&i.Active, &i.Retention, &i.Version, &i.RequestsPerMinute); err != nil {
			return nil, err
		}
		out = append(out, &i)
	}
	return out, rows.Err()
}

func (s *PGStore) PruneDelivered(ctx context.Context, integrationID string, cutoff time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM onesila.webhook_deliveries
		WHERE integration_id = $1 AND status = 'delivered' AND sent_at < $2`,
		integrationID, cutoff)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (s *PGStore) PruneOrphanOutbox(ctx context.Context) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM onesila.webhook_outbox o
		WHERE NOT EXISTS (
			SELECT 1 FROM onesila.webhook_deliveries d WHERE d.outbox_id = o.id
		)`)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// Budgets returns requests_per_minute per integration, for the dispatch
// scheduler's rate budgeting.
func (s *PGStore) Budgets(ctx context.Context, integrationIDs []string) (map[string]int, error) {
	budgets := make(map[string]int, len(integrationIDs))
	if len(integrationIDs) == 0 {
		return budgets, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, requests_per_minute
		FROM onesila.webhook_integrations
		WHERE id = ANY($1)`, integrationIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var budget int
		if err := rows.Scan(&id, &budget); err != nil {
			return nil, err
		}
		budgets[id] = budget
	}
	return budgets, rows.Err()
}

// DeliveryFilter narrows ListDeliveries results.
type DeliveryFilter struct {
	OutboxID      string
	IntegrationID string
	Status        string
	Limit         int
}

// ListDeliveries returns deliveries matching the filter, newest first.
func (s *PGStore) ListDeliveries(ctx context.Context, f DeliveryFilter) ([]*Delivery, error) {
	args := []any{}
	where := "1=1"
	argn := 0
	if f.OutboxID != "" {
		argn++
		where += fmt.Sprintf(" AND outbox_id = $%d", argn)
		args = append(args, f.OutboxID)
	}
	if f.IntegrationID != "" {
		argn++
		where += fmt.Sprintf(" AND integration_id = $%d", argn)
		args = append(args, f.IntegrationID)
	}
	if f.Status != "" {
		argn++
		where += fmt.Sprintf(" AND status = $%d", argn)
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	argn++
	args = append(args, limit)

	q := fmt.Sprintf(`
		SELECT id, outbox_id, integration_id, status, attempt, sent_at,
		       COALESCE(last_error, ''), created_at, updated_at
		FROM onesila.webhook_deliveries
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, where, argn)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.OutboxID, &d.IntegrationID, &d.Status, &d.Attempt,
			&d.SentAt, &d.LastError, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// ListAttempts returns the append-only attempt log of a delivery in order.
func (s *PGStore) ListAttempts(ctx context.Context, deliveryID string) ([]*Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, delivery_id, attempt_number, sent_at,
		       COALESCE(response_code, 0), COALESCE(latency_ms, 0), COALESCE(error, '')
		FROM onesila.webhook_delivery_attempts
		WHERE delivery_id = $1
		ORDER BY attempt_number ASC`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.DeliveryID, &a.Number, &a.SentAt,
			&a.ResponseCode, &a.LatencyMS, &a.Error); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// IntegrationStats aggregates outcomes for one integration.
type IntegrationStats struct {
	IntegrationID string  `json:"integration_id"`
	Delivered     int64   `json:"delivered"`
	Failed        int64   `json:"failed"`
	Pending       int64   `json:"pending"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
}

// TopicStats aggregates outcomes per topic.
type TopicStats struct {
	Topic     string `json:"topic"`
	Delivered int64  `json:"delivered"`
	Failed    int64  `json:"failed"`
}

// Stats is the operational dashboard payload: per-integration failure
// counts, latency, per-topic success rates.
type Stats struct {
	Integrations []IntegrationStats `json:"integrations"`
	Topics       []TopicStats       `json:"topics"`
}

func (s *PGStore) Stats(ctx context.Context) (*Stats, error) {
	out := &Stats{}

	rows, err := s.pool.Query(ctx, `
		SELECT d.integration_id,
		       COUNT(*) FILTER (WHERE d.status = 'delivered'),
		       COUNT(*) FILTER (WHERE d.status = 'failed'),
		       COUNT(*) FILTER (WHERE d.status IN ('pending', 'sending')),
		       COALESCE(AVG(a.latency_ms), 0)
		FROM onesila.webhook_deliveries d
		LEFT JOIN onesila.webhook_delivery_attempts a ON a.delivery_id = d.id
		GROUP BY d.integration_id
		ORDER BY COUNT(*) FILTER (WHERE d.status = 'failed') DESC`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var st IntegrationStats
		if err := rows.Scan(&st.IntegrationID, &st.Delivered, &st.Failed, &st.Pending, &st.AvgLatencyMS); err != nil {
			rows.Close()
			return nil, err
		}
		out.Integrations = append(out.Integrations, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT o.topic,
		       COUNT(*) FILTER (WHERE d.status = 'delivered'),
		       COUNT(*) FILTER (WHERE d.status = 'failed')
		FROM onesila.webhook_deliveries d
		JOIN onesila.webhook_outbox o ON o.id = d.outbox_id
		GROUP BY o.topic
		ORDER BY o.topic`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var st TopicStats
		if err := rows.Scan(&st.Topic, &st.Delivered, &st.Failed); err != nil {
			return nil, err
		}
		out.Topics = append(out.Topics, st)
	}
	return out, rows.Err()
}
