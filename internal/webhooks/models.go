package webhooks

import (
	"time"
)

// Mode selects how much state an integration receives on updates.
type Mode string

const (
	ModeFull  Mode = "full"
	ModeDelta Mode = "delta"
)

// Action is the business mutation an outbox event describes.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// RetentionPolicy bounds how long delivered records are kept.
type RetentionPolicy string

const (
	Retention3M  RetentionPolicy = "3m"
	Retention6M  RetentionPolicy = "6m"
	Retention12M RetentionPolicy = "12m"
)

// Window returns the retention duration for the policy. Unknown values
// fall back to the shortest window.
func (p RetentionPolicy) Window() time.Duration {
	switch p {
	case Retention6M:
		return 180 * 24 * time.Hour
	case Retention12M:
		return 365 * 24 * time.Hour
	default:
		return 90 * 24 * time.Hour
	}
}

// Integration is a tenant-scoped webhook subscriber. Created and edited by
// tenant admins; the delivery core only reads it.
type Integration struct {
	ID                string
	TenantID          string
	EndpointURL       string
	Secret            string
	Mode              Mode
	Active            bool
	Retention         RetentionPolicy
	Version           string
	RequestsPerMinute int
}

// Outbox is the durable record that a business event happened, created in
// the same transaction as the business write. Immutable once created; it
// carries the envelope inputs so resends reproduce the same document.
type Outbox struct {
	ID          string // correlation id (UUID)
	SubjectType string
	SubjectID   string
	Topic       string
	Action      Action
	Payload     map[string]any
	DirtyFields map[string]any // old values of the changed fields
	CreatedAt   time.Time
}

// DeliveryStatus is the lifecycle state of one (outbox, integration) pair.
// failed -> pending happens only through an explicit replay.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySending   DeliveryStatus = "sending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Delivery tracks delivery of one outbox event to one integration.
type Delivery struct {
	ID            string         `json:"id"`
	OutboxID      string         `json:"outbox_id"`
	IntegrationID string         `json:"integration_id"`
	Status        DeliveryStatus `json:"status"`
	Attempt       int            `json:"attempt"`
	SentAt        *time.Time     `json:"sent_at,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Attempt is one HTTP attempt in the append-only log. Rows are never
// mutated; they disappear only through the parent delivery cascade.
type Attempt struct {
	ID           int64     `json:"id"`
	DeliveryID   string    `json:"delivery_id"`
	Number       int       `json:"attempt_number"`
	SentAt       time.Time `json:"sent_at"`
	ResponseCode int       `json:"response_code"`
	LatencyMS    int       `json:"latency_ms"`
	Error        string    `json:"error,omitempty"`
}
