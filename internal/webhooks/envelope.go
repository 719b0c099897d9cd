package webhooks

import (
	"sort"
	"time"
)

// Subject identifies the entity an envelope describes.
type Subject struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	SKU  string `json:"sku,omitempty"`
}

// EnvelopeData carries before/after state according to the integration mode.
type EnvelopeData struct {
	Before        map[string]any `json:"before,omitempty"`
	After         map[string]any `json:"after,omitempty"`
	ChangedFields []string       `json:"changed_fields,omitempty"`
}

// Envelope is the versioned JSON document sent to a subscriber. It is
// transient; only the outbox inputs that produce it are persisted.
type Envelope struct {
	ID         string       `json:"id"`
	Event      string       `json:"event"`
	Action     string       `json:"action"`
	Version    string       `json:"version"`
	OccurredAt string       `json:"occurred_at"`
	Subject    Subject      `json:"subject"`
	Mode       string       `json:"mode"`
	Data       EnvelopeData `json:"data"`
}

// BuildEnvelope derives the wire document for one (integration, outbox)
// pair. It is a pure function: the same inputs always produce the same
// envelope, which keeps signatures reproducible.
func BuildEnvelope(integration Integration, outbox Outbox) Envelope {
	env := Envelope{
		ID:         outbox.ID,
		Event:      outbox.Topic,
		Action:     string(outbox.Action),
		Version:    integration.Version,
		OccurredAt: outbox.CreatedAt.UTC().Format(time.RFC3339),
		Subject:    buildSubject(outbox),
	}

	changed := changedFields(outbox.DirtyFields)

	switch outbox.Action {
	case ActionCreate:
		env.Mode = string(ModeFull)
		env.Data.After = outbox.Payload
	case ActionDelete:
		env.Mode = string(ModeFull)
		env.Data.Before = outbox.Payload
	case ActionUpdate:
		env.Mode = string(integration.Mode)
		switch integration.Mode {
		case ModeDelta:
			env.Data.After = restrictKeys(outbox.Payload, changed)
			env.Data.Before = restrictKeys(outbox.DirtyFields, changed)
		default:
			env.Data.After = outbox.Payload
			env.Data.Before = outbox.DirtyFields
		}
	}

	env.Data.ChangedFields = changed
	return env
}

func buildSubject(outbox Outbox) Subject {
	s := Subject{Type: outbox.SubjectType, ID: outbox.SubjectID}
	if sku, ok := outbox.Payload["sku"].(string); ok {
		s.SKU = sku
	}
	return s
}

// changedFields returns the diff keys sorted, so envelope bytes stay
// deterministic for signing.
func changedFields(dirty map[string]any) []string {
	if len(dirty) == 0 {
		return nil
	}
	fields := make([]string, 0, len(dirty))
	for k := range dirty {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

func restrictKeys(m map[string]any, keys []string) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out
}
