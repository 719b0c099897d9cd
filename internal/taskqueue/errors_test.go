package taskqueue

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorClassification(t *testing.T) {
	configErr := NewConfigError("topic %q is empty", "")
	permErr := &PermanentError{Reason: "signature rejected", StatusCode: 401}
	transErr := &TransientError{Reason: "rate limited", StatusCode: 429, RetryAfter: 5 * time.Second}

	tests := []struct {
		name          string
		err           error
		wantConfig    bool
		wantPermanent bool
		wantTransient bool
	}{
		{name: "config error", err: configErr, wantConfig: true},
		{name: "permanent error", err: permErr, wantPermanent: true},
		{name: "transient error", err: transErr, wantTransient: true},
		{name: "wrapped config error", err: fmt.Errorf("enqueue: %w", configErr), wantConfig: true},
		{name: "wrapped permanent error", err: fmt.Errorf("send: %w", permErr), wantPermanent: true},
		{name: "wrapped transient error", err: fmt.Errorf("send: %w", transErr), wantTransient: true},
		{name: "plain error", err: errors.New("boom")},
		{name: "nil", err: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConfigError(tt.err); got != tt.wantConfig {
				t.Errorf("IsConfigError() = %v, want %v", got, tt.wantConfig)
			}
			if got := IsPermanent(tt.err); got != tt.wantPermanent {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.wantPermanent)
			}
			if got := IsTransient(tt.err); got != tt.wantTransient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.wantTransient)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	if got := NewConfigError("bad %s", "input").Error(); got != "configuration error: bad input" {
		t.Errorf("ConfigError.Error() = %q", got)
	}
	if got := (&PermanentError{Reason: "gone", StatusCode: 410}).Error(); got != "permanent remote error (status 410): gone" {
		t.Errorf("PermanentError.Error() = %q", got)
	}
	if got := (&PermanentError{Reason: "no secret"}).Error(); got != "permanent remote error: no secret" {
		t.Errorf("PermanentError.Error() = %q", got)
	}
	if got := (&TransientError{Reason: "flaky", StatusCode: 503}).Error(); got != "transient remote error (status 503): flaky" {
		t.Errorf("TransientError.Error() = %q", got)
	}
}
