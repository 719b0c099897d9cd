package webhooks

import (
	"errors"
	"testing"
	"time"
)

func TestSignatureRoundTrip(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"id":"evt_1","event":"products.updated"}`)
	now := time.Unix(1700000000, 0).UTC()

	header := SignatureHeaderValue(secret, now.Unix(), body)
	if err := VerifySignature(secret, header, body, now, ReplayWindow); err != nil {
		t.Errorf("VerifySignature() error = %v, want nil", err)
	}
}

func TestVerifySignatureRejections(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0).UTC()
	good := SignatureHeaderValue(secret, now.Unix(), body)

	tests := []struct {
		name    string
		secret  string
		header  string
		body    []byte
		now     time.Time
		wantErr error
	}{
		{
			name:    "wrong secret",
			secret:  "whsec_other",
			header:  good,
			body:    body,
			now:     now,
			wantErr: ErrSignatureInvalid,
		},
		{
			name:    "tampered body",
			secret:  secret,
			header:  good,
			body:    []byte(`{"id":"evt_2"}`),
			now:     now,
			wantErr: ErrSignatureInvalid,
		},
		{
			name:    "timestamp too old",
			secret:  secret,
			header:  good,
			body:    body,
			now:     now.Add(301 * time.Second),
			wantErr: ErrSignatureExpired,
		},
		{
			name:    "timestamp in the future",
			secret:  secret,
			header:  SignatureHeaderValue(secret, now.Add(301*time.Second).Unix(), body),
			body:    body,
			now:     now,
			wantErr: ErrSignatureExpired,
		},
		{
			name:    "missing header",
			secret:  secret,
			header:  "",
			body:    body,
			now:     now,
			wantErr: ErrSignatureMissing,
		},
		{
			name:    "malformed header",
			secret:  secret,
			header:  "v1=deadbeef",
			body:    body,
			now:     now,
			wantErr: ErrSignatureMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.secret, tt.header, tt.body, tt.now, ReplayWindow)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifySignature() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifySignatureEdgeOfWindow(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{}`)
	now := time.Unix(1700000000, 0).UTC()

	// exactly 300s of skew is still inside the window
	header := SignatureHeaderValue(secret, now.Add(-300*time.Second).Unix(), body)
	if err := VerifySignature(secret, header, body, now, ReplayWindow); err != nil {
		t.Errorf("VerifySignature() at window edge error = %v, want nil", err)
	}
}

func TestParseSignatureHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		wantTS  int64
		wantSig string
		wantErr bool
	}{
		{
			name:    "valid",
			header:  "t=1700000000,v1=abc123",
			wantTS:  1700000000,
			wantSig: "abc123",
		},
		{
			name:    "spaces around parts",
			header:  "t=1700000000, v1=abc123",
			wantTS:  1700000000,
			wantSig: "abc123",
		},
		{
			name:    "missing timestamp",
			header:  "v1=abc123",
			wantErr: true,
		},
		{
			name:    "missing signature",
			header:  "t=1700000000",
			wantErr: true,
		},
		{
			name:    "non-numeric timestamp",
			header:  "t=soon,v1=abc123",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, sig, err := ParseSignatureHeader(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSignatureHeader() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if ts != tt.wantTS {
				t.Errorf("ParseSignatureHeader() ts = %d, want %d", ts, tt.wantTS)
			}
			if sig != tt.wantSig {
				t.Errorf("ParseSignatureHeader() sig = %q, want %q", sig, tt.wantSig)
			}
		})
	}
}
