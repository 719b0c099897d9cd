package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the request signature as t=<unix-ts>,v1=<hex>.
const SignatureHeader = "X-OneSila-Signature"

// ReplayWindow is the maximum allowed skew between the signature timestamp
// and the verifier's clock.
const ReplayWindow = 300 * time.Second

var (
	ErrSignatureMissing = errors.New("signature header missing or malformed")
	ErrSignatureExpired = errors.New("signature timestamp outside replay window")
	ErrSignatureInvalid = errors.New("signature mismatch")
)

// Sign computes the hex HMAC-SHA256 of "{ts}.{body}" under the secret.
func Sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeaderValue renders the full header value for a signed body.
func SignatureHeaderValue(secret string, ts int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, Sign(secret, ts, body))
}

// ParseSignatureHeader splits a t=...,v1=... header into its parts.
func ParseSignatureHeader(header string) (ts int64, sig string, err error) {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "t="):
			ts, err = strconv.ParseInt(strings.TrimPrefix(part, "t="), 10, 64)
			if err != nil {
				return 0, "", ErrSignatureMissing
			}
		case strings.HasPrefix(part, "v1="):
			sig = strings.TrimPrefix(part, "v1=")
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", ErrSignatureMissing
	}
	return ts, sig, nil
}

// VerifySignature recomputes the HMAC under the secret, compares in
// constant time and enforces the replay window. Any mismatch or staleness
// is an unconditional rejection; there is no fallback to unsigned
// acceptance.
func VerifySignature(secret, header string, body []byte, now time.Time, window time.Duration) error {
	ts, sig, err := ParseSignatureHeader(header)
	if err != nil {
		return err
	}

	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(window.Seconds()) {
		return ErrSignatureExpired
	}

	want := Sign(secret, ts, body)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return ErrSignatureInvalid
	}
	return nil
}
