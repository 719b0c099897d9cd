package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "onesila"
	testAudience = "onesila-admin"
)

func testKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey),
	})
	return key, string(pemBytes)
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": "ops@example.com",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func TestNewJWTValidatorPKIXKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal PKIX: %v", err)
	}
	pemStr := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	if _, err := NewJWTValidator(pemStr, testIssuer, testAudience); err != nil {
		t.Errorf("NewJWTValidator() with PKIX key: %v", err)
	}
}

func TestNewJWTValidatorBadPEM(t *testing.T) {
	if _, err := NewJWTValidator("not a pem", testIssuer, testAudience); err == nil {
		t.Error("NewJWTValidator() accepted garbage PEM")
	}
}

func TestValidateToken(t *testing.T) {
	key, pub := testKeyPair(t)
	v, err := NewJWTValidator(pub, testIssuer, testAudience)
	if err != nil {
		t.Fatalf("NewJWTValidator: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(c jwt.MapClaims)
		wantErr bool
	}{
		{
			name:   "valid token",
			mutate: func(c jwt.MapClaims) {},
		},
		{
			name:    "wrong issuer",
			mutate:  func(c jwt.MapClaims) { c["iss"] = "someone-else" },
			wantErr: true,
		},
		{
			name:    "wrong audience",
			mutate:  func(c jwt.MapClaims) { c["aud"] = "other-api" },
			wantErr: true,
		},
		{
			name:    "missing subject",
			mutate:  func(c jwt.MapClaims) { delete(c, "sub") },
			wantErr: true,
		},
		{
			name:    "empty subject",
			mutate:  func(c jwt.MapClaims) { c["sub"] = "" },
			wantErr: true,
		},
		{
			name:    "expired",
			mutate:  func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims()
			tt.mutate(claims)
			sub, err := v.ValidateToken(signToken(t, key, claims))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && sub != "ops@example.com" {
				t.Errorf("subject = %q, want ops@example.com", sub)
			}
		})
	}
}

func TestValidateTokenWrongKey(t *testing.T) {
	_, pub := testKeyPair(t)
	otherKey, _ := testKeyPair(t)
	v, err := NewJWTValidator(pub, testIssuer, testAudience)
	if err != nil {
		t.Fatalf("NewJWTValidator: %v", err)
	}

	if _, err := v.ValidateToken(signToken(t, otherKey, validClaims())); err == nil {
		t.Error("ValidateToken() accepted token signed with a different key")
	}
}

func TestValidateTokenRejectsHMAC(t *testing.T) {
	_, pub := testKeyPair(t)
	v, err := NewJWTValidator(pub, testIssuer, testAudience)
	if err != nil {
		t.Fatalf("NewJWTValidator: %v", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
	signed, err := token.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := v.ValidateToken(signed); err == nil {
		t.Error("ValidateToken() accepted HS256 token")
	}
}

func TestHTTPMiddleware(t *testing.T) {
	key, pub := testKeyPair(t)
	v, err := NewJWTValidator(pub, testIssuer, testAudience)
	if err != nil {
		t.Fatalf("NewJWTValidator: %v", err)
	}

	var gotSubject string
	handler := v.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = GetSubjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		path       string
		authHeader string
		wantCode   int
	}{
		{
			name:       "valid bearer token",
			path:       "/v1/deliveries",
			authHeader: "Bearer " + signToken(t, key, validClaims()),
			wantCode:   http.StatusOK,
		},
		{
			name:     "healthz exempt",
			path:     "/healthz",
			wantCode: http.StatusOK,
		},
		{
			name:     "metrics exempt",
			path:     "/metrics",
			wantCode: http.StatusOK,
		},
		{
			name:     "missing header",
			path:     "/v1/deliveries",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:       "not a bearer token",
			path:       "/v1/deliveries",
			authHeader: "Basic dXNlcjpwYXNz",
			wantCode:   http.StatusUnauthorized,
		},
		{
			name:       "garbage token",
			path:       "/v1/deliveries",
			authHeader: "Bearer not.a.jwt",
			wantCode:   http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusOK && tt.path == "/v1/deliveries" && gotSubject != "ops@example.com" {
				t.Errorf("context subject = %q, want ops@example.com", gotSubject)
			}
		})
	}
}
