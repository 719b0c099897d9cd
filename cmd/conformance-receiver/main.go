package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/OneSila/OneSilaHeadless-sub006/internal/config"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/webhooks"
)

// Conformance endpoint for validating a subscriber implementation
// end-to-end. The requested behavior is selected with query parameters:
//
//	mode       success | fail_signature | client_error | server_error |
//	           rate_limit | timeout | slow_ok | redirect
//	delay_ms            sleep before responding
//	retry_after         Retry-After seconds on rate_limit (default 5)
//	validate_signature  verify the signature header before anything else
//	secret_override     secret to verify with instead of RECEIVER_SECRET
//	echo_headers        include received headers in the response body
//	echo_body           include the received body in the response body

var cfg config.Config

func main() {
	_ = godotenv.Load()
	cfg = config.FromEnv()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", handleHook)

	srv := &http.Server{
		Addr:         cfg.Receiver.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Receiver.ReadTimeout,
		WriteTimeout: cfg.Receiver.WriteTimeout,
		IdleTimeout:  cfg.Receiver.IdleTimeout,
	}
	log.Printf("conformance-receiver listening on %s", srv.Addr)
	log.Fatal(srv.ListenAndServe())
}

func handleHook(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	q := r.URL.Query()
	mode := q.Get("mode")
	if mode == "" {
		mode = "success"
	}

	if boolParam(q.Get("validate_signature")) {
		secret := cfg.Receiver.Secret
		if s := q.Get("secret_override"); s != "" {
			secret = s
		}
		window := time.Duration(cfg.Receiver.LeewaySeconds) * time.Second
		if err := webhooks.VerifySignature(secret, r.Header.Get(webhooks.SignatureHeader), body, time.Now().UTC(), window); err != nil {
			log.Printf("signature verification failed: %v", err)
			http.Error(w, "invalid signature: "+err.Error(), http.StatusUnauthorized)
			return
		}
	}

	if ms, err := strconv.Atoi(q.Get("delay_ms")); err == nil && ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}

	log.Printf("mode=%s path=%s body=%s", mode, r.URL.Path, truncate(string(body), 160))

	switch mode {
	case "success":
		respond(w, r, http.StatusOK, body)
	case "fail_signature":
		http.Error(w, "signature rejected", http.StatusUnauthorized)
	case "client_error":
		http.Error(w, "bad request", http.StatusBadRequest)
	case "server_error":
		http.Error(w, "temporary failure", http.StatusInternalServerError)
	case "rate_limit":
		retryAfter := q.Get("retry_after")
		if retryAfter == "" {
			retryAfter = "5"
		}
		w.Header().Set("Retry-After", retryAfter)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	case "timeout":
		// hold the connection past any sane client timeout
		time.Sleep(cfg.Receiver.WriteTimeout + 30*time.Second)
		respond(w, r, http.StatusOK, body)
	case "slow_ok":
		// delay_ms already applied above; respond late but successfully
		respond(w, r, http.StatusOK, body)
	case "redirect":
		w.Header().Set("Location", "/hook?mode=success")
		w.WriteHeader(http.StatusFound)
	default:
		http.Error(w, fmt.Sprintf("unknown mode %q", mode), http.StatusBadRequest)
	}
}

func respond(w http.ResponseWriter, r *http.Request, status int, body []byte) {
	q := r.URL.Query()
	out := map[string]any{"ok": status >= 200 && status < 300}
	if boolParam(q.Get("echo_headers")) {
		out["headers"] = r.Header
	}
	if boolParam(q.Get("echo_body")) {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err == nil {
			out["body"] = parsed
		} else {
			out["body"] = string(body)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func boolParam(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
