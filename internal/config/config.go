package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	LookupHTTPAddr string // e.g. http://nsqlookupd:4161
	DispatchTopic  string // NSQ topic carrying claimed task-queue entries
	WorkerChannel  string // NSQ channel name for executor workers
}

type Scheduler struct {
	SweepInterval   time.Duration // how often pending entries are swept
	SweepBatchSize  int           // max entries considered per sweep
	BudgetWindow    time.Duration // window over which remote-request budgets are summed
	DefaultBudget   int           // budget for integrations without an explicit one
	ProcessedTTL    time.Duration // processed task-queue entries older than this are deleted
	CleanupInterval time.Duration
	PruneInterval   time.Duration // retention pruner cadence
	HTTPPort        string        // scheduler admin/metrics port
}

type Delivery struct {
	MaxAttempts       int             // maximum send attempts per delivery
	BackoffSchedule   []time.Duration // retry backoff durations for 5xx/timeout
	JitterPercent     float64         // backoff jitter percentage (0.0-1.0)
	Timeout           time.Duration   // outbound HTTP timeout
	DefaultRetryAfter time.Duration   // used when a 429 carries no Retry-After
	Priority          int             // task-queue priority for webhook sends
}

type Admin struct {
	JWTPublicKeyPEM string // RSA public key for admin API bearer tokens
	JWTIssuer       string
	JWTAudience     string
}

type Receiver struct {
	Secret        string        // shared secret for signature verification
	LeewaySeconds int           // allowed signature timestamp skew in seconds
	Port          string        // server listen port
	ReadTimeout   time.Duration // HTTP read timeout
	WriteTimeout  time.Duration // HTTP write timeout
	IdleTimeout   time.Duration // HTTP idle timeout
}

type Config struct {
	AppName   string
	HTTPPort  string // :8080
	DB        DB
	NSQ       NSQ
	Scheduler Scheduler
	Delivery  Delivery
	Admin     Admin
	Receiver  Receiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func defaultBackoffSchedule() []time.Duration {
	return []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second, 1 * time.Minute, 4 * time.Minute, 10 * time.Minute}
}

func parseBackoffSchedule(schedule string) []time.Duration {
	if schedule == "" {
		return defaultBackoffSchedule()
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			durations = append(durations, d)
		}
	}

	if len(durations) == 0 {
		// Fallback to default if parsing failed
		return defaultBackoffSchedule()
	}

	return durations
}

func FromEnv() Config {
	return Config{
		AppName:  getenv("APP_NAME", "onesila-hooks"),
		HTTPPort: getenv("HTTP_PORT", ":8080"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "onesila"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr: getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			DispatchTopic:  getenv("NSQ_DISPATCH_TOPIC", "task-dispatch"),
			WorkerChannel:  getenv("NSQ_WORKER_CHANNEL", "executors"),
		},
		Scheduler: Scheduler{
			SweepInterval:   getenvDuration("SWEEP_INTERVAL", 2*time.Second),
			SweepBatchSize:  getenvInt("SWEEP_BATCH_SIZE", 200),
			BudgetWindow:    getenvDuration("BUDGET_WINDOW", time.Minute),
			DefaultBudget:   getenvInt("DEFAULT_BUDGET", 60),
			ProcessedTTL:    getenvDuration("PROCESSED_TTL", 72*time.Hour),
			CleanupInterval: getenvDuration("CLEANUP_INTERVAL", time.Hour),
			PruneInterval:   getenvDuration("PRUNE_INTERVAL", 24*time.Hour),
			HTTPPort:        ":" + getenv("SCHEDULER_HTTP_PORT", "8082"),
		},
		Delivery: Delivery{
			MaxAttempts:       getenvInt("MAX_ATTEMPTS", 6),
			BackoffSchedule:   parseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			JitterPercent:     getenvFloat("BACKOFF_JITTER_PCT", 0.25),
			Timeout:           getenvDuration("DELIVERY_TIMEOUT", 15*time.Second),
			DefaultRetryAfter: getenvDuration("DEFAULT_RETRY_AFTER", 30*time.Second),
			Priority:          getenvInt("DELIVERY_PRIORITY", 10),
		},
		Admin: Admin{
			JWTPublicKeyPEM: getenv("ADMIN_JWT_PUBLIC_KEY", ""),
			JWTIssuer:       getenv("ADMIN_JWT_ISSUER", "onesila"),
			JWTAudience:     getenv("ADMIN_JWT_AUDIENCE", "onesila-admin"),
		},
		Receiver: Receiver{
			Secret:        getenv("RECEIVER_SECRET", ""),
			LeewaySeconds: getenvInt("RECEIVER_LEEWAY_SECONDS", 300),
			Port:          getenv("RECEIVER_PORT", ":8081"),
			ReadTimeout:   getenvDuration("RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:  getenvDuration("RECEIVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:   getenvDuration("RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
