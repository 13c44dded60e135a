package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/parishops/mailqueue/internal/account"
	"github.com/parishops/mailqueue/internal/domain"
)

// TransportMode selects the delivery strategy once at startup.
type TransportMode string

const (
	TransportSMTP      TransportMode = "smtp"
	TransportSimulated TransportMode = "simulated"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL and EMAIL_ACCOUNTS
// are required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	DBConnLifetime time.Duration
	MigrationsDir  string

	// Sending accounts (static pool, loaded once)
	Accounts []account.Config

	// Transport
	TransportMode TransportMode
	SMTPHost      string
	SMTPPort      int
	FromName      string
	// TrackingBaseURL is the public base URL of this service, embedded in
	// outgoing mail for open tracking. Empty disables pixel injection.
	TrackingBaseURL string

	// Batch worker
	BatchSize   int
	Parallelism int
	SendTimeout time.Duration
	RunBudget   time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// Account eligibility windows
	WindowLength     time.Duration
	WindowCeiling    int
	DegradedCooldown time.Duration

	// Rate limiting: maximum submissions per second per category
	RateLimit int

	// Optional internal scheduler; 0 disables it (external trigger only)
	ProcessInterval time.Duration
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	accounts, err := loadAccounts(os.Getenv("EMAIL_ACCOUNTS"))
	if err != nil {
		return nil, err
	}

	mode := TransportMode(getEnv("TRANSPORT_MODE", string(TransportSMTP)))
	if mode != TransportSMTP && mode != TransportSimulated {
		return nil, fmt.Errorf("TRANSPORT_MODE must be %q or %q", TransportSMTP, TransportSimulated)
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL:    dbURL,
		DBMaxConns:     int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:     int32(getInt("DB_MIN_CONNS", 5)),
		DBConnLifetime: getDuration("DB_CONN_LIFETIME", 30*time.Minute),
		MigrationsDir:  getEnv("MIGRATIONS_DIR", "migrations"),

		Accounts: accounts,

		TransportMode:   mode,
		SMTPHost:        getEnv("SMTP_HOST", "smtp.hostinger.com"),
		SMTPPort:        getInt("SMTP_PORT", 587),
		FromName:        getEnv("FROM_NAME", ""),
		TrackingBaseURL: getEnv("TRACKING_BASE_URL", ""),

		BatchSize:   getInt("EMAIL_BATCH_SIZE", 20),
		Parallelism: getInt("SEND_PARALLELISM", 4),
		SendTimeout: getDuration("SEND_TIMEOUT", 30*time.Second),
		RunBudget:   getDuration("RUN_BUDGET", 4*time.Minute),
		BackoffBase: getDuration("BACKOFF_BASE", 15*time.Minute),
		BackoffCap:  getDuration("BACKOFF_CAP", 4*time.Hour),

		WindowLength:     getDuration("ACCOUNT_WINDOW", time.Hour),
		WindowCeiling:    getInt("ACCOUNT_WINDOW_CEILING", 80),
		DegradedCooldown: getDuration("ACCOUNT_COOLDOWN", 15*time.Minute),

		RateLimit: getInt("RATE_LIMIT_PER_CATEGORY", 10),

		ProcessInterval: getDuration("PROCESS_INTERVAL", 0),
	}, nil
}

// loadAccounts parses the EMAIL_ACCOUNTS JSON array:
//
//	[{"address":"info@example.org","password":"…","category":"info","priority":1}, …]
//
// Category "all" marks a general-purpose account.
func loadAccounts(raw string) ([]account.Config, error) {
	if raw == "" {
		return nil, fmt.Errorf("EMAIL_ACCOUNTS is required")
	}

	var accounts []account.Config
	if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
		return nil, fmt.Errorf("parse EMAIL_ACCOUNTS: %w", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("EMAIL_ACCOUNTS must list at least one account")
	}

	for i, a := range accounts {
		if a.Address == "" {
			return nil, fmt.Errorf("EMAIL_ACCOUNTS[%d]: address is required", i)
		}
		if !a.Category.IsValid() && a.Category != domain.CategoryAll {
			return nil, fmt.Errorf("EMAIL_ACCOUNTS[%d]: invalid category %q", i, a.Category)
		}
		if a.Priority < 1 {
			accounts[i].Priority = 1
		}
	}
	return accounts, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
