package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	RTC      RTCConfig
	Session  SessionConfig
	Safety   SafetyConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is; otherwise built from components
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// RTCConfig holds the audio transport credential settings (ZEGOCLOUD).
// AppID == 0 or an empty ServerSecret means the issuer is unconfigured;
// joins are then denied with a configuration error instead of crashing.
type RTCConfig struct {
	AppID             uint32
	ServerSecret      string // must be 32 characters when set
	MaxTokenTTL       time.Duration
	IdempotencyWindow time.Duration
}

// SessionConfig holds session lifecycle tunables. Grace windows and capacity
// bounds are deployment-tuned; these are the documented defaults.
type SessionConfig struct {
	DefaultTTL      time.Duration // expiresAt = createdAt + DefaultTTL unless requested
	MaxTTL          time.Duration
	MinParticipants int
	MaxParticipants int
	DefaultCapacity int
	ReconnectGrace  time.Duration // window to reclaim role/mute state after a drop
	IdleEndGrace    time.Duration // hostless window before auto-end
	RetentionGrace  time.Duration // ended sessions stay readable this long
	SweepInterval   time.Duration
}

// SafetyConfig holds the optional content-safety collaborator settings.
// An empty BaseURL disables screening; failures always fail open.
type SafetyConfig struct {
	BaseURL string
	Timeout time.Duration
}

// WorkerConfig holds background worker settings. An empty NotifyWebhookURL
// means critical-alert notifications are logged but not forwarded.
type WorkerConfig struct {
	NotifyWebhookURL string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))
	rtcAppID, _ := strconv.ParseUint(getEnv("RTC_APP_ID", "0"), 10, 32)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/sanctuary?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "sanctuary"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		RTC: RTCConfig{
			AppID:             uint32(rtcAppID),
			ServerSecret:      getEnv("RTC_SERVER_SECRET", ""),
			MaxTokenTTL:       getEnvDuration("RTC_MAX_TOKEN_TTL", time.Hour),
			IdempotencyWindow: getEnvDuration("RTC_IDEMPOTENCY_WINDOW", 30*time.Second),
		},
		Session: SessionConfig{
			DefaultTTL:      getEnvDuration("SESSION_DEFAULT_TTL", 2*time.Hour),
			MaxTTL:          getEnvDuration("SESSION_MAX_TTL", 6*time.Hour),
			MinParticipants: getEnvInt("SESSION_MIN_PARTICIPANTS", 2),
			MaxParticipants: getEnvInt("SESSION_MAX_PARTICIPANTS", 50),
			DefaultCapacity: getEnvInt("SESSION_DEFAULT_CAPACITY", 12),
			ReconnectGrace:  getEnvDuration("SESSION_RECONNECT_GRACE", 90*time.Second),
			IdleEndGrace:    getEnvDuration("SESSION_IDLE_END_GRACE", 2*time.Minute),
			RetentionGrace:  getEnvDuration("SESSION_RETENTION_GRACE", 10*time.Minute),
			SweepInterval:   getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
		},
		Safety: SafetyConfig{
			BaseURL: getEnv("SAFETY_BASE_URL", ""),
			Timeout: getEnvDuration("SAFETY_TIMEOUT", 2*time.Second),
		},
		Worker: WorkerConfig{
			NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
