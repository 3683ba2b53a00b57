package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	AppEnv string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// State store for rate limit and lockout counters: memory or redis
	RateLimitStore string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Login Rate Limiting
	LoginRateLimitWindowMS    int
	LoginRateLimitMaxAttempts int

	// Register Rate Limiting
	RegisterRateLimitWindowMS    int
	RegisterRateLimitMaxAttempts int

	// Global token bucket per client
	GlobalRateLimitPerSecond float64
	GlobalRateLimitBurst     int

	// Account Lockout
	LockoutMaxAttempts          int
	LockoutFailureWindowMinutes int
	LockoutDurationMinutes      int

	StateSweepIntervalSeconds int

	// JWT
	JWTAccessSecret        string
	JWTRefreshSecret       string
	JWTAccessExpireMinutes int
	JWTRefreshExpireDays   int

	BcryptCost int

	// Password Policy
	PasswordMinLength      int
	PasswordRequireUpper   bool
	PasswordRequireLower   bool
	PasswordRequireNumber  bool
	PasswordRequireSpecial bool
	PasswordHistoryDepth   int

	// Audit
	AuditAsync     bool
	AuditQueueSize int

	// Cookies
	CookieSecure   bool
	CookieDomain   string
	CookieSameSite string

	// Sentry
	SentryDSN string

	// MinIO Configuration
	MinIOServerURL     string
	MinIORootUser      string
	MinIORootPassword  string
	MinIOUseSSL        bool
	AuditArchiveBucket string

	// Super Admin
	SuperAdminEmail    string
	SuperAdminPassword string

	// URLs
	AuthServiceURL string
	FrontendURL    string
}

var cfg *Config

// LoadConfig loads configuration from environment variables
func LoadConfig() {
	envPaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			log.Printf("✅ Environment loaded from: %s", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	cfg = FromEnv()
	log.Println("✅ Configuration loaded successfully")
}

// FromEnv reads the configuration from the process environment only.
func FromEnv() *Config {
	return &Config{
		AppEnv: getEnv("APP_ENV", "development"),

		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "forgecrm"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RateLimitStore: strings.ToLower(getEnv("RATE_LIMIT_STORE", "memory")),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Rate Limiting
		LoginRateLimitWindowMS:       getEnvAsInt("LOGIN_RATE_LIMIT_WINDOW_MS", 900000),
		LoginRateLimitMaxAttempts:    getEnvAsInt("LOGIN_RATE_LIMIT_MAX_ATTEMPTS", 10),
		RegisterRateLimitWindowMS:    getEnvAsInt("REGISTER_RATE_LIMIT_WINDOW_MS", 3600000),
		RegisterRateLimitMaxAttempts: getEnvAsInt("REGISTER_RATE_LIMIT_MAX_ATTEMPTS", 5),
		GlobalRateLimitPerSecond:     getEnvAsFloat("GLOBAL_RATE_LIMIT_PER_SECOND", 20),
		GlobalRateLimitBurst:         getEnvAsInt("GLOBAL_RATE_LIMIT_BURST", 40),

		// Lockout
		LockoutMaxAttempts:          getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 5),
		LockoutFailureWindowMinutes: getEnvAsInt("LOCKOUT_FAILURE_WINDOW_MINUTES", 15),
		LockoutDurationMinutes:      getEnvAsInt("LOCKOUT_DURATION_MINUTES", 30),
		StateSweepIntervalSeconds:   getEnvAsInt("STATE_SWEEP_INTERVAL_SECONDS", 60),

		// JWT
		JWTAccessSecret:        getEnv("JWT_ACCESS_SECRET", "dev-access-secret-change-this"),
		JWTRefreshSecret:       getEnv("JWT_REFRESH_SECRET", "dev-refresh-secret-change-this"),
		JWTAccessExpireMinutes: getEnvAsInt("JWT_ACCESS_EXPIRE_MINUTES", 15),
		JWTRefreshExpireDays:   getEnvAsInt("JWT_REFRESH_EXPIRE_DAYS", 7),

		BcryptCost: getEnvAsInt("BCRYPT_COST", 12),

		// Password Policy
		PasswordMinLength:      getEnvAsInt("PASSWORD_MIN_LENGTH", 8),
		PasswordRequireUpper:   getEnvAsBool("PASSWORD_REQUIRE_UPPER", true),
		PasswordRequireLower:   getEnvAsBool("PASSWORD_REQUIRE_LOWER", true),
		PasswordRequireNumber:  getEnvAsBool("PASSWORD_REQUIRE_NUMBER", true),
		PasswordRequireSpecial: getEnvAsBool("PASSWORD_REQUIRE_SPECIAL", true),
		PasswordHistoryDepth:   getEnvAsInt("PASSWORD_HISTORY_DEPTH", 5),

		// Audit
		AuditAsync:     getEnvAsBool("AUDIT_ASYNC", false),
		AuditQueueSize: getEnvAsInt("AUDIT_QUEUE_SIZE", 1024),

		// Cookies
		CookieSecure:   getEnvAsBool("COOKIE_SECURE", true),
		CookieDomain:   getEnv("COOKIE_DOMAIN", ""),
		CookieSameSite: strings.ToLower(getEnv("COOKIE_SAMESITE", "strict")),

		SentryDSN: getEnv("SENTRY_DSN", ""),

		// MinIO Configuration
		MinIOServerURL:     getEnv("MINIO_SERVER_URL", "http://localhost:9000"),
		MinIORootUser:      getEnv("MINIO_ROOT_USER", "minioadmin"),
		MinIORootPassword:  getEnv("MINIO_ROOT_PASSWORD", "minioadmin"),
		MinIOUseSSL:        getEnvAsBool("MINIO_USE_SSL", false),
		AuditArchiveBucket: getEnv("AUDIT_ARCHIVE_BUCKET", "forgecrm-audit-archive"),

		// Super Admin
		SuperAdminEmail:    getEnv("SUPER_ADMIN_EMAIL", "admin@forgecrm.io"),
		SuperAdminPassword: getEnv("SUPER_ADMIN_PASSWORD", "ChangeMe!2025"),

		AuthServiceURL: getEnv("AUTH_SERVICE_URL", "http://localhost:8001"),
		FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:3000"),
	}
}

// GetConfig returns the current configuration
func GetConfig() *Config {
	if cfg == nil {
		LoadConfig()
	}
	return cfg
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.JWTAccessSecret == "" || c.JWTRefreshSecret == "" {
		problems = append(problems, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		problems = append(problems, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.IsProduction() && (strings.HasPrefix(c.JWTAccessSecret, "dev-") || strings.HasPrefix(c.JWTRefreshSecret, "dev-")) {
		problems = append(problems, "development JWT secrets are not allowed in production")
	}

	positive := []struct {
		name  string
		value int
	}{
		{"LOGIN_RATE_LIMIT_WINDOW_MS", c.LoginRateLimitWindowMS},
		{"LOGIN_RATE_LIMIT_MAX_ATTEMPTS", c.LoginRateLimitMaxAttempts},
		{"REGISTER_RATE_LIMIT_WINDOW_MS", c.RegisterRateLimitWindowMS},
		{"REGISTER_RATE_LIMIT_MAX_ATTEMPTS", c.RegisterRateLimitMaxAttempts},
		{"GLOBAL_RATE_LIMIT_BURST", c.GlobalRateLimitBurst},
		{"LOCKOUT_MAX_ATTEMPTS", c.LockoutMaxAttempts},
		{"LOCKOUT_FAILURE_WINDOW_MINUTES", c.LockoutFailureWindowMinutes},
		{"LOCKOUT_DURATION_MINUTES", c.LockoutDurationMinutes},
		{"STATE_SWEEP_INTERVAL_SECONDS", c.StateSweepIntervalSeconds},
		{"JWT_ACCESS_EXPIRE_MINUTES", c.JWTAccessExpireMinutes},
		{"JWT_REFRESH_EXPIRE_DAYS", c.JWTRefreshExpireDays},
		{"PASSWORD_MIN_LENGTH", c.PasswordMinLength},
	}
	for _, setting := range positive {
		if setting.value <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive", setting.name))
		}
	}
	if c.GlobalRateLimitPerSecond <= 0 {
		problems = append(problems, "GLOBAL_RATE_LIMIT_PER_SECOND must be positive")
	}
	if c.PasswordHistoryDepth < 0 {
		problems = append(problems, "PASSWORD_HISTORY_DEPTH must not be negative")
	}

	switch c.RateLimitStore {
	case "memory", "redis":
	default:
		problems = append(problems, fmt.Sprintf("RATE_LIMIT_STORE must be memory or redis, got %q", c.RateLimitStore))
	}

	switch c.CookieSameSite {
	case "strict", "lax", "none":
	default:
		problems = append(problems, fmt.Sprintf("COOKIE_SAMESITE must be strict, lax or none, got %q", c.CookieSameSite))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// LoginRateLimitWindow returns the login limiter window.
func (c *Config) LoginRateLimitWindow() time.Duration {
	return time.Duration(c.LoginRateLimitWindowMS) * time.Millisecond
}

// RegisterRateLimitWindow returns the registration limiter window.
func (c *Config) RegisterRateLimitWindow() time.Duration {
	return time.Duration(c.RegisterRateLimitWindowMS) * time.Millisecond
}

// LockoutFailureWindow returns how long failures keep counting.
func (c *Config) LockoutFailureWindow() time.Duration {
	return time.Duration(c.LockoutFailureWindowMinutes) * time.Minute
}

// LockoutDuration returns the lock cooldown.
func (c *Config) LockoutDuration() time.Duration {
	return time.Duration(c.LockoutDurationMinutes) * time.Minute
}

// StateSweepInterval returns the interval of the in-memory store sweep.
func (c *Config) StateSweepInterval() time.Duration {
	return time.Duration(c.StateSweepIntervalSeconds) * time.Second
}

// JWTAccessExpire returns the access token lifetime.
func (c *Config) JWTAccessExpire() time.Duration {
	return time.Duration(c.JWTAccessExpireMinutes) * time.Minute
}

// JWTRefreshExpire returns the refresh token lifetime.
func (c *Config) JWTRefreshExpire() time.Duration {
	return time.Duration(c.JWTRefreshExpireDays) * 24 * time.Hour
}

// ServicePort extracts the port from AuthServiceURL.
func (c *Config) ServicePort() string {
	parts := strings.Split(c.AuthServiceURL, ":")
	if len(parts) < 3 {
		return "8001"
	}
	return strings.Trim(parts[2], "/")
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer with default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Printf("Warning: Could not convert %s value '%s' to int, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
