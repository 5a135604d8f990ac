package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Notification delivery modes.
const (
	NotifyModeSync  = "sync"
	NotifyModeAsync = "async"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret       string
	JwtTTL          time.Duration
	CaptchaTokenTTL time.Duration

	// Server
	ApiPort        string
	ServiceApiPort string
	AllowedOrigin  string

	// Cloudflare
	CloudflareTurnstileSecretKey string
	CloudflareSiteVerifyURL      string

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string
	AdminEmail      string
	ContactEmail    string
	NotifyMode      string
	SiteURL         string

	// Media
	UploadDir         string
	MaxListingFiles   int
	MaxLargeFileMB    int
	MaxSmallFileMB    int
	ImageMaxDimension int

	// AWS S3 (optional mirror of stored media)
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string

	// App Defaults
	AppName             string
	MinPasswordLength   int
	BcryptCost          int
	PasswordResetTTL    time.Duration
	DefaultListingLimit int
	DefaultInquiryLimit int
	DefaultReelLimit    int
	DefaultBlogLimit    int
	MaxPageLimit        int

	// Rate Limiting Defaults
	RateLimitSoftBucketSize   int
	RateLimitSoftRefillRate   int // tokens per second
	RateLimitHardBucketSize   int
	RateLimitHardRefillRate   int // tokens per second
	RateLimitIntakeBucketSize int
	RateLimitIntakeRefillRate int // tokens per minute
}

// ContactInbox returns the address that receives general form notifications.
func (c *Config) ContactInbox() string {
	if c.ContactEmail != "" {
		return c.ContactEmail
	}
	return c.AdminEmail
}

// S3Enabled reports whether stored media should be mirrored to S3.
func (c *Config) S3Enabled() bool {
	return c.AwsS3Bucket != "" && c.AwsRegion != ""
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode: runMode, // Set from flag
	}

	var err error

	// Helper function to get env var or default
	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	// Helper function to get required env var
	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists || value == "" {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	getInt := func(key, defaultValue string) (int, error) {
		v, err := strconv.Atoi(getEnv(key, defaultValue))
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return v, nil
	}

	// Load basic string values
	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "m2")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.ApiPort = getEnv("API_PORT", getEnv("PORT", "5000"))
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.AllowedOrigin = getEnv("ALLOWED_ORIGIN", "*")
	cfg.CloudflareTurnstileSecretKey = getEnv("CLOUDFLARE_TURNSTILE_SECRET_KEY", "")
	cfg.CloudflareSiteVerifyURL = getEnv("CLOUDFLARE_SITEVERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify")
	cfg.SmtpHost = getEnv("EMAIL_HOST", getEnv("SMTP_HOST", ""))
	cfg.SmtpUsername = getEnv("EMAIL_USER", getEnv("SMTP_USERNAME", ""))
	cfg.SmtpPassword = getEnv("EMAIL_PASS", getEnv("SMTP_PASSWORD", ""))
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", cfg.SmtpUsername)
	if cfg.SmtpFromAddress == "" {
		cfg.SmtpFromAddress = "noreply@m2.example.com"
	}
	cfg.AdminEmail = getEnv("ADMIN_EMAIL", "")
	cfg.ContactEmail = getEnv("CONTACT_EMAIL", "")
	cfg.SiteURL = strings.TrimRight(getEnv("SITE_URL", "http://localhost:3000"), "/")
	cfg.NotifyMode = strings.ToLower(getEnv("NOTIFY_MODE", NotifyModeSync))
	if cfg.NotifyMode != NotifyModeSync && cfg.NotifyMode != NotifyModeAsync {
		return nil, fmt.Errorf("invalid NOTIFY_MODE: %q (expected %q or %q)", cfg.NotifyMode, NotifyModeSync, NotifyModeAsync)
	}
	cfg.UploadDir = getEnv("UPLOAD_DIR", "uploads")
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.AppName = getEnv("APP_NAME", "M2 Nieruchomości")

	// Load numeric and time duration values with defaults and parsing
	if cfg.RedisDB, err = getInt("REDIS_DB", "0"); err != nil {
		return nil, err
	}

	jwtTTLSeconds, err := strconv.ParseInt(getEnv("JWT_TTL_SECONDS", "2592000"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL_SECONDS: %w", err)
	}
	cfg.JwtTTL = time.Duration(jwtTTLSeconds) * time.Second

	captchaTTLSeconds, err := strconv.ParseInt(getEnv("CAPTCHA_TOKEN_TTL", "1200"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTCHA_TOKEN_TTL: %w", err)
	}
	cfg.CaptchaTokenTTL = time.Duration(captchaTTLSeconds) * time.Second

	resetTTLMinutes, err := strconv.ParseInt(getEnv("PASSWORD_RESET_TTL_MINUTES", "30"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PASSWORD_RESET_TTL_MINUTES: %w", err)
	}
	cfg.PasswordResetTTL = time.Duration(resetTTLMinutes) * time.Minute

	if cfg.SmtpPort, err = getInt("EMAIL_PORT", getEnv("SMTP_PORT", "587")); err != nil {
		return nil, err
	}
	if cfg.MaxListingFiles, err = getInt("MAX_LISTING_FILES", "20"); err != nil {
		return nil, err
	}
	if cfg.MaxLargeFileMB, err = getInt("MAX_LARGE_FILE_MB", "50"); err != nil {
		return nil, err
	}
	if cfg.MaxSmallFileMB, err = getInt("MAX_SMALL_FILE_MB", "5"); err != nil {
		return nil, err
	}
	if cfg.ImageMaxDimension, err = getInt("IMAGE_MAX_DIMENSION", "2560"); err != nil {
		return nil, err
	}
	if cfg.MinPasswordLength, err = getInt("MIN_PASSWORD_LENGTH", "6"); err != nil {
		return nil, err
	}
	if cfg.BcryptCost, err = getInt("BCRYPT_COST", "12"); err != nil {
		return nil, err
	}
	if cfg.DefaultListingLimit, err = getInt("DEFAULT_LISTING_LIMIT", "9"); err != nil {
		return nil, err
	}
	if cfg.DefaultInquiryLimit, err = getInt("DEFAULT_INQUIRY_LIMIT", "10"); err != nil {
		return nil, err
	}
	if cfg.DefaultReelLimit, err = getInt("DEFAULT_REEL_LIMIT", "12"); err != nil {
		return nil, err
	}
	if cfg.DefaultBlogLimit, err = getInt("DEFAULT_BLOG_LIMIT", "9"); err != nil {
		return nil, err
	}
	if cfg.MaxPageLimit, err = getInt("MAX_PAGE_LIMIT", "100"); err != nil {
		return nil, err
	}

	// Rate Limiting
	if cfg.RateLimitSoftBucketSize, err = getInt("RATE_LIMIT_SOFT_BUCKET_SIZE", "20"); err != nil {
		return nil, err
	}
	if cfg.RateLimitSoftRefillRate, err = getInt("RATE_LIMIT_SOFT_REFILL_RATE", "10"); err != nil {
		return nil, err
	}
	if cfg.RateLimitHardBucketSize, err = getInt("RATE_LIMIT_HARD_BUCKET_SIZE", "60"); err != nil {
		return nil, err
	}
	if cfg.RateLimitHardRefillRate, err = getInt("RATE_LIMIT_HARD_REFILL_RATE", "30"); err != nil {
		return nil, err
	}
	if cfg.RateLimitIntakeBucketSize, err = getInt("RATE_LIMIT_INTAKE_BUCKET_SIZE", "3"); err != nil {
		return nil, err
	}
	if cfg.RateLimitIntakeRefillRate, err = getInt("RATE_LIMIT_INTAKE_REFILL_PER_MINUTE", "2"); err != nil {
		return nil, err
	}

	return cfg, nil
}
