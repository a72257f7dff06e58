package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backend selectors.
const (
	StorageBackendS3         = "s3"
	StorageBackendFilesystem = "filesystem"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	StorageBackend string
	StoragePath    string
	StorageBaseURL string

	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	GeminiAPIKey  string
	GeminiBaseURL string
	ImageModel    string
	VideoModel    string

	QueuePollInterval time.Duration
	QueueMaxAttempts  int
	QueueBackoffBase  time.Duration
	QueueBackoffCap   time.Duration
	QueueLease        time.Duration

	VideoPollInterval time.Duration
	VideoTimeout      time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		StorageBackend: getEnv("STORAGE_BACKEND", StorageBackendFilesystem),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),

		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3Bucket:    getEnv("S3_BUCKET", "clementine-media"),
		S3UseSSL:    getEnvBool("S3_USE_SSL", true),

		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		ImageModel:    getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		VideoModel:    getEnv("GEMINI_VIDEO_MODEL", "veo-3.0-generate-001"),

		QueuePollInterval: time.Second * time.Duration(getEnvInt("QUEUE_POLL_INTERVAL_SECONDS", 2)),
		QueueMaxAttempts:  getEnvInt("QUEUE_MAX_ATTEMPTS", 5),
		QueueBackoffBase:  time.Second * time.Duration(getEnvInt("QUEUE_BACKOFF_BASE_SECONDS", 10)),
		QueueBackoffCap:   time.Second * time.Duration(getEnvInt("QUEUE_BACKOFF_CAP_SECONDS", 300)),
		QueueLease:        time.Second * time.Duration(getEnvInt("QUEUE_LEASE_SECONDS", 600)),

		VideoPollInterval: time.Second * time.Duration(getEnvInt("VIDEO_POLL_INTERVAL_SECONDS", 5)),
		VideoTimeout:      time.Second * time.Duration(getEnvInt("VIDEO_TIMEOUT_SECONDS", 300)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		CORSAllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// A lease shorter than the video ceiling would let a healthy slow
	// delivery be reclaimed and run twice concurrently.
	if cfg.QueueLease <= cfg.VideoTimeout {
		return nil, fmt.Errorf("QUEUE_LEASE_SECONDS (%s) must exceed VIDEO_TIMEOUT_SECONDS (%s)", cfg.QueueLease, cfg.VideoTimeout)
	}

	if cfg.StorageBackend != StorageBackendS3 && cfg.StorageBackend != StorageBackendFilesystem {
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	if cfg.StorageBackend == StorageBackendS3 {
		if cfg.S3Endpoint == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
			return nil, fmt.Errorf("S3_ENDPOINT, S3_ACCESS_KEY and S3_SECRET_KEY are required for the s3 backend")
		}
	}

	return cfg, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
