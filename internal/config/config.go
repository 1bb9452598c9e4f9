package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はAPIサーバーとワーカーの設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Firebase
	FirebaseProjectID string
	FirebaseCertsURL  string

	// Token
	JWTSecret string
	TokenTTL  time.Duration

	// Phone verification
	PhoneTestCode   string
	VerificationTTL time.Duration
	RedisURL        string

	// Object storage
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string
	S3PathStyle       bool
	PresignTTL        time.Duration
	ImageFetchTimeout time.Duration
	ImageMaxSize      int64

	// Messaging
	NATSURL string

	// Tracing
	OTLPEndpoint string
	ServiceName  string

	// Rate Limit
	RateLimitGeneral int
	RateLimitAuth    int

	// Feed
	FeedLimit int

	// Cleanup
	PassRetention   time.Duration
	CleanupInterval time.Duration

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.FirebaseProjectID = os.Getenv("FIREBASE_PROJECT_ID")
	if cfg.FirebaseProjectID == "" {
		missing = append(missing, "FIREBASE_PROJECT_ID")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.S3Bucket = os.Getenv("S3_BUCKET")
	if cfg.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.FirebaseCertsURL = getEnvString("FIREBASE_CERTS_URL",
		"https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com")
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 24*time.Hour)
	cfg.PhoneTestCode = getEnvString("PHONE_TEST_CODE", "123456")
	cfg.VerificationTTL = getEnvDuration("VERIFICATION_TTL", 10*time.Minute)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.S3Region = getEnvString("S3_REGION", "auto")
	cfg.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	cfg.S3AccessKey = getEnvString("S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvString("S3_SECRET_KEY", "")
	cfg.S3PathStyle = getEnvBool("S3_FORCE_PATH_STYLE", true)
	cfg.PresignTTL = getEnvDuration("PRESIGN_TTL", time.Hour)
	cfg.ImageFetchTimeout = getEnvDuration("IMAGE_FETCH_TIMEOUT", 10*time.Second)
	cfg.ImageMaxSize = getEnvInt64("IMAGE_MAX_SIZE", 5242880)
	cfg.NATSURL = getEnvString("NATS_URL", "")
	cfg.OTLPEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.ServiceName = getEnvString("OTEL_SERVICE_NAME", "kindred")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.FeedLimit = getEnvInt("FEED_LIMIT", 20)
	cfg.PassRetention = getEnvDuration("PASS_RETENTION", 30*24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:8081")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
