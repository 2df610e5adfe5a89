package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Identity (tokens are issued elsewhere, verified here)
	JWTSecret string

	// Service role for batch endpoints (retention sweep)
	ServiceRoleKey string

	// AI Providers
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAITranscribeModel string
	OpenAIScoringModel    string

	Transcriber        string // openai | gcp
	GCPSpeechLanguage  string
	GCPCredentialsFile string

	AITimeout       time.Duration
	DeliveryTimeout time.Duration

	// Blob storage
	StorageDriver string // s3 | gcs
	AudioBucket   string
	S3Region      string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	GCSBucket     string
	GCSCredsFile  string
	SignedURLTTL  time.Duration

	// Retention
	RetentionWindow    time.Duration
	RetentionBatchSize int
	RetentionMaxRows   int
	RetentionInterval  time.Duration
	RedisAddr          string

	// Server
	Port          string
	CORSOrigins   string
	SeedScenarios bool
}

func Load() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "reptrainer"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		ServiceRoleKey: getEnv("SERVICE_ROLE_KEY", ""),

		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         strings.TrimRight(getEnv("OPENAI_BASE_URL", "https://api.openai.com"), "/"),
		OpenAITranscribeModel: getEnv("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		OpenAIScoringModel:    getEnv("OPENAI_SCORING_MODEL", "gpt-4o-mini"),

		Transcriber:        strings.ToLower(getEnv("TRANSCRIBER", "openai")),
		GCPSpeechLanguage:  getEnv("GCP_SPEECH_LANGUAGE", "en-US"),
		GCPCredentialsFile: getEnv("GCP_CREDENTIALS_FILE", ""),

		AITimeout:       parseDuration(getEnv("AI_TIMEOUT", "120s"), 120*time.Second),
		DeliveryTimeout: parseDuration(getEnv("DELIVERY_TIMEOUT", "60s"), 60*time.Second),

		StorageDriver: strings.ToLower(getEnv("STORAGE_DRIVER", "s3")),
		AudioBucket:   getEnv("AUDIO_BUCKET", "rep-audio"),
		S3Region:      getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:    getEnv("S3_ENDPOINT", ""),
		S3AccessKey:   getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:   getEnv("S3_SECRET_KEY", ""),
		GCSBucket:     getEnv("GCS_BUCKET", getEnv("AUDIO_BUCKET", "rep-audio")),
		GCSCredsFile:  getEnv("GCS_CREDENTIALS_FILE", getEnv("GCP_CREDENTIALS_FILE", "")),
		SignedURLTTL:  parseDuration(getEnv("SIGNED_URL_TTL", "60s"), 60*time.Second),

		RetentionWindow:    parseDuration(getEnv("RETENTION_WINDOW", "168h"), 7*24*time.Hour),
		RetentionBatchSize: parseInt(getEnv("RETENTION_BATCH_SIZE", "100"), 100),
		RetentionMaxRows:   parseInt(getEnv("RETENTION_MAX_ROWS", "500"), 500),
		RetentionInterval:  parseDuration(getEnv("RETENTION_INTERVAL", "0s"), 0),
		RedisAddr:          getEnv("REDIS_ADDR", ""),

		Port:          getEnv("PORT", "8080"),
		CORSOrigins:   getEnv("CORS_ORIGINS", "*"),
		SeedScenarios: getEnv("SEED_SCENARIOS", "true") == "true",
	}
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
