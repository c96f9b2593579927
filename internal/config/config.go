package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Monitoring defaults; runtime values live in the settings store.
	MonitorMode       string
	MonitorEnabled    bool
	MemoryWindow      int
	IncidentCap       int
	StorageBudget     int64
	WarningThreshold  int
	CriticalThreshold int

	// Inference engine
	InferenceProvider string
	InferenceTimeout  time.Duration
	BedrockModelID    string
	GeminiAPIKey      string
	GeminiModelID     string
	FallbackProvider  string

	// Persistent KV substrate
	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	RedisKey      string
	DynamoDBTable string
	DatabaseURL   string
	ArchiveBucket string

	// Guardian notifications
	EmailProvider  string
	SendGridAPIKey string
	SESAccessKeyID string
	SESSecretKey   string
	EmailFrom      string
	EmailFromName  string
	SMSProvider    string
	SMSAPIKey      string
	SMSAPISecret   string
	SMSFrom        string
	SMSEndpoint    string
	ParentEmail    string
	ParentPhone    string

	// Intake queue
	IntakeQueue    string
	IntakeQueueURL string
	IntakeWorkers  int

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		MonitorMode:       strings.ToLower(strings.TrimSpace(getEnv("MONITOR_MODE", "active"))),
		MonitorEnabled:    getEnvAsBool("MONITOR_ENABLED", true),
		MemoryWindow:      getEnvAsInt("MEMORY_WINDOW", 20),
		IncidentCap:       getEnvAsInt("INCIDENT_CAP", 100),
		StorageBudget:     getEnvAsInt64("STORAGE_BUDGET_BYTES", 10*1024*1024),
		WarningThreshold:  getEnvAsInt("WARNING_THRESHOLD", 7),
		CriticalThreshold: getEnvAsInt("CRITICAL_THRESHOLD", 9),

		InferenceProvider: strings.ToLower(strings.TrimSpace(getEnv("INFERENCE_PROVIDER", "none"))),
		InferenceTimeout:  getEnvAsDuration("INFERENCE_TIMEOUT", 30*time.Second),
		BedrockModelID:    getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:     getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		FallbackProvider:  strings.ToLower(strings.TrimSpace(getEnv("INFERENCE_FALLBACK_PROVIDER", ""))),

		StoreBackend:  strings.ToLower(strings.TrimSpace(getEnv("STORE_BACKEND", "memory"))),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		RedisKey:      getEnv("REDIS_KEY", "safeguard:store"),
		DynamoDBTable: getEnv("DYNAMODB_TABLE", "safeguard_store"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		ArchiveBucket: getEnv("ARCHIVE_BUCKET", ""),

		EmailProvider:  strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "sendgrid"))),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		SESAccessKeyID: getEnv("SES_ACCESS_KEY_ID", ""),
		SESSecretKey:   getEnv("SES_SECRET_ACCESS_KEY", ""),
		EmailFrom:      getEnv("EMAIL_FROM", "alerts@safeguard.local"),
		EmailFromName:  getEnv("EMAIL_FROM_NAME", "SafeGuard Kids"),
		SMSProvider:    strings.ToLower(strings.TrimSpace(getEnv("SMS_PROVIDER", "vonage"))),
		SMSAPIKey:      getEnv("SMS_API_KEY", ""),
		SMSAPISecret:   getEnv("SMS_API_SECRET", ""),
		SMSFrom:        getEnv("SMS_FROM", ""),
		SMSEndpoint:    getEnv("SMS_ENDPOINT", ""),
		ParentEmail:    getEnv("PARENT_EMAIL", ""),
		ParentPhone:    getEnv("PARENT_PHONE", ""),

		IntakeQueue:    strings.ToLower(strings.TrimSpace(getEnv("INTAKE_QUEUE", "memory"))),
		IntakeQueueURL: getEnv("INTAKE_QUEUE_URL", ""),
		IntakeWorkers:  getEnvAsInt("INTAKE_WORKERS", 2),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// NeedsAWS reports whether any configured backend talks to AWS.
func (c *Config) NeedsAWS() bool {
	if c == nil {
		return false
	}
	return c.InferenceProvider == "bedrock" ||
		c.FallbackProvider == "bedrock" ||
		c.StoreBackend == "dynamodb" ||
		c.ArchiveBucket != "" ||
		c.EmailProvider == "ses" ||
		c.IntakeQueue == "sqs"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
