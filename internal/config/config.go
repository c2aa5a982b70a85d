// Package config loads the engine's settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/leadqual/internal/apperrors"
)

// Supported STATE_STORE values.
const (
	StateStorePostgres = "postgres"
	StateStoreDynamo   = "dynamodb"
	StateStoreMemory   = "memory"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// State store and cache
	StateStore              string
	DatabaseURL             string
	ConversationStatesTable string
	StateCacheSize          int
	StateCacheTTL           time.Duration
	RetentionDays           int
	ReaperInterval          time.Duration
	ActiveWindow            time.Duration

	// Inbound queue and workers
	UseMemoryQueue  bool
	InboundQueueURL string
	WorkerCount     int

	// Redis (thread lock and transcript)
	RedisAddr       string
	RedisPassword   string
	RedisTLS        bool
	TranscriptTurns int

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Language generation
	BedrockModelID     string
	GeminiAPIKey       string
	GeminiModelID      string
	GenerationTimeout  time.Duration
	GenerationAttempts int
	PipelineTimeout    time.Duration

	// CRM
	CRMAPIKey          string
	CRMBaseURL         string
	CRMTimeout         time.Duration
	WebhookVerifyToken string
	AdminJWTSecret     string

	// Lead ads
	MetaAppSecret   string
	MetaVerifyToken string

	// Archive and alerts
	ArchiveBucket     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SalesAlertEmail   string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StateStore:              strings.ToLower(strings.TrimSpace(getEnv("STATE_STORE", StateStoreMemory))),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		ConversationStatesTable: getEnv("CONVERSATION_STATES_TABLE", "conversation_states"),
		StateCacheSize:          getEnvAsInt("STATE_CACHE_SIZE", 100),
		StateCacheTTL:           getEnvAsDuration("STATE_CACHE_TTL", time.Hour),
		RetentionDays:           getEnvAsInt("RETENTION_DAYS", 30),
		ReaperInterval:          getEnvAsDuration("REAPER_INTERVAL", 24*time.Hour),
		ActiveWindow:            getEnvAsDuration("ACTIVE_WINDOW", 7*24*time.Hour),

		UseMemoryQueue:  getEnvAsBool("USE_MEMORY_QUEUE", true),
		InboundQueueURL: getEnv("INBOUND_QUEUE_URL", ""),
		WorkerCount:     getEnvAsInt("WORKER_COUNT", 4),

		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisTLS:        getEnvAsBool("REDIS_TLS", false),
		TranscriptTurns: getEnvAsInt("TRANSCRIPT_TURNS", 20),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		BedrockModelID:     getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:      getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		GenerationTimeout:  getEnvAsDuration("GENERATION_TIMEOUT", 30*time.Second),
		GenerationAttempts: getEnvAsInt("GENERATION_ATTEMPTS", 2),
		PipelineTimeout:    getEnvAsDuration("PIPELINE_TIMEOUT", 45*time.Second),

		CRMAPIKey:          getEnv("CRM_API_KEY", ""),
		CRMBaseURL:         getEnv("CRM_BASE_URL", "https://services.leadconnectorhq.com"),
		CRMTimeout:         getEnvAsDuration("CRM_TIMEOUT", 15*time.Second),
		WebhookVerifyToken: getEnv("WEBHOOK_VERIFY_TOKEN", ""),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),

		MetaAppSecret:   getEnv("META_WEBHOOK_SECRET", ""),
		MetaVerifyToken: getEnv("META_WEBHOOK_VERIFY_TOKEN", ""),

		ArchiveBucket:     getEnv("ARCHIVE_BUCKET", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Lead Qualification"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SalesAlertEmail:   getEnv("SALES_ALERT_EMAIL", ""),
	}
}

// Validate reports every missing or invalid setting at once. A non-nil
// result is a *apperrors.ConfigurationError.
func (c *Config) Validate() error {
	problems := apperrors.NewConfigurationError()

	if strings.TrimSpace(c.CRMAPIKey) == "" {
		problems.Add("CRM_API_KEY", "", "required")
	}
	if c.BedrockModelID == "" && c.GeminiAPIKey == "" {
		problems.Add("BEDROCK_MODEL_ID", "", "set BEDROCK_MODEL_ID or GEMINI_API_KEY")
	}
	switch c.StateStore {
	case StateStorePostgres:
		if c.DatabaseURL == "" {
			problems.Add("DATABASE_URL", "", "required when STATE_STORE=postgres")
		}
	case StateStoreDynamo:
		if c.ConversationStatesTable == "" {
			problems.Add("CONVERSATION_STATES_TABLE", "", "required when STATE_STORE=dynamodb")
		}
	case StateStoreMemory:
	default:
		problems.Add("STATE_STORE", c.StateStore, "must be postgres, dynamodb or memory")
	}
	if !c.UseMemoryQueue && c.InboundQueueURL == "" {
		problems.Add("INBOUND_QUEUE_URL", "", "required when USE_MEMORY_QUEUE=false")
	}
	if c.StateCacheSize <= 0 {
		problems.Add("STATE_CACHE_SIZE", strconv.Itoa(c.StateCacheSize), "must be positive")
	}
	if c.StateCacheTTL <= 0 {
		problems.Add("STATE_CACHE_TTL", c.StateCacheTTL.String(), "must be positive")
	}
	if c.RetentionDays <= 0 {
		problems.Add("RETENTION_DAYS", strconv.Itoa(c.RetentionDays), "must be positive")
	}
	if c.WorkerCount <= 0 {
		problems.Add("WORKER_COUNT", strconv.Itoa(c.WorkerCount), "must be positive")
	}

	if problems.Empty() {
		return nil
	}
	return problems
}

// Retention is RetentionDays as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
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
