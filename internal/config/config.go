package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the API, the workers and casectl.
type Config struct {
	Port string

	AuthToken string

	DatabaseURL string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisStream     string
	RedisDLQ        string
	RedisDelayedSet string
	RedisGroup      string
	RedisConsumer   string
	RedisKeyPrefix  string

	// CoordBackend selects the gate and lock implementation: redis, file or memory.
	CoordBackend string
	CoordLockDir string

	DocumentsBaseURL           string
	DocumentsAPIKey            string
	DocumentsRecognizeEndpoint string
	DocumentsResultEndpoint    string
	DocumentsRPS               float64
	DocumentsBurst             int
	DocumentsTimeoutMS         int

	DamageBaseURL              string
	DamageAPIKey               string
	DamageSessionLimitHours    int
	DamageFeatures             []string
	DamageTimeoutMS            int
	DamageRPS                  float64
	DamageBurst                int
	DamageCallbackURL          string
	DamageCallbackSecret       string
	DamageGateCapacity         int
	DocumentsGateCapacity      int
	DocumentsCollectTTLSeconds int

	WebhookURL               string
	WebhookSecret            string
	WebhookPhotoDelaySeconds int
	WebhookMaxDelaySeconds   int

	QualityMinBytes     int
	QualityMinDimension int

	ContentRoot                  string
	AzureStorageConnectionString string

	RateLimitRPS   float64
	RateLimitBurst int

	QueueBatchingEnabled     bool
	QueueBatchSize           int
	QueueBatchFlushMS        int
	QueueBatchFlushTimeoutMS int
	QueueBatchQueueCapacity  int
	QueueBatchMaxInFlight    int

	WorkerEnabled          bool
	WorkerConcurrency      int
	JobTimeoutSeconds      int
	ShutdownTimeoutSeconds int
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		RedisStream:     getEnv("REDIS_STREAM", "recognition_jobs"),
		RedisDLQ:        getEnv("REDIS_DLQ_STREAM", "recognition_jobs_dlq"),
		RedisDelayedSet: getEnv("REDIS_DELAYED_SET", "recognition_jobs_delayed"),
		RedisGroup:      getEnv("REDIS_GROUP", "recognition_workers"),
		RedisConsumer:   getEnv("REDIS_CONSUMER", hostnameOr("worker-1")),
		RedisKeyPrefix:  getEnv("REDIS_KEY_PREFIX", "recognizer:"),

		CoordBackend: strings.ToLower(getEnv("COORD_BACKEND", "")),
		CoordLockDir: getEnv("COORD_LOCK_DIR", os.TempDir()),

		DocumentsBaseURL:           getEnv("DOCUMENTS_BASE_URL", ""),
		DocumentsAPIKey:            getEnv("DOCUMENTS_API_KEY", ""),
		DocumentsRecognizeEndpoint: getEnv("DOCUMENTS_RECOGNIZE_ENDPOINT", "/recognize"),
		DocumentsResultEndpoint:    getEnv("DOCUMENTS_RESULT_ENDPOINT", "/result"),
		DocumentsRPS:               getEnvFloat("DOCUMENTS_RPS", 5),
		DocumentsBurst:             getEnvInt("DOCUMENTS_BURST", 5),
		DocumentsTimeoutMS:         getEnvInt("DOCUMENTS_TIMEOUT_MS", 30000),

		DamageBaseURL:              getEnv("DAMAGE_BASE_URL", ""),
		DamageAPIKey:               getEnv("DAMAGE_API_KEY", ""),
		DamageSessionLimitHours:    getEnvInt("DAMAGE_SESSION_LIMIT_HOURS", 24),
		DamageFeatures:             getEnvList("DAMAGE_FEATURES"),
		DamageTimeoutMS:            getEnvInt("DAMAGE_TIMEOUT_MS", 120000),
		DamageRPS:                  getEnvFloat("DAMAGE_RPS", 2),
		DamageBurst:                getEnvInt("DAMAGE_BURST", 2),
		DamageCallbackURL:          getEnv("DAMAGE_CALLBACK_URL", ""),
		DamageCallbackSecret:       getEnv("DAMAGE_CALLBACK_SECRET", ""),
		DamageGateCapacity:         getEnvInt("DAMAGE_GATE_CAPACITY", 1),
		DocumentsGateCapacity:      getEnvInt("DOCUMENTS_GATE_CAPACITY", 1),
		DocumentsCollectTTLSeconds: getEnvInt("DOCUMENTS_COLLECT_TTL_SECONDS", 200),

		WebhookURL:               getEnv("WEBHOOK_URL", ""),
		WebhookSecret:            getEnv("WEBHOOK_SECRET", ""),
		WebhookPhotoDelaySeconds: getEnvInt("WEBHOOK_PHOTO_DELAY_SECONDS", 3),
		WebhookMaxDelaySeconds:   getEnvInt("WEBHOOK_MAX_DELAY_SECONDS", 10),

		QualityMinBytes:     getEnvInt("QUALITY_MIN_BYTES", 10*1024),
		QualityMinDimension: getEnvInt("QUALITY_MIN_DIMENSION", 50),

		ContentRoot:                  getEnv("CONTENT_ROOT", "."),
		AzureStorageConnectionString: getEnv("AZURE_STORAGE_CONNECTION_STRING", ""),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		QueueBatchingEnabled:     getEnvBool("QUEUE_BATCHING_ENABLED", true),
		QueueBatchSize:           getEnvInt("QUEUE_BATCH_SIZE", 32),
		QueueBatchFlushMS:        getEnvInt("QUEUE_BATCH_FLUSH_MS", 25),
		QueueBatchFlushTimeoutMS: getEnvInt("QUEUE_BATCH_FLUSH_TIMEOUT_MS", 3000),
		QueueBatchQueueCapacity:  getEnvInt("QUEUE_BATCH_QUEUE_CAPACITY", 2048),
		QueueBatchMaxInFlight:    getEnvInt("QUEUE_BATCH_MAX_IN_FLIGHT", 4),

		WorkerEnabled:          getEnvBool("WORKER_ENABLED", true),
		WorkerConcurrency:      getEnvInt("WORKER_CONCURRENCY", 4),
		JobTimeoutSeconds:      getEnvInt("JOB_TIMEOUT_SECONDS", 650),
		ShutdownTimeoutSeconds: getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 10),
	}
}

// ResolvedCoordBackend returns the configured coordination backend, falling
// back to redis when a Redis address is set and to memory otherwise.
func (c Config) ResolvedCoordBackend() string {
	switch c.CoordBackend {
	case "redis", "file", "memory":
		return c.CoordBackend
	}
	if c.RedisAddr != "" {
		return "redis"
	}
	return "memory"
}

func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

func (c Config) NotifyPerItem() time.Duration {
	return time.Duration(c.WebhookPhotoDelaySeconds) * time.Second
}

func (c Config) NotifyCeiling() time.Duration {
	return time.Duration(c.WebhookMaxDelaySeconds) * time.Second
}

func hostnameOr(fallback string) string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return fallback
	}
	return name
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvList splits a comma separated value; empty entries are skipped.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	items := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
