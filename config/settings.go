package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	AppVersion             = "v1.0.0"
	AppPort                = "3000"
	AppDebug               = false
	AppBasicAuthCredential []string
	AppBasePath            = ""

	PathStorages = "storages"

	AccountDBURI = "file:storages/accounts.db?_foreign_keys=on"

	WhatsappLogLevel = "ERROR"

	// Session state machine timings
	QRExpiry       = 90 * time.Second
	QRRefresh      = 60 * time.Second
	PairingTimeout = 5 * time.Minute

	// Reconnection optimizer
	ReconnectConcurrency    = 3
	ReconnectBatchPause     = 2 * time.Second
	ReconnectPollInterval   = 1 * time.Second
	ReconnectTimeout        = 30 * time.Second
	HealthCheckInterval     = 30 * time.Second
	HealthStalenessWindow   = 10 * time.Minute
	HistorySyncWindow       = 24 * time.Hour
	HistorySyncChatLimit    = 3
	ReconnectMaxAutoRetries = 3

	// Message processing pipeline defaults
	PipelineMaxQueueSize         = 1000
	PipelineBatchSize            = 10
	PipelineBatchInterval        = 100 * time.Millisecond
	PipelineMaxRetries           = 3
	PipelineRetryDelay           = 100 * time.Millisecond
	PipelineDedupWindow          = 5 * time.Second
	PipelineMaxMessagesPerSecond = 10
	PipelineMaxMessagesPerMinute = 60
)

func init() {
	if v := strings.TrimSpace(os.Getenv("APP_PORT")); v != "" {
		AppPort = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_DEBUG")); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			AppDebug = true
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_BASE_PATH")); v != "" {
		AppBasePath = v
	}
	if v := strings.TrimSpace(os.Getenv("PATH_STORAGES")); v != "" {
		PathStorages = v
	}
	if v := strings.TrimSpace(os.Getenv("ACCOUNT_DB_URI")); v != "" {
		AccountDBURI = v
	}
	if v := strings.TrimSpace(os.Getenv("WHATSAPP_LOG_LEVEL")); v != "" {
		WhatsappLogLevel = v
	}
	if n, ok := envInt("RECONNECT_CONCURRENCY"); ok && n > 0 {
		ReconnectConcurrency = n
	}
	if d, ok := envDuration("RECONNECT_TIMEOUT"); ok {
		ReconnectTimeout = d
	}
	if d, ok := envDuration("HEALTH_CHECK_INTERVAL"); ok {
		HealthCheckInterval = d
	}
	if n, ok := envInt("PIPELINE_MAX_QUEUE_SIZE"); ok && n > 0 {
		PipelineMaxQueueSize = n
	}
	if n, ok := envInt("PIPELINE_BATCH_SIZE"); ok && n > 0 {
		PipelineBatchSize = n
	}
	if d, ok := envDuration("PIPELINE_BATCH_INTERVAL"); ok {
		PipelineBatchInterval = d
	}
	if n, ok := envInt("PIPELINE_MAX_RETRIES"); ok && n >= 0 {
		PipelineMaxRetries = n
	}
	if d, ok := envDuration("PIPELINE_DEDUP_WINDOW"); ok {
		PipelineDedupWindow = d
	}
	if n, ok := envInt("PIPELINE_MAX_MESSAGES_PER_SECOND"); ok && n > 0 {
		PipelineMaxMessagesPerSecond = n
	}
	if n, ok := envInt("PIPELINE_MAX_MESSAGES_PER_MINUTE"); ok && n > 0 {
		PipelineMaxMessagesPerMinute = n
	}
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
