package message

import (
	"time"
)

// Envelope is one inbound message tagged with the account it arrived on.
// The identity key for deduplication is (From, ID, Timestamp).
type Envelope struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	From      string    `json:"from"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	IsSelf    bool      `json:"is_self"`
	IsGroup   bool      `json:"is_group"`
}

// Valid reports whether the envelope carries the minimum fields required for
// processing.
func (e Envelope) Valid() bool {
	return e.ID != "" && e.From != "" && !e.Timestamp.IsZero()
}

// DedupKey returns the identity key used by the dedup cache.
func (e Envelope) DedupKey() string {
	return e.From + "|" + e.ID + "|" + e.Timestamp.UTC().Format(time.RFC3339Nano)
}

// QueueItem wraps an envelope while it sits in the processing queue.
// Priority 0 is highest.
type QueueItem struct {
	Envelope   Envelope  `json:"envelope"`
	AccountID  string    `json:"account_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Priority   int       `json:"priority"`
	RetryCount int       `json:"retry_count"`
}

// Filter is a predicate over envelopes. A message must satisfy every active
// global filter and every active filter scoped to its account to pass. Empty
// fields match everything.
type Filter struct {
	ID            string `json:"id"`
	AccountID     string `json:"account_id,omitempty"`
	From          string `json:"from,omitempty"`
	MessageType   string `json:"message_type,omitempty"`
	ContainsText  string `json:"contains_text,omitempty"`
	ExcludeGroups bool   `json:"exclude_groups,omitempty"`
	ExcludeSelf   bool   `json:"exclude_self,omitempty"`
}

// PipelineConfig holds the tunable knobs of the processing pipeline. Zero
// values mean "keep current" when applied through UpdateConfig.
type PipelineConfig struct {
	MaxQueueSize         int           `json:"max_queue_size"`
	BatchSize            int           `json:"batch_size"`
	BatchInterval        time.Duration `json:"batch_interval"`
	MaxRetries           int           `json:"max_retries"`
	RetryDelay           time.Duration `json:"retry_delay"`
	DedupWindow          time.Duration `json:"dedup_window"`
	MaxMessagesPerSecond int           `json:"max_messages_per_second"`
	MaxMessagesPerMinute int           `json:"max_messages_per_minute"`
}

// WithDefaults fills any unset knob with its default value.
func (c PipelineConfig) WithDefaults() PipelineConfig {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 1000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = 100 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 5 * time.Second
	}
	if c.MaxMessagesPerSecond <= 0 {
		c.MaxMessagesPerSecond = 10
	}
	if c.MaxMessagesPerMinute <= 0 {
		c.MaxMessagesPerMinute = 60
	}
	return c
}

// ProcessingStats counts pipeline outcomes since startup.
type ProcessingStats struct {
	Received        int64 `json:"received"`
	Processed       int64 `json:"processed"`
	Filtered        int64 `json:"filtered"`
	Duplicates      int64 `json:"duplicates"`
	RateLimited     int64 `json:"rate_limited"`
	Retried         int64 `json:"retried"`
	PermanentErrors int64 `json:"permanent_errors"`
	Dropped         int64 `json:"dropped"`
	QueueDepth      int   `json:"queue_depth"`
}

// PerformanceMetrics are rolling measurements sampled by the batch loop.
type PerformanceMetrics struct {
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	AverageQueueDepth     float64       `json:"average_queue_depth"`
	ThroughputPerSecond   float64       `json:"throughput_per_second"`
	Uptime                string        `json:"uptime"`
}
