package health

import (
	"context"
	"time"
)

// Score thresholds and deductions used by the health monitor.
const (
	ScoreBase          = 100
	ScoreDeduction     = 20
	ReconnectThreshold = 50

	IssueNoListener    = "no message listener registered"
	IssueNoStorage     = "session storage missing on disk"
	IssueStaleActivity = "no activity within the staleness window"
	IssueNotConnected  = "provider client not connected"
)

// HealthRecord is the per-account health snapshot maintained by the
// reconnection optimizer.
type HealthRecord struct {
	AccountID    string    `json:"account_id"`
	IsConnected  bool      `json:"is_connected"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	MessageCount int64     `json:"message_count"`
	HealthScore  int       `json:"health_score"`
	Issues       []string  `json:"issues,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// ReconnectResult is the outcome of one per-account reconnection attempt.
type ReconnectResult struct {
	AccountID string        `json:"account_id"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// ReconnectMetrics aggregates outcomes across all attempts since startup.
// The average latency covers successful attempts only.
type ReconnectMetrics struct {
	Total          int64         `json:"total"`
	Successful     int64         `json:"successful"`
	Failed         int64         `json:"failed"`
	AverageLatency time.Duration `json:"average_latency"`
}

// IReconnectUsecase restores provider connections for previously finalized
// accounts and keeps them healthy thereafter.
type IReconnectUsecase interface {
	// ReconnectAll rebuilds clients for every stored account in bounded
	// concurrency batches and returns one result per account.
	ReconnectAll(ctx context.Context) ([]ReconnectResult, error)
	ForceReconnect(ctx context.Context, accountID string) (ReconnectResult, error)
	GetHealth(ctx context.Context) ([]HealthRecord, error)
	GetAccountHealth(ctx context.Context, accountID string) (HealthRecord, error)
	GetMetrics(ctx context.Context) (ReconnectMetrics, error)
	// StartHealthMonitor launches the periodic health-check loop; it stops
	// when ctx is cancelled.
	StartHealthMonitor(ctx context.Context)
}
