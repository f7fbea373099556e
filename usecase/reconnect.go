package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	domainAccount "github.com/AzielCF/az-hub/domains/account"
	domainHealth "github.com/AzielCF/az-hub/domains/health"
	"github.com/AzielCF/az-hub/domains/provider"
	pkgError "github.com/AzielCF/az-hub/pkg/error"
	"github.com/AzielCF/az-hub/pkg/msgmux"
	"github.com/AzielCF/az-hub/pkg/utils"
)

// ReconnectOptions are the tunables of the reconnection optimizer.
type ReconnectOptions struct {
	Concurrency      int
	BatchPause       time.Duration
	PollInterval     time.Duration
	ConnectTimeout   time.Duration
	CheckInterval    time.Duration
	StalenessWindow  time.Duration
	HistoryWindow    time.Duration
	HistoryChatLimit int
	MaxAutoRetries   int
}

func (o ReconnectOptions) withDefaults() ReconnectOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.BatchPause <= 0 {
		o.BatchPause = 2 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = 30 * time.Second
	}
	if o.StalenessWindow <= 0 {
		o.StalenessWindow = 10 * time.Minute
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 24 * time.Hour
	}
	if o.HistoryChatLimit <= 0 {
		o.HistoryChatLimit = 3
	}
	if o.MaxAutoRetries <= 0 {
		o.MaxAutoRetries = 3
	}
	return o
}

// serviceReconnect restores provider connections for finalized accounts in
// bounded-concurrency batches and keeps health records on all of them.
type serviceReconnect struct {
	accounts domainAccount.IAccountRepository
	factory  provider.Factory
	mux      *msgmux.Multiplexer
	basePath string
	opts     ReconnectOptions

	healthMu sync.RWMutex
	health   map[string]*domainHealth.HealthRecord

	metricsMu  sync.Mutex
	total      int64
	successful int64
	failed     int64
	latencySum time.Duration

	queueMu     sync.Mutex
	queue       []string
	queued      map[string]bool
	draining    bool
	autoRetries map[string]int
}

func NewReconnectService(accounts domainAccount.IAccountRepository, factory provider.Factory, mux *msgmux.Multiplexer, basePath string, opts ReconnectOptions) *serviceReconnect {
	return &serviceReconnect{
		accounts:    accounts,
		factory:     factory,
		mux:         mux,
		basePath:    basePath,
		opts:        opts.withDefaults(),
		health:      make(map[string]*domainHealth.HealthRecord),
		queued:      make(map[string]bool),
		autoRetries: make(map[string]int),
	}
}

// ReconnectAll rebuilds clients for every stored account in batches of
// Concurrency, waiting for each whole batch before starting the next.
func (service *serviceReconnect) ReconnectAll(ctx context.Context) ([]domainHealth.ReconnectResult, error) {
	accounts, err := service.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, pkgError.InternalServerError(fmt.Sprintf("failed to list accounts: %v", err))
	}
	if len(accounts) == 0 {
		return []domainHealth.ReconnectResult{}, nil
	}

	logrus.Infof("[RECONNECT] Reconnecting %d accounts in batches of %d", len(accounts), service.opts.Concurrency)

	results := make([]domainHealth.ReconnectResult, len(accounts))
	for start := 0; start < len(accounts); start += service.opts.Concurrency {
		end := start + service.opts.Concurrency
		if end > len(accounts) {
			end = len(accounts)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int, acct domainAccount.Account) {
				defer wg.Done()
				results[i] = service.reconnectOne(ctx, acct)
			}(i, accounts[i])
		}
		wg.Wait()

		if end < len(accounts) {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(service.opts.BatchPause):
			}
		}
	}
	return results, nil
}

// reconnectOne runs the per-account reconnection algorithm: validate storage,
// build a client, poll connectivity up to the timeout, register with the
// multiplexer and best-effort replay recent history.
func (service *serviceReconnect) reconnectOne(ctx context.Context, acct domainAccount.Account) domainHealth.ReconnectResult {
	start := time.Now()

	fail := func(reason string) domainHealth.ReconnectResult {
		elapsed := time.Since(start)
		service.recordAttempt(acct.ID, false, reason, elapsed)
		logrus.WithField("account_id", acct.ID).Warnf("[RECONNECT] Failed: %s", reason)
		return domainHealth.ReconnectResult{AccountID: acct.ID, Error: reason, Elapsed: elapsed}
	}

	if !service.storageExists(acct) {
		return fail("session storage missing on disk")
	}

	client, err := service.factory(ctx, acct.Provider, service.storagePath(acct))
	if err != nil {
		return fail(fmt.Sprintf("client construction failed: %v", err))
	}
	if err := client.Connect(ctx); err != nil {
		_ = client.Kill(ctx)
		return fail(fmt.Sprintf("connect failed: %v", err))
	}

	deadline := time.Now().Add(service.opts.ConnectTimeout)
	for !client.IsConnected() {
		if time.Now().After(deadline) {
			_ = client.Kill(ctx)
			return fail("timed out waiting for connectivity")
		}
		select {
		case <-ctx.Done():
			_ = client.Kill(ctx)
			return fail("cancelled")
		case <-time.After(service.opts.PollInterval):
		}
	}

	service.mux.RegisterClient(acct.ID, client)

	if syncer, ok := client.(provider.HistorySyncer); ok {
		since := time.Now().Add(-service.opts.HistoryWindow)
		if err := syncer.SyncRecentHistory(ctx, since, service.opts.HistoryChatLimit); err != nil {
			logrus.WithError(err).WithField("account_id", acct.ID).
				Debug("[RECONNECT] Recent history sync failed")
		}
	}
	if err := service.accounts.SetAccountActiveStatus(ctx, acct.ID, true); err != nil {
		logrus.WithError(err).WithField("account_id", acct.ID).
			Debug("[RECONNECT] Could not mark account active")
	}

	elapsed := time.Since(start)
	service.recordAttempt(acct.ID, true, "", elapsed)
	logrus.WithField("account_id", acct.ID).
		Infof("[RECONNECT] Reconnected in %s", elapsed.Round(time.Millisecond))
	return domainHealth.ReconnectResult{AccountID: acct.ID, Success: true, Elapsed: elapsed}
}

func (service *serviceReconnect) recordAttempt(accountID string, success bool, reason string, elapsed time.Duration) {
	service.metricsMu.Lock()
	service.total++
	if success {
		service.successful++
		service.latencySum += elapsed
	} else {
		service.failed++
	}
	service.metricsMu.Unlock()

	service.healthMu.Lock()
	record, ok := service.health[accountID]
	if !ok {
		record = &domainHealth.HealthRecord{AccountID: accountID}
		service.health[accountID] = record
	}
	record.IsConnected = success
	record.LastSeenAt = time.Now()
	record.LastError = reason
	service.healthMu.Unlock()
}

// ForceReconnect reruns the per-account algorithm for one account and resets
// its auto-retry budget.
func (service *serviceReconnect) ForceReconnect(ctx context.Context, accountID string) (domainHealth.ReconnectResult, error) {
	acct, err := service.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return domainHealth.ReconnectResult{}, pkgError.SessionNotFoundError(fmt.Sprintf("account %s not found", accountID))
	}

	service.queueMu.Lock()
	service.autoRetries[accountID] = 0
	service.queueMu.Unlock()

	return service.reconnectOne(ctx, acct), nil
}

// storagePath resolves the on-disk storage directory for an account. The
// persisted path wins: after a rolled-back migration it may still point at
// the original session id rather than the account id.
func (service *serviceReconnect) storagePath(acct domainAccount.Account) string {
	if acct.StoragePath != "" {
		return acct.StoragePath
	}
	return utils.SessionStoragePath(service.basePath, acct.ID)
}

func (service *serviceReconnect) storageExists(acct domainAccount.Account) bool {
	if acct.StoragePath != "" {
		return utils.StorageDirExists(acct.StoragePath)
	}
	return utils.SessionStorageExists(service.basePath, acct.ID)
}

// computeHealth derives the deterministic health snapshot for one account.
func (service *serviceReconnect) computeHealth(acct domainAccount.Account) domainHealth.HealthRecord {
	accountID := acct.ID
	record := domainHealth.HealthRecord{AccountID: accountID, HealthScore: domainHealth.ScoreBase}

	service.healthMu.RLock()
	if stored, ok := service.health[accountID]; ok {
		record.LastSeenAt = stored.LastSeenAt
		record.LastError = stored.LastError
	}
	service.healthMu.RUnlock()

	connected := false
	if client, ok := service.mux.GetClient(accountID); ok {
		connected = client.IsConnected()
	}
	record.IsConnected = connected

	if stats, ok := service.mux.GetStats(accountID); ok {
		record.MessageCount = stats.MessageCount
		if stats.LastMessageTime.After(record.LastSeenAt) {
			record.LastSeenAt = stats.LastMessageTime
		}
	}

	deduct := func(issue string) {
		record.Issues = append(record.Issues, issue)
		record.HealthScore -= domainHealth.ScoreDeduction
	}

	if !service.mux.HasListener(accountID) {
		deduct(domainHealth.IssueNoListener)
	}
	if !service.storageExists(acct) {
		deduct(domainHealth.IssueNoStorage)
	}
	if !connected {
		deduct(domainHealth.IssueNotConnected)
	}
	if !record.LastSeenAt.IsZero() && time.Since(record.LastSeenAt) > service.opts.StalenessWindow {
		deduct(domainHealth.IssueStaleActivity)
	}

	if record.HealthScore < 0 {
		record.HealthScore = 0
	}
	return record
}

func (service *serviceReconnect) GetHealth(ctx context.Context) ([]domainHealth.HealthRecord, error) {
	accounts, err := service.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, pkgError.InternalServerError(fmt.Sprintf("failed to list accounts: %v", err))
	}

	records := make([]domainHealth.HealthRecord, 0, len(accounts))
	for _, acct := range accounts {
		records = append(records, service.computeHealth(acct))
	}
	return records, nil
}

func (service *serviceReconnect) GetAccountHealth(ctx context.Context, accountID string) (domainHealth.HealthRecord, error) {
	acct, err := service.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return domainHealth.HealthRecord{}, pkgError.SessionNotFoundError(fmt.Sprintf("account %s not found", accountID))
	}
	return service.computeHealth(acct), nil
}

func (service *serviceReconnect) GetMetrics(ctx context.Context) (domainHealth.ReconnectMetrics, error) {
	service.metricsMu.Lock()
	defer service.metricsMu.Unlock()

	metrics := domainHealth.ReconnectMetrics{
		Total:      service.total,
		Successful: service.successful,
		Failed:     service.failed,
	}
	if service.successful > 0 {
		metrics.AverageLatency = service.latencySum / time.Duration(service.successful)
	}
	return metrics, nil
}

// StartHealthMonitor launches the periodic health check. Degraded accounts
// are queued for reconnection; the queue drains serialized, never
// concurrently with itself.
func (service *serviceReconnect) StartHealthMonitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(service.opts.CheckInterval)
		defer ticker.Stop()

		logrus.Infof("[RECONNECT] Health monitor started, interval %s", service.opts.CheckInterval)
		for {
			select {
			case <-ctx.Done():
				logrus.Info("[RECONNECT] Health monitor stopped")
				return
			case <-ticker.C:
				service.checkHealth(ctx)
			}
		}
	}()
}

func (service *serviceReconnect) checkHealth(ctx context.Context) {
	accounts, err := service.accounts.ListAccounts(ctx)
	if err != nil {
		logrus.WithError(err).Warn("[RECONNECT] Health check could not list accounts")
		return
	}

	enqueued := false
	for _, acct := range accounts {
		record := service.computeHealth(acct)

		service.healthMu.Lock()
		stored := record
		service.health[acct.ID] = &stored
		service.healthMu.Unlock()

		if record.HealthScore >= domainHealth.ReconnectThreshold {
			service.queueMu.Lock()
			service.autoRetries[acct.ID] = 0
			service.queueMu.Unlock()
			continue
		}

		service.queueMu.Lock()
		if !service.queued[acct.ID] && service.autoRetries[acct.ID] < service.opts.MaxAutoRetries {
			service.queued[acct.ID] = true
			service.queue = append(service.queue, acct.ID)
			enqueued = true
			logrus.WithFields(logrus.Fields{
				"account_id": acct.ID,
				"score":      record.HealthScore,
			}).Warn("[RECONNECT] Account degraded, queued for reconnection")
		}
		service.queueMu.Unlock()
	}

	if enqueued {
		go service.drainQueue(ctx)
	}
}

func (service *serviceReconnect) drainQueue(ctx context.Context) {
	service.queueMu.Lock()
	if service.draining {
		service.queueMu.Unlock()
		return
	}
	service.draining = true
	service.queueMu.Unlock()

	defer func() {
		service.queueMu.Lock()
		service.draining = false
		service.queueMu.Unlock()
	}()

	for {
		service.queueMu.Lock()
		if len(service.queue) == 0 {
			service.queueMu.Unlock()
			return
		}
		accountID := service.queue[0]
		service.queue = service.queue[1:]
		delete(service.queued, accountID)
		service.autoRetries[accountID]++
		service.queueMu.Unlock()

		acct, err := service.accounts.GetAccountByID(ctx, accountID)
		if err != nil {
			continue
		}
		if result := service.reconnectOne(ctx, acct); result.Success {
			service.queueMu.Lock()
			service.autoRetries[accountID] = 0
			service.queueMu.Unlock()
		}
	}
}
