package msgpipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domainMessage "github.com/AzielCF/az-hub/domains/message"
)

const (
	priorityNormal   = 1
	priorityDeferred = 5

	dedupSweepBudget = 200
)

// Handler consumes a processed envelope. A non-nil error (or a panic) marks
// the item as failed and schedules a retry.
type Handler func(msg domainMessage.Envelope) error

// Pipeline is the message processing stage between the multiplexer and
// downstream consumers. Ingress runs validation, rate limiting, dedup and
// filtering before enqueueing; a ticker-driven batch loop drains the queue
// and fans each item out to subscribers with bounded retries.
type Pipeline struct {
	mu  sync.RWMutex
	cfg domainMessage.PipelineConfig

	queue   *priorityQueue
	limiter *rateLimiter
	dedup   *dedupCache
	filters *filterSet

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	received        int64
	processed       int64
	filtered        int64
	duplicates      int64
	rateLimited     int64
	retried         int64
	permanentErrors int64
	dropped         int64

	processingNanos  int64
	queueDepthSum    int64
	queueDepthTicks  int64
	startedAt        time.Time
	started          int32
	stopCh           chan struct{}
	stopOnce         sync.Once
	wg               sync.WaitGroup
	retryTimersMu    sync.Mutex
	retryTimers      map[*time.Timer]struct{}
}

func NewPipeline(cfg domainMessage.PipelineConfig) *Pipeline {
	cfg = cfg.WithDefaults()
	return &Pipeline{
		cfg:         cfg,
		queue:       newPriorityQueue(cfg.MaxQueueSize),
		limiter:     newRateLimiter(cfg.MaxMessagesPerSecond, cfg.MaxMessagesPerMinute),
		dedup:       newDedupCache(cfg.DedupWindow),
		filters:     newFilterSet(),
		handlers:    make(map[string]Handler),
		stopCh:      make(chan struct{}),
		retryTimers: make(map[*time.Timer]struct{}),
	}
}

// Start launches the batch loop and the maintenance sweeps. It is a no-op
// when already running.
func (p *Pipeline) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return
	}
	p.startedAt = time.Now()

	p.wg.Add(2)
	go p.batchLoop(ctx)
	go p.sweepLoop(ctx)

	logrus.Info("[PIPELINE] Started message processing pipeline")
}

// Stop halts the batch loop and cancels pending retry timers. Items still
// queued are counted as dropped.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.retryTimersMu.Lock()
	for t := range p.retryTimers {
		t.Stop()
	}
	p.retryTimers = make(map[*time.Timer]struct{})
	p.retryTimersMu.Unlock()
	p.wg.Wait()

	if n := p.queue.Clear(); n > 0 {
		atomic.AddInt64(&p.dropped, int64(n))
		logrus.Warnf("[PIPELINE] Stopped with %d items still queued", n)
	}
	logrus.Info("[PIPELINE] Stopped message processing pipeline")
}

// Subscribe registers a handler and returns its id for later removal.
func (p *Pipeline) Subscribe(h Handler) string {
	id := uuid.NewString()
	p.handlersMu.Lock()
	p.handlers[id] = h
	p.handlersMu.Unlock()
	return id
}

func (p *Pipeline) Unsubscribe(id string) {
	p.handlersMu.Lock()
	delete(p.handlers, id)
	p.handlersMu.Unlock()
}

// Ingest is the ingress fast path. It never blocks on processing: the
// message is validated, rate-checked, deduplicated, filtered and enqueued.
func (p *Pipeline) Ingest(msg domainMessage.Envelope) {
	atomic.AddInt64(&p.received, 1)
	now := time.Now()

	if !msg.Valid() {
		atomic.AddInt64(&p.filtered, 1)
		return
	}

	priority := priorityNormal
	if !p.limiter.Allow(msg.AccountID, now) {
		atomic.AddInt64(&p.rateLimited, 1)
		priority = priorityDeferred
	}

	if p.dedup.Seen(msg.DedupKey(), now) {
		atomic.AddInt64(&p.duplicates, 1)
		return
	}

	if !p.filters.Pass(msg) {
		atomic.AddInt64(&p.filtered, 1)
		return
	}

	p.enqueue(domainMessage.QueueItem{
		Envelope:   msg,
		AccountID:  msg.AccountID,
		EnqueuedAt: now,
		Priority:   priority,
	})
}

func (p *Pipeline) enqueue(item domainMessage.QueueItem) {
	if evicted := p.queue.Push(item); evicted != nil {
		atomic.AddInt64(&p.dropped, 1)
		logrus.WithField("account_id", evicted.AccountID).
			Warn("[PIPELINE] Queue overflow, dropped oldest item")
	}
}

func (p *Pipeline) batchLoop(ctx context.Context) {
	defer p.wg.Done()

	p.mu.RLock()
	interval := p.cfg.BatchInterval
	p.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.processBatch(ctx)

			p.mu.RLock()
			next := p.cfg.BatchInterval
			p.mu.RUnlock()
			if next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (p *Pipeline) processBatch(ctx context.Context) {
	p.mu.RLock()
	batchSize := p.cfg.BatchSize
	p.mu.RUnlock()

	atomic.AddInt64(&p.queueDepthSum, int64(p.queue.Depth()))
	atomic.AddInt64(&p.queueDepthTicks, 1)

	batch := p.queue.PopBatch(batchSize)
	if len(batch) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, item := range batch {
		wg.Add(1)
		go func(item domainMessage.QueueItem) {
			defer wg.Done()
			p.processItem(ctx, item)
		}(item)
	}
	wg.Wait()
}

func (p *Pipeline) processItem(ctx context.Context, item domainMessage.QueueItem) {
	start := time.Now()
	err := p.deliver(item.Envelope)
	atomic.AddInt64(&p.processingNanos, int64(time.Since(start)))

	if err == nil {
		atomic.AddInt64(&p.processed, 1)
		return
	}

	p.mu.RLock()
	maxRetries := p.cfg.MaxRetries
	retryDelay := p.cfg.RetryDelay
	p.mu.RUnlock()

	if item.RetryCount >= maxRetries {
		atomic.AddInt64(&p.permanentErrors, 1)
		logrus.WithError(err).WithFields(logrus.Fields{
			"account_id": item.AccountID,
			"message_id": item.Envelope.ID,
		}).Error("[PIPELINE] Message failed permanently after retries")
		return
	}

	retry := item
	retry.RetryCount++
	retry.Priority++
	atomic.AddInt64(&p.retried, 1)

	delay := retryDelay * time.Duration(retry.RetryCount)
	p.scheduleRetry(ctx, retry, delay)
}

func (p *Pipeline) scheduleRetry(ctx context.Context, item domainMessage.QueueItem, delay time.Duration) {
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.retryTimersMu.Lock()
		delete(p.retryTimers, timer)
		p.retryTimersMu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}
		p.enqueue(item)
	})

	p.retryTimersMu.Lock()
	p.retryTimers[timer] = struct{}{}
	p.retryTimersMu.Unlock()
}

// deliver fans the envelope out to every subscriber. The first error wins;
// panics are contained and converted to errors.
func (p *Pipeline) deliver(msg domainMessage.Envelope) error {
	p.handlersMu.RLock()
	handlers := make([]Handler, 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.handlersMu.RUnlock()

	var firstErr error
	for _, h := range handlers {
		if err := p.safeCall(h, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pipeline) safeCall(h Handler, msg domainMessage.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			logrus.WithField("message_id", msg.ID).
				Errorf("[PIPELINE] Recovered handler panic: %v", r)
		}
	}()
	return h(msg)
}

func (p *Pipeline) sweepLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case now := <-ticker.C:
			p.dedup.Sweep(now, dedupSweepBudget)
			p.limiter.Sweep(now)
		}
	}
}

// ClearQueue discards every queued item and returns the count.
func (p *Pipeline) ClearQueue() int {
	n := p.queue.Clear()
	if n > 0 {
		atomic.AddInt64(&p.dropped, int64(n))
		logrus.Infof("[PIPELINE] Cleared %d queued items", n)
	}
	return n
}

func (p *Pipeline) AddGlobalFilter(f domainMessage.Filter) domainMessage.Filter {
	return p.filters.AddGlobal(f)
}

func (p *Pipeline) RemoveGlobalFilter(id string) bool {
	return p.filters.RemoveGlobal(id)
}

func (p *Pipeline) AddAccountFilter(accountID string, f domainMessage.Filter) domainMessage.Filter {
	return p.filters.AddAccount(accountID, f)
}

func (p *Pipeline) RemoveAccountFilter(accountID, id string) bool {
	return p.filters.RemoveAccount(accountID, id)
}

func (p *Pipeline) ListFilters() []domainMessage.Filter {
	return p.filters.List()
}

// UpdateConfig applies the non-zero fields of cfg at runtime.
func (p *Pipeline) UpdateConfig(cfg domainMessage.PipelineConfig) domainMessage.PipelineConfig {
	p.mu.Lock()
	if cfg.MaxQueueSize > 0 {
		p.cfg.MaxQueueSize = cfg.MaxQueueSize
	}
	if cfg.BatchSize > 0 {
		p.cfg.BatchSize = cfg.BatchSize
	}
	if cfg.BatchInterval > 0 {
		p.cfg.BatchInterval = cfg.BatchInterval
	}
	if cfg.MaxRetries > 0 {
		p.cfg.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryDelay > 0 {
		p.cfg.RetryDelay = cfg.RetryDelay
	}
	if cfg.DedupWindow > 0 {
		p.cfg.DedupWindow = cfg.DedupWindow
	}
	if cfg.MaxMessagesPerSecond > 0 {
		p.cfg.MaxMessagesPerSecond = cfg.MaxMessagesPerSecond
	}
	if cfg.MaxMessagesPerMinute > 0 {
		p.cfg.MaxMessagesPerMinute = cfg.MaxMessagesPerMinute
	}
	applied := p.cfg
	p.mu.Unlock()

	if dropped := p.queue.SetMaxSize(applied.MaxQueueSize); dropped > 0 {
		atomic.AddInt64(&p.dropped, int64(dropped))
	}
	p.dedup.SetWindow(applied.DedupWindow)
	p.limiter.SetLimits(applied.MaxMessagesPerSecond, applied.MaxMessagesPerMinute)

	logrus.Info("[PIPELINE] Updated pipeline configuration")
	return applied
}

func (p *Pipeline) GetConfig() domainMessage.PipelineConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Pipeline) GetProcessingStats() domainMessage.ProcessingStats {
	return domainMessage.ProcessingStats{
		Received:        atomic.LoadInt64(&p.received),
		Processed:       atomic.LoadInt64(&p.processed),
		Filtered:        atomic.LoadInt64(&p.filtered),
		Duplicates:      atomic.LoadInt64(&p.duplicates),
		RateLimited:     atomic.LoadInt64(&p.rateLimited),
		Retried:         atomic.LoadInt64(&p.retried),
		PermanentErrors: atomic.LoadInt64(&p.permanentErrors),
		Dropped:         atomic.LoadInt64(&p.dropped),
		QueueDepth:      p.queue.Depth(),
	}
}

func (p *Pipeline) GetPerformanceMetrics() domainMessage.PerformanceMetrics {
	processed := atomic.LoadInt64(&p.processed)
	nanos := atomic.LoadInt64(&p.processingNanos)
	ticks := atomic.LoadInt64(&p.queueDepthTicks)
	depthSum := atomic.LoadInt64(&p.queueDepthSum)

	m := domainMessage.PerformanceMetrics{}
	if processed > 0 {
		m.AverageProcessingTime = time.Duration(nanos / processed)
	}
	if ticks > 0 {
		m.AverageQueueDepth = float64(depthSum) / float64(ticks)
	}
	if atomic.LoadInt32(&p.started) == 1 {
		elapsed := time.Since(p.startedAt)
		if elapsed > 0 {
			m.ThroughputPerSecond = float64(processed) / elapsed.Seconds()
		}
		m.Uptime = humanize.RelTime(p.startedAt, time.Now(), "", "")
	}
	return m
}
