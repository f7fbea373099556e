package msgmux

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domainMessage "github.com/AzielCF/az-hub/domains/message"
	"github.com/AzielCF/az-hub/domains/provider"
)

// Handler consumes every inbound message from every registered account.
type Handler func(msg domainMessage.Envelope)

// AccountStats is the per-account traffic snapshot kept by the multiplexer.
type AccountStats struct {
	AccountID       string    `json:"account_id"`
	MessageCount    int64     `json:"message_count"`
	LastMessageTime time.Time `json:"last_message_time"`
	IsActive        bool      `json:"is_active"`
}

// ValidationReport is the result of a listener audit: accounts registered
// without a live listener binding are defects, not silently tolerated.
type ValidationReport struct {
	Valid            bool     `json:"valid"`
	RegisteredCount  int      `json:"registered_count"`
	ActiveCount      int      `json:"active_count"`
	MissingListeners []string `json:"missing_listeners,omitempty"`
}

// registration outlives its listener binding: unregistering clears bound but
// keeps the entry, so traffic stats survive and the audit can still see a
// client that was left connected without a listener.
type registration struct {
	client provider.Client
	bound  bool
	stats  AccountStats
}

// Multiplexer funnels messages from many provider clients into one handler
// fan-out. Exactly one message listener is bound per registered client;
// registering an account that already exists replaces the previous binding.
type Multiplexer struct {
	mu       sync.RWMutex
	accounts map[string]*registration

	handlersMu sync.RWMutex
	handlers   map[string]Handler
}

func NewMultiplexer() *Multiplexer {
	return &Multiplexer{
		accounts: make(map[string]*registration),
		handlers: make(map[string]Handler),
	}
}

// RegisterClient binds the multiplexer's message listener to the client under
// accountID. Idempotent: an existing registration is replaced, carrying its
// traffic stats over.
func (m *Multiplexer) RegisterClient(accountID string, client provider.Client) {
	m.mu.Lock()
	reg, exists := m.accounts[accountID]
	if exists {
		logrus.WithField("account_id", accountID).
			Info("[MUX] Replacing existing client registration")
		reg.client = client
	} else {
		reg = &registration{
			client: client,
			stats:  AccountStats{AccountID: accountID},
		}
		m.accounts[accountID] = reg
	}
	reg.bound = true
	reg.stats.IsActive = true
	m.mu.Unlock()

	client.OnMessage(func(msg provider.Message) {
		m.dispatch(accountID, msg)
	})
}

// UnregisterClient drops the listener binding for the account. The client
// itself is left to its owner; stats are kept and marked inactive.
func (m *Multiplexer) UnregisterClient(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg, ok := m.accounts[accountID]; ok && reg.bound {
		reg.bound = false
		reg.stats.IsActive = false
		logrus.WithField("account_id", accountID).Info("[MUX] Unregistered client")
	}
}

// Rebind moves an existing registration to a new account id, keeping the
// client and stats. Used when a provisional session id is finalized.
func (m *Multiplexer) Rebind(oldID, newID string) bool {
	m.mu.Lock()
	reg, ok := m.accounts[oldID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.accounts, oldID)
	reg.stats.AccountID = newID
	reg.bound = true
	m.accounts[newID] = reg
	client := reg.client
	m.mu.Unlock()

	client.OnMessage(func(msg provider.Message) {
		m.dispatch(newID, msg)
	})
	logrus.WithFields(logrus.Fields{
		"old_id": oldID,
		"new_id": newID,
	}).Info("[MUX] Rebound client registration")
	return true
}

// Subscribe registers a fan-out handler and returns its id.
func (m *Multiplexer) Subscribe(h Handler) string {
	id := uuid.NewString()
	m.handlersMu.Lock()
	m.handlers[id] = h
	m.handlersMu.Unlock()
	return id
}

func (m *Multiplexer) Unsubscribe(id string) {
	m.handlersMu.Lock()
	delete(m.handlers, id)
	m.handlersMu.Unlock()
}

func (m *Multiplexer) dispatch(accountID string, msg provider.Message) {
	m.mu.Lock()
	reg, ok := m.accounts[accountID]
	if !ok || !reg.bound {
		m.mu.Unlock()
		return
	}
	reg.stats.MessageCount++
	reg.stats.LastMessageTime = time.Now()
	m.mu.Unlock()

	envelope := domainMessage.Envelope{
		ID:        msg.ID,
		AccountID: accountID,
		From:      msg.From,
		Body:      msg.Body,
		Timestamp: msg.Timestamp,
		Type:      msg.Type,
		IsSelf:    msg.IsSelf,
		IsGroup:   msg.IsGroup,
	}

	m.handlersMu.RLock()
	handlers := make([]Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.handlersMu.RUnlock()

	for _, h := range handlers {
		m.safeDispatch(h, envelope)
	}
}

// safeDispatch isolates handler panics so one bad consumer cannot take down
// the fan-out for the rest.
func (m *Multiplexer) safeDispatch(h Handler, msg domainMessage.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("message_id", msg.ID).
				Errorf("[MUX] Recovered handler panic: %v", r)
		}
	}()
	h(msg)
}

// GetClient returns the client for an account with a live binding.
func (m *Multiplexer) GetClient(accountID string) (provider.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.accounts[accountID]
	if !ok || !reg.bound || reg.client == nil {
		return nil, false
	}
	return reg.client, true
}

// isActiveLocked reports whether the account has a live binding to a
// connected client.
func (m *Multiplexer) isActiveLocked(reg *registration) bool {
	return reg.bound && reg.client != nil && reg.client.IsConnected()
}

// HasListener reports whether the account is registered with a live binding.
func (m *Multiplexer) HasListener(accountID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.accounts[accountID]
	return ok && reg.bound
}

// ActiveAccounts lists ids of accounts whose client reports connected.
func (m *Multiplexer) ActiveAccounts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.accounts))
	for id, reg := range m.accounts {
		if m.isActiveLocked(reg) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// GetStats returns the traffic snapshot for one account.
func (m *Multiplexer) GetStats(accountID string) (AccountStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.accounts[accountID]
	if !ok {
		return AccountStats{}, false
	}
	stats := reg.stats
	stats.IsActive = m.isActiveLocked(reg)
	return stats, true
}

// ListStats returns traffic snapshots for every registered account, sorted
// by account id.
func (m *Multiplexer) ListStats() []AccountStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AccountStats, 0, len(m.accounts))
	for _, reg := range m.accounts {
		stats := reg.stats
		stats.IsActive = m.isActiveLocked(reg)
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// ValidateListeners audits the account set: every connected client must have
// a live listener binding. A connected client left without one is the defect
// this report exists to surface.
func (m *Multiplexer) ValidateListeners() ValidationReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := ValidationReport{Valid: true}
	for id, reg := range m.accounts {
		if reg.bound {
			report.RegisteredCount++
		}
		connected := reg.client != nil && reg.client.IsConnected()
		if connected {
			report.ActiveCount++
		}
		if connected && !reg.bound {
			report.Valid = false
			report.MissingListeners = append(report.MissingListeners, id)
		}
	}
	sort.Strings(report.MissingListeners)
	return report
}
