package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-hub/domains/provider"
	domainSession "github.com/AzielCF/az-hub/domains/session"
	pkgError "github.com/AzielCF/az-hub/pkg/error"
)

type machineEventKind int

const (
	eventConnectivity machineEventKind = iota
	eventPairingPayload
	eventQRRefresh
	eventPairingTimeout
)

type machineEvent struct {
	kind         machineEventKind
	connectivity provider.ConnectivityState
	pairing      provider.PairingPayload
}

type machineTimings struct {
	qrExpiry       time.Duration
	qrRefresh      time.Duration
	pairingTimeout time.Duration
}

// SessionTimings builds the pairing timer configuration consumed by
// NewSessionService.
func SessionTimings(qrExpiry, qrRefresh, pairingTimeout time.Duration) machineTimings {
	return machineTimings{
		qrExpiry:       qrExpiry,
		qrRefresh:      qrRefresh,
		pairingTimeout: pairingTimeout,
	}
}

// sessionMachine is the per-account connection lifecycle state machine. All
// provider callbacks are converted into events on a machine-owned channel and
// consumed by a single goroutine, so state mutation is never re-entrant.
type sessionMachine struct {
	mu sync.Mutex

	id             string
	kind           provider.Kind
	state          domainSession.State
	qr             *domainSession.QRData
	metadata       *domainSession.Metadata
	createdAt      time.Time
	connectedAt    *time.Time
	lastActivityAt time.Time
	retryCount     int

	storagePath string
	factory     provider.Factory
	client      provider.Client

	timings machineTimings

	// onStateChange is invoked after every accepted transition, in
	// transition order, from the goroutine that caused it. Used by the
	// registry for multiplexer registration and state broadcasts.
	onStateChange func(id string, from, to domainSession.State)

	// pendingHooks collects onStateChange invocations recorded under mu;
	// they run only after mu is released, in the order recorded.
	pendingHooks []func()

	events    chan machineEvent
	done      chan struct{}
	loopOnce  sync.Once
	closeOnce sync.Once

	qrRefreshTimer *time.Timer
	pairingTimer   *time.Timer
	qrRerequested  bool

	// migrating suppresses connectivity handling while the client is being
	// torn down and rebuilt around a storage rename.
	migrating bool
}

func newSessionMachine(id string, kind provider.Kind, storagePath string, factory provider.Factory, timings machineTimings) *sessionMachine {
	now := time.Now()
	return &sessionMachine{
		id:             id,
		kind:           kind,
		state:          domainSession.StateInit,
		createdAt:      now,
		lastActivityAt: now,
		storagePath:    storagePath,
		factory:        factory,
		timings:        timings,
		events:         make(chan machineEvent, 32),
		done:           make(chan struct{}),
	}
}

// post hands an event to the machine's consumer goroutine. It never blocks a
// provider callback; a full channel drops the event with a warning.
func (m *sessionMachine) post(ev machineEvent) {
	select {
	case m.events <- ev:
	case <-m.done:
	default:
		logrus.WithField("session_id", m.sessionID()).
			Warn("[SESSION] Event channel full, dropping event")
	}
}

func (m *sessionMachine) run() {
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

// start builds the provider client, wires its events into the machine and
// initiates pairing. Legal only from INIT.
func (m *sessionMachine) start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != domainSession.StateInit {
		state := m.state
		m.mu.Unlock()
		return pkgError.InvalidStateError(fmt.Sprintf("session %s is %s, start requires INIT", m.id, state))
	}

	client, err := m.factory(ctx, m.kind, m.storagePath)
	if err != nil {
		m.transitionLocked(domainSession.StateFailed)
		m.mu.Unlock()
		m.flushHooks()
		return pkgError.ProviderConnectionError(fmt.Sprintf("failed to build %s client: %v", m.kind, err))
	}
	m.client = client
	m.mu.Unlock()

	m.wireClient(client)
	m.loopOnce.Do(func() { go m.run() })

	if err := client.Connect(ctx); err != nil {
		m.mu.Lock()
		m.transitionLocked(domainSession.StateFailed)
		m.mu.Unlock()
		m.flushHooks()
		return pkgError.ProviderConnectionError(fmt.Sprintf("connect failed for session %s: %v", m.id, err))
	}

	if err := client.RequestPairingPayload(ctx); err != nil {
		logrus.WithError(err).WithField("session_id", m.id).
			Warn("[SESSION] Initial pairing payload request failed")
	}
	return nil
}

func (m *sessionMachine) handle(ev machineEvent) {
	m.mu.Lock()
	m.handleLocked(ev)
	m.mu.Unlock()
	m.flushHooks()
}

func (m *sessionMachine) handleLocked(ev machineEvent) {
	switch ev.kind {
	case eventPairingPayload:
		m.handlePairingLocked(ev.pairing)
	case eventConnectivity:
		m.handleConnectivityLocked(ev.connectivity)
	case eventQRRefresh:
		if m.state == domainSession.StateQRReady && m.client != nil {
			client := m.client
			go func() { _ = client.RequestPairingPayload(context.Background()) }()
			m.armQRRefreshLocked()
		}
	case eventPairingTimeout:
		if m.state == domainSession.StateQRReady || m.state == domainSession.StateAuthenticating {
			logrus.WithField("session_id", m.id).
				Warn("[SESSION] Pairing timed out, marking session failed")
			m.stopTimersLocked()
			m.qr = nil
			m.transitionLocked(domainSession.StateFailed)
		}
	}
}

func (m *sessionMachine) handlePairingLocked(payload provider.PairingPayload) {
	if m.state == domainSession.StateConnected {
		return
	}

	now := time.Now()
	m.qr = &domainSession.QRData{
		Data:        payload.Data,
		GeneratedAt: now,
		ExpiresAt:   now.Add(m.timings.qrExpiry),
	}
	m.qrRerequested = false

	if m.state == domainSession.StateQRReady {
		return
	}
	if m.transitionLocked(domainSession.StateQRReady) {
		m.armQRRefreshLocked()
		if m.pairingTimer == nil {
			m.pairingTimer = time.AfterFunc(m.timings.pairingTimeout, func() {
				m.post(machineEvent{kind: eventPairingTimeout})
			})
		}
	} else {
		m.qr = nil
	}
}

func (m *sessionMachine) handleConnectivityLocked(state provider.ConnectivityState) {
	if m.migrating {
		return
	}
	switch state {
	case provider.ConnectivityAuthenticating:
		if m.state == domainSession.StateQRReady {
			m.transitionLocked(domainSession.StateAuthenticating)
			// The pairing timeout stays armed until actually connected.
			m.stopQRRefreshLocked()
			m.qr = nil
		}
	case provider.ConnectivityConnected:
		if m.transitionLocked(domainSession.StateConnected) {
			now := time.Now()
			m.connectedAt = &now
			m.retryCount = 0
			m.qr = nil
			m.stopTimersLocked()
			client := m.client
			go m.fetchIdentity(client)
		}
	case provider.ConnectivityLoggedOut:
		if m.state == domainSession.StateDisconnected {
			return
		}
		m.stopTimersLocked()
		m.qr = nil
		m.transitionLocked(domainSession.StateDisconnected)
	}
}

// transitionLocked applies the transition when legal, otherwise logs and
// leaves state unchanged.
func (m *sessionMachine) transitionLocked(to domainSession.State) bool {
	from := m.state
	if !domainSession.CanTransition(from, to) {
		logrus.WithFields(logrus.Fields{
			"session_id": m.id,
			"from":       from,
			"to":         to,
		}).Warn("[SESSION] Rejected illegal state transition")
		return false
	}

	m.state = to
	m.lastActivityAt = time.Now()
	logrus.WithFields(logrus.Fields{
		"session_id": m.id,
		"from":       from,
		"to":         to,
	}).Info("[SESSION] State transition")

	if hook := m.onStateChange; hook != nil {
		id := m.id
		m.pendingHooks = append(m.pendingHooks, func() { hook(id, from, to) })
	}
	return true
}

// flushHooks runs recorded state-change hooks without holding mu. Events are
// consumed by one goroutine, so hooks observe transitions in the order they
// happened.
func (m *sessionMachine) flushHooks() {
	for {
		m.mu.Lock()
		if len(m.pendingHooks) == 0 {
			m.mu.Unlock()
			return
		}
		hooks := m.pendingHooks
		m.pendingHooks = nil
		m.mu.Unlock()

		for _, hook := range hooks {
			hook()
		}
	}
}

func (m *sessionMachine) armQRRefreshLocked() {
	if m.qrRefreshTimer != nil {
		m.qrRefreshTimer.Stop()
	}
	m.qrRefreshTimer = time.AfterFunc(m.timings.qrRefresh, func() {
		m.post(machineEvent{kind: eventQRRefresh})
	})
}

func (m *sessionMachine) stopQRRefreshLocked() {
	if m.qrRefreshTimer != nil {
		m.qrRefreshTimer.Stop()
		m.qrRefreshTimer = nil
	}
}

func (m *sessionMachine) stopTimersLocked() {
	m.stopQRRefreshLocked()
	if m.pairingTimer != nil {
		m.pairingTimer.Stop()
		m.pairingTimer = nil
	}
}

func (m *sessionMachine) fetchIdentity(client provider.Client) {
	if client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	identity, err := client.SelfIdentity(ctx)
	if err != nil {
		logrus.WithError(err).WithField("session_id", m.sessionID()).
			Warn("[SESSION] Could not read identity metadata")
		return
	}

	m.mu.Lock()
	m.metadata = &domainSession.Metadata{
		PhoneNumber:  identity.PhoneNumber,
		DisplayName:  identity.DisplayName,
		ContactCount: identity.ContactCount,
		ChatCount:    identity.ChatCount,
	}
	m.mu.Unlock()
}

// qrData returns the current pairing payload, or nil unless the session is
// exactly QR_READY. An expired payload is cleared and triggers exactly one
// proactive re-request.
func (m *sessionMachine) qrData() *domainSession.QRData {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domainSession.StateQRReady {
		return nil
	}
	if m.qr != nil && m.qr.Expired(time.Now()) {
		m.qr = nil
		if !m.qrRerequested && m.client != nil {
			m.qrRerequested = true
			client := m.client
			go func() { _ = client.RequestPairingPayload(context.Background()) }()
		}
	}
	if m.qr == nil {
		return nil
	}
	qr := *m.qr
	return &qr
}

// retry resets a FAILED machine back to INIT, destroying any stale client.
func (m *sessionMachine) retry(ctx context.Context) error {
	m.mu.Lock()
	if m.state != domainSession.StateFailed {
		state := m.state
		m.mu.Unlock()
		return pkgError.InvalidStateError(fmt.Sprintf("session %s is %s, retry requires FAILED", m.id, state))
	}

	client := m.client
	m.client = nil
	m.qr = nil
	m.metadata = nil
	m.connectedAt = nil
	m.retryCount++
	m.qrRerequested = false
	m.stopTimersLocked()

	// A retry rebuilds the machine from scratch rather than walking the
	// transition table.
	from := m.state
	m.state = domainSession.StateInit
	m.lastActivityAt = time.Now()
	hook := m.onStateChange
	id := m.id
	m.mu.Unlock()

	if client != nil {
		_ = client.Kill(ctx)
	}
	if hook != nil {
		hook(id, from, domainSession.StateInit)
	}
	logrus.WithField("session_id", id).Info("[SESSION] Session reset for retry")
	return nil
}

// disconnect asks the client to log out and moves to DISCONNECTED regardless
// of the logout outcome.
func (m *sessionMachine) disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == domainSession.StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	if m.state == domainSession.StateInit {
		m.mu.Unlock()
		return pkgError.InvalidStateError(fmt.Sprintf("session %s was never started", m.id))
	}
	client := m.client
	id := m.id
	m.mu.Unlock()

	if client != nil {
		if err := client.Disconnect(ctx); err != nil {
			logrus.WithError(err).WithField("session_id", id).
				Warn("[SESSION] Logout failed, disconnecting anyway")
		}
	}

	m.mu.Lock()
	m.stopTimersLocked()
	m.qr = nil
	m.transitionLocked(domainSession.StateDisconnected)
	m.mu.Unlock()
	m.flushHooks()
	return nil
}

// destroy disconnects and then forcibly releases the client. Idempotent.
func (m *sessionMachine) destroy(ctx context.Context) {
	_ = m.disconnect(ctx)

	m.mu.Lock()
	client := m.client
	m.client = nil
	m.stopTimersLocked()
	m.mu.Unlock()

	if client != nil {
		_ = client.Kill(ctx)
	}
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *sessionMachine) wireClient(client provider.Client) {
	client.OnConnectivityChange(func(state provider.ConnectivityState) {
		m.post(machineEvent{kind: eventConnectivity, connectivity: state})
	})
	client.OnPairingPayload(func(payload provider.PairingPayload) {
		m.post(machineEvent{kind: eventPairingPayload, pairing: payload})
	})
}

func (m *sessionMachine) sessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

func (m *sessionMachine) providerClient() provider.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// rekey renames the machine after its durable identity becomes known.
func (m *sessionMachine) rekey(id string) {
	m.mu.Lock()
	m.id = id
	m.mu.Unlock()
}

func (m *sessionMachine) beginMigration() {
	m.mu.Lock()
	m.migrating = true
	m.mu.Unlock()
}

func (m *sessionMachine) endMigration() {
	m.mu.Lock()
	m.migrating = false
	m.mu.Unlock()
}

// suspend logs the client out so its storage can be moved safely.
func (m *sessionMachine) suspend(ctx context.Context) {
	if client := m.providerClient(); client != nil {
		_ = client.Disconnect(ctx)
	}
}

// resume reconnects the current client after a suspend.
func (m *sessionMachine) resume(ctx context.Context) {
	client := m.providerClient()
	if client == nil {
		return
	}
	if err := client.Connect(ctx); err != nil {
		logrus.WithError(err).WithField("session_id", m.sessionID()).
			Error("[SESSION] Failed to resume client after migration")
	}
}

// adoptStorage rebuilds the provider client against a new storage path and
// swaps it in, releasing the previous client.
func (m *sessionMachine) adoptStorage(ctx context.Context, storagePath string) error {
	rebuilt, err := m.factory(ctx, m.kind, storagePath)
	if err != nil {
		return err
	}
	m.wireClient(rebuilt)
	if err := rebuilt.Connect(ctx); err != nil {
		_ = rebuilt.Kill(ctx)
		return err
	}

	m.mu.Lock()
	previous := m.client
	m.client = rebuilt
	m.storagePath = storagePath
	m.mu.Unlock()

	if previous != nil {
		_ = previous.Kill(ctx)
	}
	return nil
}

func (m *sessionMachine) currentState() domainSession.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *sessionMachine) snapshot() domainSession.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := domainSession.Session{
		ID:             m.id,
		Provider:       m.kind,
		State:          m.state,
		CreatedAt:      m.createdAt,
		LastActivityAt: m.lastActivityAt,
		RetryCount:     m.retryCount,
	}
	if m.qr != nil {
		qr := *m.qr
		s.QR = &qr
	}
	if m.metadata != nil {
		meta := *m.metadata
		s.Metadata = &meta
	}
	if m.connectedAt != nil {
		t := *m.connectedAt
		s.ConnectedAt = &t
	}
	return s
}
