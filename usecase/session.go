package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domainAccount "github.com/AzielCF/az-hub/domains/account"
	"github.com/AzielCF/az-hub/domains/provider"
	domainSession "github.com/AzielCF/az-hub/domains/session"
	pkgError "github.com/AzielCF/az-hub/pkg/error"
	"github.com/AzielCF/az-hub/pkg/msgmux"
	"github.com/AzielCF/az-hub/pkg/utils"
	"github.com/AzielCF/az-hub/validations"
)

// serviceSession is the session registry. It owns every state machine, the
// finalized-id mappings and the single concurrent pairing policy. Nothing
// outside this service touches the machine map.
type serviceSession struct {
	mu         sync.RWMutex
	machines   map[string]*sessionMachine
	idMappings map[string]string

	accounts domainAccount.IAccountRepository
	factory  provider.Factory
	mux      *msgmux.Multiplexer
	basePath string
	timings  machineTimings

	// onStateChange, when set, receives every accepted transition. Used by
	// the websocket layer to broadcast session state.
	onStateChange func(id string, from, to domainSession.State)
}

func NewSessionService(accounts domainAccount.IAccountRepository, factory provider.Factory, mux *msgmux.Multiplexer, basePath string, timings machineTimings) *serviceSession {
	return &serviceSession{
		machines:   make(map[string]*sessionMachine),
		idMappings: make(map[string]string),
		accounts:   accounts,
		factory:    factory,
		mux:        mux,
		basePath:   basePath,
		timings:    timings,
	}
}

// SetStateChangeListener registers the transition broadcast hook. Must be
// called before sessions are created.
func (service *serviceSession) SetStateChangeListener(hook func(id string, from, to domainSession.State)) {
	service.onStateChange = hook
}

func (service *serviceSession) CreateSession(ctx context.Context, request domainSession.CreateSessionRequest) (domainSession.Session, error) {
	if err := validations.ValidateCreateSession(ctx, request); err != nil {
		return domainSession.Session{}, err
	}

	id := request.ID
	if id == "" {
		id = uuid.NewString()
	}

	service.mu.Lock()
	defer service.mu.Unlock()

	if _, exists := service.machines[id]; exists {
		return domainSession.Session{}, pkgError.DuplicateSessionError(fmt.Sprintf("session %s already exists", id))
	}
	if _, mapped := service.idMappings[id]; mapped {
		return domainSession.Session{}, pkgError.DuplicateSessionError(fmt.Sprintf("id %s belongs to a finalized session", id))
	}
	for _, m := range service.machines {
		if m.currentState() == domainSession.StateAuthenticating {
			return domainSession.Session{}, pkgError.AuthenticationInProgressError("another session is currently authenticating")
		}
	}

	storagePath := utils.SessionStoragePath(service.basePath, id)
	machine := newSessionMachine(id, request.Provider, storagePath, service.factory, service.timings)
	machine.onStateChange = service.handleStateChange
	service.machines[id] = machine

	logrus.WithFields(logrus.Fields{
		"session_id": id,
		"provider":   request.Provider,
	}).Info("[REGISTRY] Created session")
	return machine.snapshot(), nil
}

// handleStateChange runs on every accepted machine transition. Connected
// machines are registered with the multiplexer; departures are unregistered.
func (service *serviceSession) handleStateChange(id string, from, to domainSession.State) {
	switch to {
	case domainSession.StateConnected:
		service.mu.RLock()
		machine := service.machines[id]
		service.mu.RUnlock()
		if machine != nil {
			if client := machine.providerClient(); client != nil {
				service.mux.RegisterClient(id, client)
			}
		}
	case domainSession.StateDisconnected, domainSession.StateFailed:
		if from == domainSession.StateConnected {
			service.mux.UnregisterClient(id)
		}
	}

	if hook := service.onStateChange; hook != nil {
		hook(id, from, to)
	}
}

// resolve follows any finalized-id mapping and returns the live machine with
// its canonical id.
func (service *serviceSession) resolve(id string) (*sessionMachine, string, error) {
	service.mu.RLock()
	defer service.mu.RUnlock()

	canonical := id
	if mapped, ok := service.idMappings[id]; ok {
		canonical = mapped
	}
	machine, ok := service.machines[canonical]
	if !ok {
		return nil, "", pkgError.SessionNotFoundError(fmt.Sprintf("session %s not found", id))
	}
	return machine, canonical, nil
}

func (service *serviceSession) StartSession(ctx context.Context, id string) error {
	machine, _, err := service.resolve(id)
	if err != nil {
		return err
	}
	return machine.start(ctx)
}

func (service *serviceSession) GetSession(ctx context.Context, id string) (domainSession.Session, error) {
	machine, _, err := service.resolve(id)
	if err != nil {
		return domainSession.Session{}, err
	}
	return machine.snapshot(), nil
}

func (service *serviceSession) GetSessionQR(ctx context.Context, id string) (*domainSession.QRData, error) {
	machine, _, err := service.resolve(id)
	if err != nil {
		return nil, err
	}
	return machine.qrData(), nil
}

func (service *serviceSession) RetrySession(ctx context.Context, id string) error {
	machine, _, err := service.resolve(id)
	if err != nil {
		return err
	}
	return machine.retry(ctx)
}

func (service *serviceSession) DisconnectSession(ctx context.Context, id string) error {
	machine, canonical, err := service.resolve(id)
	if err != nil {
		return err
	}
	if err := machine.disconnect(ctx); err != nil {
		return err
	}
	if acctErr := service.accounts.SetAccountActiveStatus(ctx, canonical, false); acctErr != nil {
		logrus.WithError(acctErr).WithField("session_id", canonical).
			Debug("[REGISTRY] No account status to update on disconnect")
	}
	return nil
}

func (service *serviceSession) RemoveSession(ctx context.Context, id string) error {
	machine, canonical, err := service.resolve(id)
	if err != nil {
		return err
	}

	machine.destroy(ctx)
	service.mux.UnregisterClient(canonical)

	service.mu.Lock()
	delete(service.machines, canonical)
	for old, target := range service.idMappings {
		if target == canonical || old == canonical {
			delete(service.idMappings, old)
		}
	}
	service.mu.Unlock()

	if acctErr := service.accounts.DeleteAccountBySessionID(ctx, canonical); acctErr != nil {
		logrus.WithError(acctErr).WithField("session_id", canonical).
			Debug("[REGISTRY] No account record to delete")
	}
	if rmErr := os.RemoveAll(filepath.Join(service.basePath, "sessions", canonical)); rmErr != nil {
		logrus.WithError(rmErr).WithField("session_id", canonical).
			Warn("[REGISTRY] Could not remove session storage")
	}

	logrus.WithField("session_id", canonical).Info("[REGISTRY] Removed session")
	return nil
}

func (service *serviceSession) ListSessions(ctx context.Context) ([]domainSession.Session, error) {
	service.mu.RLock()
	machines := make([]*sessionMachine, 0, len(service.machines))
	for _, m := range service.machines {
		machines = append(machines, m)
	}
	service.mu.RUnlock()

	sessions := make([]domainSession.Session, 0, len(machines))
	for _, m := range machines {
		sessions = append(sessions, m.snapshot())
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

func (service *serviceSession) GetStats(ctx context.Context) (domainSession.Stats, error) {
	sessions, _ := service.ListSessions(ctx)

	stats := domainSession.Stats{
		Total:   len(sessions),
		ByState: make(map[domainSession.State]int),
	}
	for _, s := range sessions {
		stats.ByState[s.State]++
		if s.State == domainSession.StateConnected {
			stats.Connected++
		}
	}
	return stats, nil
}

// Cleanup evicts every session currently FAILED or DISCONNECTED.
func (service *serviceSession) Cleanup(ctx context.Context) (int, error) {
	sessions, _ := service.ListSessions(ctx)

	removed := 0
	for _, s := range sessions {
		if s.State != domainSession.StateFailed && s.State != domainSession.StateDisconnected {
			continue
		}
		if err := service.RemoveSession(ctx, s.ID); err == nil {
			removed++
		}
	}
	if removed > 0 {
		logrus.Infof("[REGISTRY] Cleanup evicted %d sessions", removed)
	}
	return removed, nil
}
