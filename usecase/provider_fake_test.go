package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	domainAccount "github.com/AzielCF/az-hub/domains/account"
	"github.com/AzielCF/az-hub/domains/provider"
)

// fakeClient is a scriptable provider.Client used across the usecase tests.
type fakeClient struct {
	mu sync.Mutex

	connected        bool
	stayDisconnected bool
	connectErr       error
	disconnectErr    error
	killed           bool

	identity    provider.SelfIdentity
	identityErr error

	onMessage      func(provider.Message)
	onConnectivity func(provider.ConnectivityState)
	onPairing      func(provider.PairingPayload)

	pairingRequests int32
	historySyncs    int32
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	if !c.stayDisconnected {
		c.connected = true
	}
	return nil
}

func (c *fakeClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return c.disconnectErr
}

func (c *fakeClient) Kill(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.killed = true
	return nil
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) SelfIdentity(ctx context.Context) (provider.SelfIdentity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity, c.identityErr
}

func (c *fakeClient) RequestPairingPayload(ctx context.Context) error {
	atomic.AddInt32(&c.pairingRequests, 1)
	return nil
}

func (c *fakeClient) OnMessage(handler func(provider.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

func (c *fakeClient) OnConnectivityChange(handler func(provider.ConnectivityState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectivity = handler
}

func (c *fakeClient) OnPairingPayload(handler func(provider.PairingPayload)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPairing = handler
}

func (c *fakeClient) SyncRecentHistory(ctx context.Context, since time.Time, chatLimit int) error {
	atomic.AddInt32(&c.historySyncs, 1)
	return nil
}

func (c *fakeClient) emitConnectivity(state provider.ConnectivityState) {
	c.mu.Lock()
	handler := c.onConnectivity
	if state == provider.ConnectivityConnected {
		c.connected = true
	}
	c.mu.Unlock()
	if handler != nil {
		handler(state)
	}
}

func (c *fakeClient) emitPairing(data string) {
	c.mu.Lock()
	handler := c.onPairing
	c.mu.Unlock()
	if handler != nil {
		handler(provider.PairingPayload{Data: data, IssuedAt: time.Now()})
	}
}

func (c *fakeClient) emitMessage(msg provider.Message) {
	c.mu.Lock()
	handler := c.onMessage
	c.mu.Unlock()
	if handler != nil {
		handler(msg)
	}
}

func (c *fakeClient) pairingRequestCount() int32 {
	return atomic.LoadInt32(&c.pairingRequests)
}

// fakeClientFactory builds fakeClients and remembers them by storage path.
type fakeClientFactory struct {
	mu       sync.Mutex
	clients  []*fakeClient
	byPath   map[string]*fakeClient
	buildErr error
	// configure, when set, customizes each freshly built client.
	configure func(c *fakeClient)
}

func newFakeClientFactory() *fakeClientFactory {
	return &fakeClientFactory{byPath: make(map[string]*fakeClient)}
}

func (f *fakeClientFactory) factory() provider.Factory {
	return func(ctx context.Context, kind provider.Kind, storagePath string) (provider.Client, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.buildErr != nil {
			return nil, f.buildErr
		}
		client := &fakeClient{}
		if f.configure != nil {
			f.configure(client)
		}
		f.clients = append(f.clients, client)
		f.byPath[storagePath] = client
		return client, nil
	}
}

func (f *fakeClientFactory) latest() *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

func (f *fakeClientFactory) builtForPath(storagePath string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byPath[storagePath]
	return ok
}

func (f *fakeClientFactory) buildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// fakeAccountRepo is an in-memory domainAccount.IAccountRepository.
type fakeAccountRepo struct {
	mu        sync.Mutex
	accounts  map[string]domainAccount.Account
	createErr error
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[string]domainAccount.Account)}
}

func (r *fakeAccountRepo) CreateAccount(ctx context.Context, request domainAccount.CreateAccountRequest) (domainAccount.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return domainAccount.Account{}, r.createErr
	}
	now := time.Now()
	acct := domainAccount.Account{
		ID:          request.ID,
		SessionID:   request.SessionID,
		Provider:    request.Provider,
		DisplayName: request.DisplayName,
		Description: request.Description,
		PhoneNumber: request.PhoneNumber,
		StoragePath: request.StoragePath,
		WorkspaceID: request.WorkspaceID,
		BrandID:     request.BrandID,
		Status:      request.Status,
		IsActive:    request.IsActive,
		CreatedBy:   request.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.accounts[acct.ID] = acct
	return acct, nil
}

func (r *fakeAccountRepo) GetAccountByID(ctx context.Context, id string) (domainAccount.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[id]
	if !ok {
		return domainAccount.Account{}, errors.New("account not found")
	}
	return acct, nil
}

func (r *fakeAccountRepo) ListAccounts(ctx context.Context) ([]domainAccount.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domainAccount.Account, 0, len(r.accounts))
	for _, acct := range r.accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeAccountRepo) DeleteAccountBySessionID(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, acct := range r.accounts {
		if acct.SessionID == sessionID || id == sessionID {
			delete(r.accounts, id)
			return nil
		}
	}
	return errors.New("account not found")
}

func (r *fakeAccountRepo) SetAccountActiveStatus(ctx context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[id]
	if !ok {
		return errors.New("account not found")
	}
	acct.IsActive = active
	if active {
		acct.Status = domainAccount.StatusActive
	} else {
		acct.Status = domainAccount.StatusDisconnected
	}
	r.accounts[id] = acct
	return nil
}

func (r *fakeAccountRepo) UpdateAccountInfoBySessionID(ctx context.Context, sessionID, displayName, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, acct := range r.accounts {
		if acct.SessionID == sessionID {
			acct.DisplayName = displayName
			acct.Description = description
			r.accounts[id] = acct
			return nil
		}
	}
	return errors.New("account not found")
}

func (r *fakeAccountRepo) UpdateStoragePath(ctx context.Context, id, storagePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[id]
	if !ok {
		return errors.New("account not found")
	}
	acct.StoragePath = storagePath
	r.accounts[id] = acct
	return nil
}

func (r *fakeAccountRepo) seed(n int, kind provider.Kind, basePathSeed func(id string)) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("acct-%02d", i)
		r.accounts[id] = domainAccount.Account{
			ID:       id,
			Provider: kind,
			Status:   domainAccount.StatusActive,
			IsActive: true,
		}
		ids = append(ids, id)
	}
	if basePathSeed != nil {
		for _, id := range ids {
			basePathSeed(id)
		}
	}
	return ids
}

func testTimings() machineTimings {
	return machineTimings{
		qrExpiry:       100 * time.Millisecond,
		qrRefresh:      40 * time.Millisecond,
		pairingTimeout: 250 * time.Millisecond,
	}
}
