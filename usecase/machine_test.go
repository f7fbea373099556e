package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AzielCF/az-hub/domains/provider"
	domainSession "github.com/AzielCF/az-hub/domains/session"
	pkgError "github.com/AzielCF/az-hub/pkg/error"
)

func newTestMachine(t *testing.T, factory *fakeClientFactory, timings machineTimings) *sessionMachine {
	t.Helper()
	return newSessionMachine("sess-1", provider.KindWhatsapp, t.TempDir(), factory.factory(), timings)
}

func waitForState(t *testing.T, m *sessionMachine, want domainSession.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.currentState() == want
	}, time.Second, 5*time.Millisecond, "expected state %s, got %s", want, m.currentState())
}

func TestMachineStartRequiresInit(t *testing.T) {
	factory := newFakeClientFactory()
	m := newTestMachine(t, factory, testTimings())
	ctx := context.Background()

	require.NoError(t, m.start(ctx))

	err := m.start(ctx)
	require.Error(t, err)
	assert.IsType(t, pkgError.InvalidStateError(""), err)
}

func TestMachineStartFailsWhenFactoryFails(t *testing.T) {
	factory := newFakeClientFactory()
	factory.buildErr = errors.New("no provider")
	m := newTestMachine(t, factory, testTimings())

	err := m.start(context.Background())
	require.Error(t, err)
	assert.IsType(t, pkgError.ProviderConnectionError(""), err)
	assert.Equal(t, domainSession.StateFailed, m.currentState())
}

func TestMachinePairingFlowEndToEnd(t *testing.T) {
	factory := newFakeClientFactory()
	m := newTestMachine(t, factory, testTimings())
	ctx := context.Background()

	require.NoError(t, m.start(ctx))
	client := factory.latest()
	require.NotNil(t, client)
	client.identity = provider.SelfIdentity{PhoneNumber: "5215550001", DisplayName: "Ops"}

	client.emitPairing("qr-payload-1")
	waitForState(t, m, domainSession.StateQRReady)

	qr := m.qrData()
	require.NotNil(t, qr)
	assert.Equal(t, "qr-payload-1", qr.Data)
	assert.True(t, qr.ExpiresAt.After(qr.GeneratedAt))

	client.emitConnectivity(provider.ConnectivityAuthenticating)
	waitForState(t, m, domainSession.StateAuthenticating)
	assert.Nil(t, m.qrData())

	client.emitConnectivity(provider.ConnectivityConnected)
	waitForState(t, m, domainSession.StateConnected)

	require.Eventually(t, func() bool {
		snap := m.snapshot()
		return snap.Metadata != nil && snap.ConnectedAt != nil
	}, time.Second, 5*time.Millisecond)

	snap := m.snapshot()
	assert.Nil(t, snap.QR)
	assert.Equal(t, "5215550001", snap.Metadata.PhoneNumber)
	assert.Equal(t, 0, snap.RetryCount)
}

func TestMachineStateHooksFireInTransitionOrder(t *testing.T) {
	factory := newFakeClientFactory()
	m := newTestMachine(t, factory, testTimings())
	ctx := context.Background()

	type change struct{ from, to domainSession.State }
	var mu sync.Mutex
	var got []change
	m.onStateChange = func(id string, from, to domainSession.State) {
		mu.Lock()
		got = append(got, change{from, to})
		mu.Unlock()
	}

	require.NoError(t, m.start(ctx))
	client := factory.latest()

	// The whole lifecycle arrives back-to-back, including a disconnect
	// right behind the connect.
	client.emitPairing("qr-1")
	client.emitConnectivity(provider.ConnectivityAuthenticating)
	client.emitConnectivity(provider.ConnectivityConnected)
	client.emitConnectivity(provider.ConnectivityLoggedOut)

	waitForState(t, m, domainSession.StateDisconnected)

	want := []change{
		{domainSession.StateInit, domainSession.StateQRReady},
		{domainSession.StateQRReady, domainSession.StateAuthenticating},
		{domainSession.StateAuthenticating, domainSession.StateConnected},
		{domainSession.StateConnected, domainSession.StateDisconnected},
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestMachineRejectsIllegalTransition(t *testing.T) {
	factory := newFakeClientFactory()
	m := newTestMachine(t, factory, testTimings())
	ctx := context.Background()

	require.NoError(t, m.start(ctx))
	client := factory.latest()
	client.emitPairing("qr-1")
	waitForState(t, m, domainSession.StateQRReady)

	// Connected straight from QR_READY is not in the transition table.
	client.emitConnectivity(provider.ConnectivityConnected)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domainSession.StateQRReady, m.currentState())
}

func TestMachinePairingTimeoutForcesFailed(t *testing.T) {
	timings := testTimings()
	timings.pairingTimeout = 60 * time.Millisecond
	factory := newFakeClientFactory()
	m := newTestMachine(t, factory, timings)

	require.NoError(t, m.start(context.Background()))
	factory.latest().emitPairing("qr-1")
	waitForState(t, m, domainSession.StateQRReady)

	waitForState(t, m, domainSession.StateFailed)
	assert.Nil(t, m.qrData())
}

func TestMachineTimeoutCoversAuthenticating(t *testing.T) {
	timings := testTimings()
	timings.pairingTimeout = 60 * time.Millisecond
	factory := newFakeClientFactory()
	m := newTestMachine(t, factory, timings)

	require.NoError(t, m.start(context.Background()))
	client := factory.latest()
	client.emitPairing("qr-1")
	waitForState(t, m, domainSession.StateQRReady)
	client.emitConnectivity(provider.ConnectivityAuthenticating)
	waitForState(t, m, domainSession.StateAuthenticating)

	waitForState(t, m, domainSession.StateFailed)
}

func TestMachineQRExpiryRerequestsExactlyOnce(t *testing.T) {
	timings := testTimings()
	timings.qrExpiry = 20 * time.Millisecond
	timings.qrRefresh = 10 * time.Second
	factory := newFakeClientFactory()
	m := newTestMachine(t, factory, timings)

	require.NoError(t, m.start(context.Background()))
	client := factory.latest()
	client.emitPairing("qr-1")
	waitForState(t, m, domainSession.StateQRReady)
	baseline := client.pairingRequestCount()

	time.Sleep(30 * time.Millisecond)

	assert.Nil(t, m.qrData())
	assert.Nil(t, m.qrData())
	assert.Nil(t, m.qrData())

	require.Eventually(t, func() bool {
		return client.pairingRequestCount() == baseline+1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, baseline+1, client.pairingRequestCount())
}

func TestMachineQRRefreshTimerRerequests(t *testing.T) {
	timings := testTimings()
	timings.qrRefresh = 20 * time.Millisecond
	factory := newFakeClientFactory()
	m := newTestMachine(t, factory, timings)

	require.NoError(t, m.start(context.Background()))
	client := factory.latest()
	client.emitPairing("qr-1")
	waitForState(t, m, domainSession.StateQRReady)
	baseline := client.pairingRequestCount()

	require.Eventually(t, func() bool {
		return client.pairingRequestCount() >= baseline+2
	}, time.Second, 5*time.Millisecond)
}

func TestMachineDisconnectIsBestEffort(t *testing.T) {
	factory := newFakeClientFactory()
	factory.configure = func(c *fakeClient) {
		c.disconnectErr = errors.New("logout refused")
	}
	m := newTestMachine(t, factory, testTimings())
	ctx := context.Background()

	require.NoError(t, m.start(ctx))
	client := factory.latest()
	client.emitPairing("qr-1")
	waitForState(t, m, domainSession.StateQRReady)

	require.NoError(t, m.disconnect(ctx))
	assert.Equal(t, domainSession.StateDisconnected, m.currentState())
}

func TestMachineRetryResetsToInit(t *testing.T) {
	timings := testTimings()
	timings.pairingTimeout = 40 * time.Millisecond
	factory := newFakeClientFactory()
	m := newTestMachine(t, factory, timings)
	ctx := context.Background()

	require.NoError(t, m.start(ctx))
	client := factory.latest()
	client.emitPairing("qr-1")
	waitForState(t, m, domainSession.StateFailed)

	require.NoError(t, m.retry(ctx))
	assert.Equal(t, domainSession.StateInit, m.currentState())
	snap := m.snapshot()
	assert.Nil(t, snap.QR)
	assert.Equal(t, 1, snap.RetryCount)

	client.mu.Lock()
	killed := client.killed
	client.mu.Unlock()
	assert.True(t, killed)

	// The machine is startable again after a retry.
	require.NoError(t, m.start(ctx))
	assert.Equal(t, 2, factory.buildCount())
}

func TestMachineRetryCountAccumulatesUntilConnected(t *testing.T) {
	timings := testTimings()
	timings.pairingTimeout = 40 * time.Millisecond
	factory := newFakeClientFactory()
	m := newTestMachine(t, factory, timings)
	ctx := context.Background()

	for attempt := 1; attempt <= 2; attempt++ {
		require.NoError(t, m.start(ctx))
		factory.latest().emitPairing("qr-1")
		waitForState(t, m, domainSession.StateFailed)
		require.NoError(t, m.retry(ctx))
		assert.Equal(t, attempt, m.snapshot().RetryCount)
	}

	// A successful connection clears the counter.
	require.NoError(t, m.start(ctx))
	client := factory.latest()
	client.emitPairing("qr-1")
	waitForState(t, m, domainSession.StateQRReady)
	client.emitConnectivity(provider.ConnectivityAuthenticating)
	client.emitConnectivity(provider.ConnectivityConnected)
	waitForState(t, m, domainSession.StateConnected)
	assert.Equal(t, 0, m.snapshot().RetryCount)
}

func TestMachineRetryOnlyFromFailed(t *testing.T) {
	factory := newFakeClientFactory()
	m := newTestMachine(t, factory, testTimings())

	err := m.retry(context.Background())
	require.Error(t, err)
	assert.IsType(t, pkgError.InvalidStateError(""), err)
}

func TestMachineDestroyIsIdempotent(t *testing.T) {
	factory := newFakeClientFactory()
	m := newTestMachine(t, factory, testTimings())
	ctx := context.Background()

	require.NoError(t, m.start(ctx))
	client := factory.latest()
	client.emitPairing("qr-1")
	waitForState(t, m, domainSession.StateQRReady)

	assert.NotPanics(t, func() {
		m.destroy(ctx)
		m.destroy(ctx)
	})

	client.mu.Lock()
	killed := client.killed
	client.mu.Unlock()
	assert.True(t, killed)
	assert.Equal(t, domainSession.StateDisconnected, m.currentState())
}
