package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AzielCF/az-hub/domains/provider"
	domainSession "github.com/AzielCF/az-hub/domains/session"
	pkgError "github.com/AzielCF/az-hub/pkg/error"
	"github.com/AzielCF/az-hub/pkg/msgmux"
)

type registryFixture struct {
	service *serviceSession
	factory *fakeClientFactory
	repo    *fakeAccountRepo
	mux     *msgmux.Multiplexer
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	factory := newFakeClientFactory()
	repo := newFakeAccountRepo()
	mux := msgmux.NewMultiplexer()
	service := NewSessionService(repo, factory.factory(), mux, t.TempDir(), testTimings())
	return &registryFixture{service: service, factory: factory, repo: repo, mux: mux}
}

// pairTo drives the session through the pairing flow up to the given state.
func (f *registryFixture) pairTo(t *testing.T, id string, target domainSession.State) *fakeClient {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.service.StartSession(ctx, id))

	client := f.factory.latest()
	require.NotNil(t, client)
	client.emitPairing("qr-" + id)

	states := []domainSession.State{
		domainSession.StateQRReady,
		domainSession.StateAuthenticating,
		domainSession.StateConnected,
	}
	signals := map[domainSession.State]provider.ConnectivityState{
		domainSession.StateAuthenticating: provider.ConnectivityAuthenticating,
		domainSession.StateConnected:      provider.ConnectivityConnected,
	}
	for _, state := range states {
		if signal, ok := signals[state]; ok {
			client.emitConnectivity(signal)
		}
		require.Eventually(t, func() bool {
			session, err := f.service.GetSession(ctx, id)
			return err == nil && session.State == state
		}, time.Second, 5*time.Millisecond, "never reached %s", state)
		if state == target {
			break
		}
	}
	return client
}

func TestCreateSessionGeneratesID(t *testing.T) {
	f := newRegistryFixture(t)

	session, err := f.service.CreateSession(context.Background(), domainSession.CreateSessionRequest{Provider: provider.KindWhatsapp})
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, domainSession.StateInit, session.State)
}

func TestCreateSessionRejectsUnknownProvider(t *testing.T) {
	f := newRegistryFixture(t)

	_, err := f.service.CreateSession(context.Background(), domainSession.CreateSessionRequest{Provider: "CARRIER_PIGEON"})
	require.Error(t, err)
	assert.IsType(t, pkgError.ValidationError(""), err)
}

func TestCreateSessionDuplicateID(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, domainSession.CreateSessionRequest{ID: "sess-1", Provider: provider.KindWhatsapp})
	require.NoError(t, err)

	_, err = f.service.CreateSession(ctx, domainSession.CreateSessionRequest{ID: "sess-1", Provider: provider.KindTelegram})
	require.Error(t, err)
	assert.IsType(t, pkgError.DuplicateSessionError(""), err)
}

func TestCreateSessionSingleAuthenticatorPolicy(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, domainSession.CreateSessionRequest{ID: "sess-1", Provider: provider.KindWhatsapp})
	require.NoError(t, err)
	f.pairTo(t, "sess-1", domainSession.StateAuthenticating)

	_, err = f.service.CreateSession(ctx, domainSession.CreateSessionRequest{ID: "sess-2", Provider: provider.KindWhatsapp})
	require.Error(t, err)
	assert.IsType(t, pkgError.AuthenticationInProgressError(""), err)
}

func TestGetSessionQRNullUnlessQRReady(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, domainSession.CreateSessionRequest{ID: "sess-1", Provider: provider.KindWhatsapp})
	require.NoError(t, err)

	qr, err := f.service.GetSessionQR(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, qr)

	f.pairTo(t, "sess-1", domainSession.StateQRReady)
	qr, err = f.service.GetSessionQR(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, qr)
	assert.Equal(t, "qr-sess-1", qr.Data)
}

func TestSessionOperationsOnUnknownID(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	assertNotFound := func(err error) {
		t.Helper()
		require.Error(t, err)
		assert.IsType(t, pkgError.SessionNotFoundError(""), err)
	}

	assertNotFound(f.service.StartSession(ctx, "ghost"))
	_, err := f.service.GetSession(ctx, "ghost")
	assertNotFound(err)
	_, err = f.service.GetSessionQR(ctx, "ghost")
	assertNotFound(err)
	assertNotFound(f.service.RetrySession(ctx, "ghost"))
	_, err = f.service.FinalizeSession(ctx, "ghost")
	assertNotFound(err)
	assertNotFound(f.service.RemoveSession(ctx, "ghost"))
}

func TestRetrySessionOnlyFromFailed(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, domainSession.CreateSessionRequest{ID: "sess-1", Provider: provider.KindWhatsapp})
	require.NoError(t, err)

	err = f.service.RetrySession(ctx, "sess-1")
	require.Error(t, err)
	assert.IsType(t, pkgError.InvalidStateError(""), err)
}

func TestFinalizeRequiresConnected(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, domainSession.CreateSessionRequest{ID: "sess-1", Provider: provider.KindWhatsapp})
	require.NoError(t, err)
	f.pairTo(t, "sess-1", domainSession.StateQRReady)

	_, err = f.service.FinalizeSession(ctx, "sess-1")
	require.Error(t, err)
	assert.IsType(t, pkgError.SessionNotConnectedError(""), err)
}

func TestConnectedSessionRegistersWithMultiplexer(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, domainSession.CreateSessionRequest{ID: "sess-1", Provider: provider.KindWhatsapp})
	require.NoError(t, err)
	f.pairTo(t, "sess-1", domainSession.StateConnected)

	require.Eventually(t, func() bool {
		return f.mux.HasListener("sess-1")
	}, time.Second, 5*time.Millisecond)
}

func TestDisconnectUnregistersFromMultiplexer(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, domainSession.CreateSessionRequest{ID: "sess-1", Provider: provider.KindWhatsapp})
	require.NoError(t, err)
	f.pairTo(t, "sess-1", domainSession.StateConnected)
	require.Eventually(t, func() bool {
		return f.mux.HasListener("sess-1")
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.service.DisconnectSession(ctx, "sess-1"))
	require.Eventually(t, func() bool {
		return !f.mux.HasListener("sess-1")
	}, time.Second, 5*time.Millisecond)
}

func TestRapidDisconnectLeavesNoStaleListener(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, domainSession.CreateSessionRequest{ID: "sess-1", Provider: provider.KindWhatsapp})
	require.NoError(t, err)
	require.NoError(t, f.service.StartSession(ctx, "sess-1"))
	client := f.factory.latest()
	require.NotNil(t, client)

	// The connection drops right behind the connect; the multiplexer
	// registration must never land after the unregistration.
	client.emitPairing("qr-sess-1")
	client.emitConnectivity(provider.ConnectivityAuthenticating)
	client.emitConnectivity(provider.ConnectivityConnected)
	client.emitConnectivity(provider.ConnectivityLoggedOut)

	require.Eventually(t, func() bool {
		session, err := f.service.GetSession(ctx, "sess-1")
		return err == nil && session.State == domainSession.StateDisconnected
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return !f.mux.HasListener("sess-1")
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, f.mux.HasListener("sess-1"))
}

func TestRemoveSessionEvictsEverything(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, domainSession.CreateSessionRequest{ID: "sess-1", Provider: provider.KindWhatsapp})
	require.NoError(t, err)
	f.pairTo(t, "sess-1", domainSession.StateConnected)

	require.NoError(t, f.service.RemoveSession(ctx, "sess-1"))

	_, err = f.service.GetSession(ctx, "sess-1")
	assert.IsType(t, pkgError.SessionNotFoundError(""), err)
	assert.False(t, f.mux.HasListener("sess-1"))
}

func TestStatsCountByState(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	for _, id := range []string{"sess-1", "sess-2", "sess-3"} {
		_, err := f.service.CreateSession(ctx, domainSession.CreateSessionRequest{ID: id, Provider: provider.KindWhatsapp})
		require.NoError(t, err)
	}
	f.pairTo(t, "sess-1", domainSession.StateConnected)

	stats, err := f.service.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Connected)
	assert.Equal(t, 1, stats.ByState[domainSession.StateConnected])
	assert.Equal(t, 2, stats.ByState[domainSession.StateInit])
}

func TestCleanupEvictsTerminalSessions(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	for _, id := range []string{"sess-1", "sess-2"} {
		_, err := f.service.CreateSession(ctx, domainSession.CreateSessionRequest{ID: id, Provider: provider.KindWhatsapp})
		require.NoError(t, err)
	}
	f.pairTo(t, "sess-1", domainSession.StateConnected)
	require.NoError(t, f.service.DisconnectSession(ctx, "sess-1"))

	removed, err := f.service.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	sessions, err := f.service.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-2", sessions[0].ID)
}

func TestStateChangeListenerReceivesTransitions(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	type change struct{ from, to domainSession.State }
	changes := make(chan change, 16)
	f.service.SetStateChangeListener(func(id string, from, to domainSession.State) {
		changes <- change{from, to}
	})

	_, err := f.service.CreateSession(ctx, domainSession.CreateSessionRequest{ID: "sess-1", Provider: provider.KindWhatsapp})
	require.NoError(t, err)
	f.pairTo(t, "sess-1", domainSession.StateQRReady)

	select {
	case got := <-changes:
		assert.Equal(t, domainSession.StateInit, got.from)
		assert.Equal(t, domainSession.StateQRReady, got.to)
	case <-time.After(time.Second):
		t.Fatal("no state change delivered")
	}
}
