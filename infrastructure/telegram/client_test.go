package telegram

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AzielCF/az-hub/domains/provider"
)

func TestConnectWithoutTokenStaysPairing(t *testing.T) {
	dir := t.TempDir()
	c, err := NewClient(context.Background(), dir)
	require.NoError(t, err)

	var payloads []provider.PairingPayload
	c.OnPairingPayload(func(p provider.PairingPayload) { payloads = append(payloads, p) })
	var connectivity []provider.ConnectivityState
	c.OnConnectivityChange(func(s provider.ConnectivityState) { connectivity = append(connectivity, s) })

	require.NoError(t, c.Connect(context.Background()))

	assert.False(t, c.IsConnected())
	require.Len(t, payloads, 1)
	assert.Equal(t, "telegram-token:"+filepath.Join(dir, tokenFile), payloads[0].Data)
	assert.Empty(t, connectivity)
}

func TestAnnounceConnectedEmitsPairingBeforeConnectivity(t *testing.T) {
	c := &Client{storagePath: t.TempDir()}

	// A token that is already on disk must not shortcut the lifecycle:
	// the pairing payload has to reach consumers before any connectivity
	// state, so sessions tracking the pairing steps accept the sequence.
	var order []string
	c.OnPairingPayload(func(p provider.PairingPayload) {
		order = append(order, "pairing")
	})
	c.OnConnectivityChange(func(s provider.ConnectivityState) {
		order = append(order, string(s))
	})

	c.announceConnected()

	assert.Equal(t, []string{
		"pairing",
		string(provider.ConnectivityAuthenticating),
		string(provider.ConnectivityConnected),
	}, order)
}

func TestRequestPairingPayloadReEmitsWithoutToken(t *testing.T) {
	dir := t.TempDir()
	c, err := NewClient(context.Background(), dir)
	require.NoError(t, err)

	var payloads []provider.PairingPayload
	c.OnPairingPayload(func(p provider.PairingPayload) { payloads = append(payloads, p) })

	require.NoError(t, c.RequestPairingPayload(context.Background()))
	require.NoError(t, c.RequestPairingPayload(context.Background()))

	require.Len(t, payloads, 2)
	assert.Equal(t, payloads[0].Data, payloads[1].Data)
}
