package whatsapp

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/AzielCF/az-hub/config"
	"github.com/AzielCF/az-hub/domains/provider"
)

// Client adapts a whatsmeow connection to the provider.Client contract. Each
// client owns its own sqlstore container rooted in the session's storage
// directory; no global state scopes storage.
type Client struct {
	mu        sync.Mutex
	container *sqlstore.Container
	cli       *whatsmeow.Client

	onMessage      func(provider.Message)
	onConnectivity func(provider.ConnectivityState)
	onPairing      func(provider.PairingPayload)

	pairingCancel context.CancelFunc
	lastCode      string
}

// NewClient opens the device store under storagePath and builds the
// whatsmeow client around its first (or fresh) device.
func NewClient(ctx context.Context, storagePath string) (*Client, error) {
	dbURI := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", filepath.Join(storagePath, "session.db"))
	container, err := sqlstore.New(ctx, "sqlite3", dbURI, waLog.Stdout("Database", config.WhatsappLogLevel, true))
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("failed to load device: %w", err)
	}

	cli := whatsmeow.NewClient(device, waLog.Stdout("Client", config.WhatsappLogLevel, true))
	cli.EnableAutoReconnect = true
	cli.AutoTrustIdentity = true

	client := &Client{container: container, cli: cli}
	cli.AddEventHandler(client.handleEvent)
	return client, nil
}

func (c *Client) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		c.dispatchMessage(evt)
	case *events.PairSuccess:
		c.emitConnectivity(provider.ConnectivityAuthenticating)
	case *events.Connected:
		c.emitConnectivity(provider.ConnectivityConnected)
	case *events.LoggedOut:
		c.emitConnectivity(provider.ConnectivityLoggedOut)
	case *events.StreamReplaced:
		logrus.Warn("[WHATSAPP] Stream replaced by another connection")
		c.emitConnectivity(provider.ConnectivityLoggedOut)
	}
}

func (c *Client) dispatchMessage(evt *events.Message) {
	c.mu.Lock()
	handler := c.onMessage
	c.mu.Unlock()
	if handler == nil {
		return
	}

	body := evt.Message.GetConversation()
	msgType := "text"
	switch {
	case evt.Message.GetExtendedTextMessage() != nil:
		body = evt.Message.GetExtendedTextMessage().GetText()
	case evt.Message.GetImageMessage() != nil:
		msgType = "image"
		body = evt.Message.GetImageMessage().GetCaption()
	case evt.Message.GetVideoMessage() != nil:
		msgType = "video"
		body = evt.Message.GetVideoMessage().GetCaption()
	case evt.Message.GetAudioMessage() != nil:
		msgType = "audio"
	case evt.Message.GetDocumentMessage() != nil:
		msgType = "document"
		body = evt.Message.GetDocumentMessage().GetCaption()
	}

	handler(provider.Message{
		ID:        evt.Info.ID,
		From:      evt.Info.Sender.ToNonAD().String(),
		Body:      body,
		Timestamp: evt.Info.Timestamp,
		Type:      msgType,
		IsSelf:    evt.Info.IsFromMe,
		IsGroup:   evt.Info.IsGroup,
	})
}

func (c *Client) emitConnectivity(state provider.ConnectivityState) {
	c.mu.Lock()
	handler := c.onConnectivity
	c.mu.Unlock()
	if handler != nil {
		handler(state)
	}
}

func (c *Client) emitPairing(code string) {
	c.mu.Lock()
	c.lastCode = code
	handler := c.onPairing
	c.mu.Unlock()
	if handler != nil {
		handler(provider.PairingPayload{Data: code, IssuedAt: time.Now()})
	}
}

// Connect dials the socket. For devices without a stored identity the QR
// channel is consumed first so pairing codes reach the subscriber.
func (c *Client) Connect(ctx context.Context) error {
	if c.cli.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err := c.cli.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			if err != whatsmeow.ErrQRStoreContainsID {
				return fmt.Errorf("failed to open QR channel: %w", err)
			}
		} else {
			c.mu.Lock()
			c.pairingCancel = cancel
			c.mu.Unlock()
			go func() {
				for item := range qrChan {
					if item.Event == "code" {
						c.emitPairing(item.Code)
					}
				}
			}()
		}
	}

	if err := c.cli.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// Disconnect logs the device out when possible, else just drops the socket.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.cli.IsLoggedIn() {
		if err := c.cli.Logout(ctx); err != nil {
			c.cli.Disconnect()
			return fmt.Errorf("logout failed: %w", err)
		}
		return nil
	}
	c.cli.Disconnect()
	return nil
}

// Kill drops the connection and closes the device store. Idempotent.
func (c *Client) Kill(ctx context.Context) error {
	c.mu.Lock()
	if c.pairingCancel != nil {
		c.pairingCancel()
		c.pairingCancel = nil
	}
	container := c.container
	c.container = nil
	c.mu.Unlock()

	c.cli.Disconnect()
	if container != nil {
		if err := container.Close(); err != nil {
			return fmt.Errorf("failed to close device store: %w", err)
		}
	}
	return nil
}

func (c *Client) IsConnected() bool {
	return c.cli.IsConnected() && c.cli.IsLoggedIn()
}

func (c *Client) SelfIdentity(ctx context.Context) (provider.SelfIdentity, error) {
	if c.cli.Store.ID == nil {
		return provider.SelfIdentity{}, fmt.Errorf("device has no stored identity")
	}
	return provider.SelfIdentity{
		PhoneNumber: c.cli.Store.ID.User,
		DisplayName: c.cli.Store.PushName,
	}, nil
}

// RequestPairingPayload re-emits the latest QR code. Fresh codes keep
// arriving on the QR channel on the provider's own schedule.
func (c *Client) RequestPairingPayload(ctx context.Context) error {
	c.mu.Lock()
	code := c.lastCode
	c.mu.Unlock()
	if code != "" {
		c.emitPairing(code)
	}
	return nil
}

func (c *Client) OnMessage(handler func(provider.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

func (c *Client) OnConnectivityChange(handler func(provider.ConnectivityState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectivity = handler
}

func (c *Client) OnPairingPayload(handler func(provider.PairingPayload)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPairing = handler
}

// SyncRecentHistory asks the phone for a bounded slice of recent messages.
// Best-effort: the server replies asynchronously via history sync events.
func (c *Client) SyncRecentHistory(ctx context.Context, since time.Time, chatLimit int) error {
	if !c.cli.IsLoggedIn() {
		return fmt.Errorf("not logged in")
	}
	msg := c.cli.BuildHistorySyncRequest(nil, chatLimit*50)
	_, err := c.cli.SendMessage(ctx, c.cli.Store.ID.ToNonAD(), msg, whatsmeow.SendRequestExtra{Peer: true})
	if err != nil {
		return fmt.Errorf("history sync request failed: %w", err)
	}
	logrus.WithField("since", since.Format(time.RFC3339)).
		Debug("[WHATSAPP] Requested recent history sync")
	return nil
}
