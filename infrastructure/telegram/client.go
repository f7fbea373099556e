package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-hub/domains/provider"
)

// tokenFile is where the operator drops the bot token inside the session's
// storage directory. Pairing a Telegram session means providing this token.
const tokenFile = "bot_token"

// Client adapts a go-telegram bot to the provider.Client contract. The bot
// runs in long-polling mode; its lifetime is bound to Connect/Kill.
type Client struct {
	mu          sync.Mutex
	storagePath string
	b           *bot.Bot
	self        *models.User
	connected   bool
	pollCancel  context.CancelFunc

	onMessage      func(provider.Message)
	onConnectivity func(provider.ConnectivityState)
	onPairing      func(provider.PairingPayload)
}

func NewClient(ctx context.Context, storagePath string) (*Client, error) {
	return &Client{storagePath: storagePath}, nil
}

func (c *Client) readToken() (string, error) {
	raw, err := os.ReadFile(filepath.Join(c.storagePath, tokenFile))
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("empty bot token")
	}
	return token, nil
}

// Connect builds the bot when a token is present and starts long polling.
// Without a token the session stays in pairing until one is provided.
func (c *Client) Connect(ctx context.Context) error {
	token, err := c.readToken()
	if err != nil {
		// No token yet: surface the pairing payload and wait for the
		// operator, mirroring the QR flow of other providers.
		c.emitPairing()
		return nil
	}

	b, err := bot.New(token, bot.WithDefaultHandler(c.handleUpdate))
	if err != nil {
		return fmt.Errorf("failed to build bot: %w", err)
	}

	self, err := b.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("bot token rejected: %w", err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.b = b
	c.self = self
	c.connected = true
	c.pollCancel = cancel
	c.mu.Unlock()

	go b.Start(pollCtx)

	logrus.WithField("bot", self.Username).Info("[TELEGRAM] Bot connected")
	c.announceConnected()
	return nil
}

// announceConnected reports the full pairing lifecycle for a bot that came up
// with a valid token. The pairing payload goes out first: consumers track
// sessions through the same pairing steps whether the token was provided
// interactively or was already on disk.
func (c *Client) announceConnected() {
	c.emitPairing()

	c.mu.Lock()
	onConnectivity := c.onConnectivity
	c.mu.Unlock()
	if onConnectivity != nil {
		onConnectivity(provider.ConnectivityAuthenticating)
		onConnectivity(provider.ConnectivityConnected)
	}
}

func (c *Client) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	c.mu.Lock()
	handler := c.onMessage
	self := c.self
	c.mu.Unlock()
	if handler == nil {
		return
	}

	msg := update.Message
	from := ""
	isSelf := false
	if msg.From != nil {
		from = fmt.Sprintf("%d", msg.From.ID)
		isSelf = self != nil && msg.From.ID == self.ID
	}

	msgType := "text"
	body := msg.Text
	switch {
	case len(msg.Photo) > 0:
		msgType = "image"
		body = msg.Caption
	case msg.Document != nil:
		msgType = "document"
		body = msg.Caption
	case msg.Voice != nil || msg.Audio != nil:
		msgType = "audio"
		body = msg.Caption
	case msg.Video != nil:
		msgType = "video"
		body = msg.Caption
	}

	handler(provider.Message{
		ID:        fmt.Sprintf("%d:%d", msg.Chat.ID, msg.ID),
		From:      from,
		Body:      body,
		Timestamp: time.Unix(int64(msg.Date), 0),
		Type:      msgType,
		IsSelf:    isSelf,
		IsGroup:   msg.Chat.Type == models.ChatTypeGroup || msg.Chat.Type == models.ChatTypeSupergroup,
	})
}

func (c *Client) emitPairing() {
	c.mu.Lock()
	handler := c.onPairing
	path := filepath.Join(c.storagePath, tokenFile)
	c.mu.Unlock()
	if handler != nil {
		handler(provider.PairingPayload{
			Data:     fmt.Sprintf("telegram-token:%s", path),
			IssuedAt: time.Now(),
		})
	}
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.stopPolling()
	c.mu.Lock()
	c.connected = false
	onConnectivity := c.onConnectivity
	c.mu.Unlock()
	if onConnectivity != nil {
		onConnectivity(provider.ConnectivityLoggedOut)
	}
	return nil
}

func (c *Client) Kill(ctx context.Context) error {
	c.stopPolling()
	c.mu.Lock()
	c.b = nil
	c.self = nil
	c.connected = false
	c.mu.Unlock()
	return nil
}

func (c *Client) stopPolling() {
	c.mu.Lock()
	cancel := c.pollCancel
	c.pollCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) SelfIdentity(ctx context.Context) (provider.SelfIdentity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.self == nil {
		return provider.SelfIdentity{}, fmt.Errorf("bot not connected")
	}
	return provider.SelfIdentity{
		PhoneNumber: fmt.Sprintf("%d", c.self.ID),
		DisplayName: c.self.FirstName,
		Username:    c.self.Username,
	}, nil
}

// RequestPairingPayload retries the token file: a valid token completes the
// pairing by connecting the bot.
func (c *Client) RequestPairingPayload(ctx context.Context) error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if connected {
		return nil
	}
	if _, err := c.readToken(); err == nil {
		return c.Connect(ctx)
	}
	c.emitPairing()
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
