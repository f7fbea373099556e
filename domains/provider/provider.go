package provider

import (
	"context"
	"time"
)

// Kind identifies which chat provider backs a client.
type Kind string

const (
	KindWhatsapp Kind = "WHATSAPP"
	KindTelegram Kind = "TELEGRAM"
)

// ConnectivityState is the coarse connection state reported by a provider.
type ConnectivityState string

const (
	ConnectivityAuthenticating ConnectivityState = "AUTHENTICATING"
	ConnectivityConnected      ConnectivityState = "CONNECTED"
	ConnectivityLoggedOut      ConnectivityState = "LOGGED_OUT"
)

// SelfIdentity is the provider-issued identity of the logged-in account.
// Any field may be empty; absence of identity is not an error.
type SelfIdentity struct {
	PhoneNumber  string `json:"phone_number,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	Username     string `json:"username,omitempty"`
	ContactCount int    `json:"contact_count,omitempty"`
	ChatCount    int    `json:"chat_count,omitempty"`
}

// PairingPayload is the short-lived credential a provider issues so an
// external device can authorize the session (a login QR code equivalent).
type PairingPayload struct {
	Data     string    `json:"data"`
	IssuedAt time.Time `json:"issued_at"`
}

// Message is a single inbound message as delivered by a provider client.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	IsSelf    bool      `json:"is_self"`
	IsGroup   bool      `json:"is_group"`
}

// Client is the opaque handle to a live provider connection. Implementations
// live under infrastructure/ and own the wire protocol; this core only drives
// the lifecycle and consumes events.
//
// Each On* subscription holds exactly one handler: registering again replaces
// the previous one. Handlers are invoked from provider goroutines and must
// not block.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// Kill forcibly releases the underlying handle. Idempotent.
	Kill(ctx context.Context) error

	IsConnected() bool
	SelfIdentity(ctx context.Context) (SelfIdentity, error)

	// RequestPairingPayload triggers (re)issuance of a pairing payload,
	// delivered through the OnPairingPayload subscription.
	RequestPairingPayload(ctx context.Context) error

	OnMessage(handler func(Message))
	OnConnectivityChange(handler func(ConnectivityState))
	OnPairingPayload(handler func(PairingPayload))
}

// HistorySyncer is optionally implemented by clients that can replay a short
// recent-message window after reconnection. Best-effort; callers ignore
// failures.
type HistorySyncer interface {
	SyncRecentHistory(ctx context.Context, since time.Time, chatLimit int) error
}

// Factory constructs a provider client of the given kind bound to an explicit
// storage path. No process-global state may be touched to scope storage.
type Factory func(ctx context.Context, kind Kind, storagePath string) (Client, error)
