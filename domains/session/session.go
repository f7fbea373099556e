package session

import (
	"context"
	"time"

	"github.com/AzielCF/az-hub/domains/provider"
)

// State is one of the six lifecycle states of a session.
type State string

const (
	StateInit           State = "INIT"
	StateQRReady        State = "QR_READY"
	StateAuthenticating State = "AUTHENTICATING"
	StateConnected      State = "CONNECTED"
	StateDisconnected   State = "DISCONNECTED"
	StateFailed         State = "FAILED"
)

// Transitions is the legal transition table. Anything not listed here is
// rejected with state unchanged.
var Transitions = map[State][]State{
	StateInit:           {StateQRReady, StateFailed},
	StateQRReady:        {StateAuthenticating, StateFailed, StateDisconnected},
	StateAuthenticating: {StateConnected, StateFailed, StateDisconnected},
	StateConnected:      {StateDisconnected},
	StateFailed:         {StateQRReady, StateDisconnected},
	StateDisconnected:   {StateQRReady, StateFailed},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, allowed := range Transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// QRData is the pairing payload currently offered to the operator, present
// only while the session is pairing.
type QRData struct {
	Data        string    `json:"data"`
	GeneratedAt time.Time `json:"generated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the payload is past its lifetime.
func (q QRData) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// Metadata is provider identity information, populated once connected.
type Metadata struct {
	PhoneNumber  string `json:"phone_number,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	ContactCount int    `json:"contact_count,omitempty"`
	ChatCount    int    `json:"chat_count,omitempty"`
}

// Session is the externally visible snapshot of one account-in-progress.
type Session struct {
	ID             string        `json:"id"`
	Provider       provider.Kind `json:"provider"`
	State          State         `json:"state"`
	QR             *QRData       `json:"qr,omitempty"`
	Metadata       *Metadata     `json:"metadata,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	ConnectedAt    *time.Time    `json:"connected_at,omitempty"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	RetryCount     int           `json:"retry_count"`
}

// Stats is the aggregate view over all registered sessions.
type Stats struct {
	Total     int           `json:"total"`
	Connected int           `json:"connected"`
	ByState   map[State]int `json:"by_state"`
}

type CreateSessionRequest struct {
	ID       string        `json:"id" form:"id"`
	Provider provider.Kind `json:"provider" form:"provider"`
}

// ISessionUsecase is the session registry: it creates, looks up, supervises
// and destroys session state machines, and enforces the single concurrent
// pairing policy.
type ISessionUsecase interface {
	CreateSession(ctx context.Context, request CreateSessionRequest) (Session, error)
	StartSession(ctx context.Context, id string) error
	GetSession(ctx context.Context, id string) (Session, error)
	GetSessionQR(ctx context.Context, id string) (*QRData, error)
	RetrySession(ctx context.Context, id string) error
	// FinalizeSession persists the connected session as a durable account and
	// returns its stable account id.
	FinalizeSession(ctx context.Context, id string) (string, error)
	DisconnectSession(ctx context.Context, id string) error
	RemoveSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]Session, error)
	GetStats(ctx context.Context) (Stats, error)
	// Cleanup removes every session currently FAILED or DISCONNECTED and
	// returns how many were evicted.
	Cleanup(ctx context.Context) (int, error)
}
