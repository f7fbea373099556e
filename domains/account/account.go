package account

import (
	"context"
	"time"

	"github.com/AzielCF/az-hub/domains/provider"
)

type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusDisconnected Status = "DISCONNECTED"
)

// Account is a finalized session persisted in durable storage, keyed by the
// provider-issued stable identity.
type Account struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	Provider    provider.Kind `json:"provider"`
	DisplayName string        `json:"display_name,omitempty"`
	Description string        `json:"description,omitempty"`
	PhoneNumber string        `json:"phone_number,omitempty"`
	StoragePath string        `json:"storage_path"`
	WorkspaceID string        `json:"workspace_id,omitempty"`
	BrandID     string        `json:"brand_id,omitempty"`
	Status      Status        `json:"status"`
	IsActive    bool          `json:"is_active"`
	CreatedBy   string        `json:"created_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type CreateAccountRequest struct {
	ID          string
	SessionID   string
	Provider    provider.Kind
	DisplayName string
	Description string
	PhoneNumber string
	StoragePath string
	WorkspaceID string
	BrandID     string
	Status      Status
	IsActive    bool
	CreatedBy   string
}

// IAccountRepository is the durable account storage consumed by the registry
// and the reconnection optimizer.
type IAccountRepository interface {
	CreateAccount(ctx context.Context, request CreateAccountRequest) (Account, error)
	GetAccountByID(ctx context.Context, id string) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	DeleteAccountBySessionID(ctx context.Context, sessionID string) error
	SetAccountActiveStatus(ctx context.Context, id string, active bool) error
	UpdateAccountInfoBySessionID(ctx context.Context, sessionID, displayName, description string) error
	UpdateStoragePath(ctx context.Context, id, storagePath string) error
}
