package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	domainAccount "github.com/AzielCF/az-hub/domains/account"
	"github.com/AzielCF/az-hub/domains/provider"
)

// --- Persistence Model ---

type accountModel struct {
	ID          string         `gorm:"primaryKey;column:id"`
	SessionID   string         `gorm:"column:session_id;not null;index"`
	Provider    string         `gorm:"column:provider;not null"`
	DisplayName sql.NullString `gorm:"column:display_name"`
	Description sql.NullString `gorm:"column:description"`
	PhoneNumber sql.NullString `gorm:"column:phone_number;index"`
	StoragePath string         `gorm:"column:storage_path;not null"`
	WorkspaceID sql.NullString `gorm:"column:workspace_id;index"`
	BrandID     sql.NullString `gorm:"column:brand_id"`
	Status      string         `gorm:"column:status;default:'ACTIVE'"`
	IsActive    bool           `gorm:"column:is_active;default:true"`
	CreatedBy   sql.NullString `gorm:"column:created_by"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;not null"`
}

func (accountModel) TableName() string { return "accounts" }

// --- Repository Implementation ---

type AccountGormRepository struct {
	db *gorm.DB
}

func NewAccountGormRepository(db *gorm.DB) *AccountGormRepository {
	return &AccountGormRepository{db: db}
}

func (r *AccountGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&accountModel{})
}

func (r *AccountGormRepository) CreateAccount(ctx context.Context, request domainAccount.CreateAccountRequest) (domainAccount.Account, error) {
	now := time.Now().UTC()
	model := accountModel{
		ID:          request.ID,
		SessionID:   request.SessionID,
		Provider:    string(request.Provider),
		DisplayName: nullString(request.DisplayName),
		Description: nullString(request.Description),
		PhoneNumber: nullString(request.PhoneNumber),
		StoragePath: request.StoragePath,
		WorkspaceID: nullString(request.WorkspaceID),
		BrandID:     nullString(request.BrandID),
		Status:      string(request.Status),
		IsActive:    request.IsActive,
		CreatedBy:   nullString(request.CreatedBy),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Finalizing an already-known account refreshes it in place.
	err := r.db.WithContext(ctx).Save(&model).Error
	if err != nil {
		return domainAccount.Account{}, fmt.Errorf("failed to persist account %s: %w", request.ID, err)
	}
	return toAccount(model), nil
}

func (r *AccountGormRepository) GetAccountByID(ctx context.Context, id string) (domainAccount.Account, error) {
	var m accountModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainAccount.Account{}, fmt.Errorf("account %s not found", id)
		}
		return domainAccount.Account{}, err
	}
	return toAccount(m), nil
}

func (r *AccountGormRepository) ListAccounts(ctx context.Context) ([]domainAccount.Account, error) {
	var models []accountModel
	if err := r.db.WithContext(ctx).Order("created_at asc").Find(&models).Error; err != nil {
		return nil, err
	}

	accounts := make([]domainAccount.Account, 0, len(models))
	for _, m := range models {
		accounts = append(accounts, toAccount(m))
	}
	return accounts, nil
}

func (r *AccountGormRepository) DeleteAccountBySessionID(ctx context.Context, sessionID string) error {
	result := r.db.WithContext(ctx).
		Where("session_id = ? OR id = ?", sessionID, sessionID).
		Delete(&accountModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no account for session %s", sessionID)
	}
	return nil
}

func (r *AccountGormRepository) SetAccountActiveStatus(ctx context.Context, id string, active bool) error {
	status := domainAccount.StatusDisconnected
	if active {
		status = domainAccount.StatusActive
	}

	result := r.db.WithContext(ctx).Model(&accountModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_active":  active,
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("account %s not found", id)
	}
	return nil
}

func (r *AccountGormRepository) UpdateAccountInfoBySessionID(ctx context.Context, sessionID, displayName, description string) error {
	result := r.db.WithContext(ctx).Model(&accountModel{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"display_name": nullString(displayName),
			"description":  nullString(description),
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no account for session %s", sessionID)
	}
	return nil
}

func (r *AccountGormRepository) UpdateStoragePath(ctx context.Context, id, storagePath string) error {
	result := r.db.WithContext(ctx).Model(&accountModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"storage_path": storagePath,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("account %s not found", id)
	}
	return nil
}

// --- Mapping ---

func toAccount(m accountModel) domainAccount.Account {
	return domainAccount.Account{
		ID:          m.ID,
		SessionID:   m.SessionID,
		Provider:    provider.Kind(m.Provider),
		DisplayName: m.DisplayName.String,
		Description: m.Description.String,
		PhoneNumber: m.PhoneNumber.String,
		StoragePath: m.StoragePath,
		WorkspaceID: m.WorkspaceID.String,
		BrandID:     m.BrandID.String,
		Status:      domainAccount.Status(m.Status),
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		CreatedBy:   m.CreatedBy.String,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
