package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	domainAccount "github.com/AzielCF/az-hub/domains/account"
	domainSession "github.com/AzielCF/az-hub/domains/session"
	pkgError "github.com/AzielCF/az-hub/pkg/error"
	"github.com/AzielCF/az-hub/pkg/utils"
)

// storageFlushDelay gives the provider client time to close its storage
// handles before the directory is renamed underneath it.
const storageFlushDelay = 200 * time.Millisecond

// FinalizeSession persists a CONNECTED session as a durable account under its
// provider-issued identity and kicks off the storage migration from the
// provisional session id.
func (service *serviceSession) FinalizeSession(ctx context.Context, id string) (string, error) {
	machine, oldID, err := service.resolve(id)
	if err != nil {
		return "", err
	}

	snapshot := machine.snapshot()
	if snapshot.State != domainSession.StateConnected {
		return "", pkgError.SessionNotConnectedError(fmt.Sprintf("session %s is %s, finalize requires CONNECTED", id, snapshot.State))
	}

	newID := oldID
	displayName := ""
	phoneNumber := ""
	if snapshot.Metadata != nil {
		displayName = snapshot.Metadata.DisplayName
		phoneNumber = snapshot.Metadata.PhoneNumber
		if phoneNumber != "" {
			newID = phoneNumber
		}
	}

	if newID != oldID {
		if err := service.remapSession(oldID, newID, machine); err != nil {
			return "", err
		}
	}

	if _, err := service.accounts.CreateAccount(ctx, domainAccount.CreateAccountRequest{
		ID:          newID,
		SessionID:   oldID,
		Provider:    snapshot.Provider,
		DisplayName: displayName,
		PhoneNumber: phoneNumber,
		StoragePath: utils.SessionStoragePath(service.basePath, oldID),
		Status:      domainAccount.StatusActive,
		IsActive:    true,
	}); err != nil {
		return "", pkgError.InternalServerError(fmt.Sprintf("failed to persist account %s: %v", newID, err))
	}

	if newID != oldID {
		go func() {
			if err := service.migrateStorage(context.Background(), machine, oldID, newID); err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"old_id": oldID,
					"new_id": newID,
				}).Error("[REGISTRY] Storage migration failed, session stays under original id")
			}
		}()
	}

	logrus.WithFields(logrus.Fields{
		"session_id": oldID,
		"account_id": newID,
	}).Info("[REGISTRY] Finalized session")
	return newID, nil
}

// remapSession records the old->new id mapping and moves the live machine
// under the new id, so concurrent lookups by either id keep resolving.
func (service *serviceSession) remapSession(oldID, newID string, machine *sessionMachine) error {
	service.mu.Lock()
	if _, taken := service.machines[newID]; taken {
		service.mu.Unlock()
		return pkgError.DuplicateSessionError(fmt.Sprintf("account id %s is already registered", newID))
	}
	service.idMappings[oldID] = newID
	service.machines[newID] = machine
	delete(service.machines, oldID)
	service.mu.Unlock()

	machine.rekey(newID)
	service.mux.Rebind(oldID, newID)
	return nil
}

// rollbackRemap undoes remapSession so the session stays operable under its
// original id.
func (service *serviceSession) rollbackRemap(oldID, newID string, machine *sessionMachine) {
	service.mu.Lock()
	delete(service.idMappings, oldID)
	delete(service.machines, newID)
	service.machines[oldID] = machine
	service.mu.Unlock()

	machine.rekey(oldID)
	service.mux.Rebind(newID, oldID)
}

// migrateStorage renames the on-disk session directory to the finalized id.
// The client is logged out around the rename and rebuilt against the new
// path. A rename failure rolls the in-memory mapping back to the old id.
func (service *serviceSession) migrateStorage(ctx context.Context, machine *sessionMachine, oldID, newID string) error {
	machine.beginMigration()
	defer machine.endMigration()

	machine.suspend(ctx)
	time.Sleep(storageFlushDelay)

	if err := utils.RenameSessionStorage(service.basePath, oldID, newID); err != nil {
		service.rollbackRemap(oldID, newID, machine)
		machine.resume(ctx)
		if client := machine.providerClient(); client != nil {
			service.mux.RegisterClient(oldID, client)
		}
		return err
	}

	newPath := utils.SessionStoragePath(service.basePath, newID)
	if err := machine.adoptStorage(ctx, newPath); err != nil {
		logrus.WithError(err).WithField("account_id", newID).
			Warn("[REGISTRY] Could not rebuild client on migrated storage, resuming previous client")
		machine.resume(ctx)
	}
	if client := machine.providerClient(); client != nil {
		service.mux.RegisterClient(newID, client)
	}

	if err := service.accounts.UpdateStoragePath(ctx, newID, newPath); err != nil {
		logrus.WithError(err).WithField("account_id", newID).
			Warn("[REGISTRY] Could not persist migrated storage path")
	}

	logrus.WithFields(logrus.Fields{
		"old_id": oldID,
		"new_id": newID,
	}).Info("[REGISTRY] Migrated session storage")
	return nil
}
