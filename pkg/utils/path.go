package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// SessionStoragePath returns the on-disk storage directory for a session or
// account id, creating it if needed. Every provider client is constructed
// against exactly one such directory; the process working directory is never
// changed to scope storage.
func SessionStoragePath(basePath, id string) string {
	path := filepath.Join(basePath, "sessions", id)
	_ = os.MkdirAll(path, 0o755)
	return path
}

// StorageDirExists reports whether an explicit storage directory exists.
func StorageDirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// SessionStorageExists reports whether storage for the id exists without
// creating it.
func SessionStorageExists(basePath, id string) bool {
	info, err := os.Stat(filepath.Join(basePath, "sessions", id))
	return err == nil && info.IsDir()
}

// RenameSessionStorage moves a session storage directory from oldID to newID.
// Fails if the destination already exists.
func RenameSessionStorage(basePath, oldID, newID string) error {
	oldPath := filepath.Join(basePath, "sessions", oldID)
	newPath := filepath.Join(basePath, "sessions", newID)
	if _, err := os.Stat(newPath); err == nil {
		return fmt.Errorf("storage path %s already exists", newPath)
	}
	return os.Rename(oldPath, newPath)
}
