package config

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain.
	KeyringService = "git-warp"

	// KeyringHMACKeyItem is the credential identifier for the authenticated-sync HMAC key.
	KeyringHMACKeyItem = "sync-hmac-key"
)

// KeyringManager stores the HMAC signing key used for authenticated sync
// in the OS keychain.
type KeyringManager struct {
	logger *slog.Logger
}

// NewKeyringManager creates a new keyring manager.
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{logger: slog.Default().With("component", "keyring")}
}

// SaveHMACKey stores the sync HMAC key securely in the OS keychain.
func (km *KeyringManager) SaveHMACKey(keyID, secret string) error {
	if secret == "" {
		return fmt.Errorf("hmac secret cannot be empty")
	}
	if err := keyring.Set(KeyringService, itemName(keyID), secret); err != nil {
		km.logger.Error("failed to save hmac key to keychain", "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}
	km.logger.Info("hmac key saved to keychain", "key_id", keyID)
	return nil
}

// GetHMACKey retrieves the sync HMAC key from the OS keychain.
func (km *KeyringManager) GetHMACKey(keyID string) (string, error) {
	secret, err := keyring.Get(KeyringService, itemName(keyID))
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		km.logger.Error("failed to get hmac key from keychain", "error", err)
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}
	return secret, nil
}

// DeleteHMACKey removes the sync HMAC key from the OS keychain.
func (km *KeyringManager) DeleteHMACKey(keyID string) error {
	err := keyring.Delete(KeyringService, itemName(keyID))
	if err == keyring.ErrNotFound {
		return nil
	}
	if err != nil {
		km.logger.Error("failed to delete hmac key from keychain", "error", err)
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}
	return nil
}

// IsAvailable checks if the OS keychain is reachable (false on headless CI).
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(KeyringService, "test-availability")
	if err == keyring.ErrNotFound {
		return true
	}
	if err != nil {
		km.logger.Debug("keychain not available", "error", err)
		return false
	}
	return true
}

func itemName(keyID string) string {
	if keyID == "" {
		keyID = "default"
	}
	return KeyringHMACKeyItem + ":" + keyID
}
