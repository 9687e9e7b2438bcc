package shared

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name API keys are stored under.
const KeyringService = "embysync"

// ResolveAPIKey returns configured when set, otherwise the key stored for account.
func ResolveAPIKey(account, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	key, err := keyring.Get(KeyringService, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: no API key configured or stored for %s", ErrMissingCredentials, account)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read keyring: %w", err)
	}
	return key, nil
}

// StoreAPIKey saves key for account in the system keyring.
func StoreAPIKey(account, key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty API key", ErrInvalidInput)
	}
	if err := keyring.Set(KeyringService, account, key); err != nil {
		return fmt.Errorf("failed to write keyring: %w", err)
	}
	return nil
}

// DeleteAPIKey removes the key stored for account. Deleting a missing key is not an error.
func DeleteAPIKey(account string) error {
	err := keyring.Delete(KeyringService, account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}
