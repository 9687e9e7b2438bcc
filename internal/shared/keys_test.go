package shared

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestAPIKeys(t *testing.T) {
	keyring.MockInit()

	t.Run("Configured key wins", func(t *testing.T) {
		key, err := ResolveAPIKey("lhs", "from-config")
		if err != nil || key != "from-config" {
			t.Errorf("expected from-config, got %q (%v)", key, err)
		}
	})

	t.Run("Missing key", func(t *testing.T) {
		if _, err := ResolveAPIKey("rhs", ""); !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("Store resolve delete", func(t *testing.T) {
		if err := StoreAPIKey("rhs", "secret"); err != nil {
			t.Fatalf("failed to store key: %v", err)
		}

		key, err := ResolveAPIKey("rhs", "")
		if err != nil || key != "secret" {
			t.Errorf("expected secret, got %q (%v)", key, err)
		}

		if err := DeleteAPIKey("rhs"); err != nil {
			t.Fatalf("failed to delete key: %v", err)
		}
		if err := DeleteAPIKey("rhs"); err != nil {
			t.Errorf("deleting twice should not fail, got %v", err)
		}
		if _, err := ResolveAPIKey("rhs", ""); err == nil {
			t.Error("expected key to be gone")
		}
	})

	t.Run("Empty key rejected", func(t *testing.T) {
		if err := StoreAPIKey("lhs", ""); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
