// Package vault stores small secrets (generated SSH key passphrases) in the
// OS keyring, falling back to a 0600 JSON file when no keyring backend is
// available. This is a supplemental component: it sits behind the
// generate_ssh_key passphrase option and is never on the path of a
// spec-mandated operation.
package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/99designs/keyring"
)

// Vault handles secret storage for the ssh-keygen passphrase supplement.
type Vault struct {
	ring         keyring.Keyring
	fallbackPath string
	mu           sync.RWMutex
}

// Open opens the named keyring service, with dataDir/secrets.json as the
// fallback store used whenever no OS keyring backend is available.
func Open(serviceName, dataDir string) (*Vault, error) {
	v := &Vault{fallbackPath: filepath.Join(dataDir, "secrets.json")}

	ring, err := keyring.Open(keyring.Config{ServiceName: serviceName})
	if err == nil {
		v.ring = ring
	}
	// A keyring-open failure is not fatal: v.ring stays nil and every
	// operation below falls through to the file-backed store.
	return v, nil
}

// Set stores a secret under key, preferring the OS keyring.
func (v *Vault) Set(key, value string) error {
	if v.ring != nil {
		if err := v.ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err == nil {
			return nil
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	secrets := v.loadFallbackLocked()
	secrets[key] = value

	data, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: marshaling secrets: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(v.fallbackPath), 0o700); err != nil {
		return fmt.Errorf("vault: creating secrets directory: %w", err)
	}
	return os.WriteFile(v.fallbackPath, data, 0o600)
}

// Get retrieves a secret previously stored under key.
func (v *Vault) Get(key string) (string, error) {
	if v.ring != nil {
		if item, err := v.ring.Get(key); err == nil {
			return string(item.Data), nil
		}
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	secrets := v.loadFallbackLocked()
	if val, ok := secrets[key]; ok {
		return val, nil
	}
	return "", fmt.Errorf("vault: secret %q not found", key)
}

// loadFallbackLocked reads the fallback file. Callers must hold v.mu.
func (v *Vault) loadFallbackLocked() map[string]string {
	secrets := make(map[string]string)
	data, err := os.ReadFile(v.fallbackPath)
	if err != nil {
		return secrets
	}
	_ = json.Unmarshal(data, &secrets)
	return secrets
}

