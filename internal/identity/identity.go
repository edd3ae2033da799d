// Package identity persists the Ed25519 key material backing a hidden
// service's stable nickname, so that restarting with the same nickname and
// key directory yields the same .onion address (spec.md §3
// HiddenServiceIdentity, §6.5 persisted artifacts).
//
// The actual v3 address derivation from the public key is bine's
// responsibility once a key is handed to tor.ListenConf.Key; this package
// only owns the on-disk nickname -> key mapping.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

const keyFileName = "hs_ed25519_secret_key"

// LoadOrCreate returns the persisted Ed25519 private key for nickname under
// keyDir, generating and persisting a new one if none exists yet.
func LoadOrCreate(keyDir, nickname string) (ed25519.PrivateKey, error) {
	if nickname == "" {
		return nil, fmt.Errorf("identity: nickname is required")
	}

	dir := filepath.Join(keyDir, nickname)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("identity: failed to create key directory %q: %w", dir, err)
	}

	path := filepath.Join(dir, keyFileName)

	existing, err := os.ReadFile(path)
	if err == nil {
		if len(existing) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("identity: corrupt key file %q: expected %d bytes, got %d", path, ed25519.PrivateKeySize, len(existing))
		}
		return ed25519.PrivateKey(existing), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: failed to read key file %q: %w", path, err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: failed to generate key: %w", err)
	}

	if err := os.WriteFile(path, priv, 0o600); err != nil {
		return nil, fmt.Errorf("identity: failed to persist key file %q: %w", path, err)
	}

	return priv, nil
}

// Fingerprint returns a short hex fingerprint of the public half of key,
// safe to log (unlike the key itself).
func Fingerprint(key ed25519.PrivateKey) string {
	pub := key.Public().(ed25519.PublicKey)
	return fmt.Sprintf("%x", pub[:8])
}
