// ABOUTME: Encrypted per-user variable storage using nacl/secretbox
// ABOUTME: Wraps the store's variable table with authenticated encryption

package secrets

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// Vault errors
var (
	ErrBadKey  = errors.New("encryption key must be 64 hex characters (32 bytes)")
	ErrCorrupt = errors.New("stored variable is corrupt or key mismatch")
)

const nonceSize = 24

// VariableStore is the subset of the store used by the vault.
type VariableStore interface {
	SetUserVariable(ctx context.Context, userID, name string, ciphertext []byte) error
	GetUserVariable(ctx context.Context, userID, name string) ([]byte, error)
	ListUserVariableNames(ctx context.Context, userID string) ([]string, error)
}

// Vault encrypts and decrypts per-user variable values. Values are sealed
// with a random nonce prepended to the ciphertext.
type Vault struct {
	key   [32]byte
	store VariableStore
}

// NewVault creates a vault from a hex-encoded 32-byte key.
func NewVault(hexKey string, store VariableStore) (*Vault, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return nil, ErrBadKey
	}
	v := &Vault{store: store}
	copy(v.key[:], raw)
	return v, nil
}

// Set encrypts and stores a variable value for a user.
func (v *Vault) Set(ctx context.Context, userID, name, value string) error {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(value), &nonce, &v.key)
	return v.store.SetUserVariable(ctx, userID, name, sealed)
}

// Get retrieves and decrypts a variable value for a user.
// Returns the store's ErrNotFound unchanged when the variable is unset.
func (v *Vault) Get(ctx context.Context, userID, name string) (string, error) {
	sealed, err := v.store.GetUserVariable(ctx, userID, name)
	if err != nil {
		return "", err
	}
	if len(sealed) < nonceSize {
		return "", ErrCorrupt
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &v.key)
	if !ok {
		return "", ErrCorrupt
	}
	return string(plain), nil
}

// Names lists the variable names set for a user.
func (v *Vault) Names(ctx context.Context, userID string) ([]string, error) {
	return v.store.ListUserVariableNames(ctx, userID)
}
