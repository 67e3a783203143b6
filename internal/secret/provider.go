// Package secret implements the pluggable secret backend (spec §4.H):
// values are either encrypted at rest in the database or held by an
// external vault, and the Provider hides which one behind a single
// Get/Put/Delete/Rename contract.
package secret

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/bobmcallan/quartzqueue/internal/model"
	"github.com/bobmcallan/quartzqueue/internal/platform/log"
	"github.com/bobmcallan/quartzqueue/internal/store"
)

// KeySize is the nacl/secretbox shared-key length.
const KeySize = 32

// VaultClient is the HTTP contract an external vault backend speaks (spec
// §4.H "external vault"). A concrete implementation lives outside this
// package; tests use an in-memory stub.
type VaultClient interface {
	Read(ctx context.Context, ref string) ([]byte, error)
	Write(ctx context.Context, workspaceID, path string, value []byte) (ref string, err error)
	Delete(ctx context.Context, ref string) error
}

// Provider resolves a Secret's Backend to the right storage path and
// returns plaintext only from Get (spec §4.H "never held in plaintext
// outside of a Provider.Get call").
type Provider struct {
	store store.SecretStore
	vault VaultClient
	key   [KeySize]byte
	logger *log.Logger
}

// NewProvider creates a Provider. encryptionKey must be exactly KeySize
// bytes; vault may be nil if the deployment has no external backend
// configured, in which case Put with SecretBackendVault fails.
func NewProvider(secretStore store.SecretStore, vault VaultClient, encryptionKey []byte, logger *log.Logger) (*Provider, error) {
	if len(encryptionKey) != KeySize {
		return nil, fmt.Errorf("secret encryption key must be %d bytes, got %d", KeySize, len(encryptionKey))
	}
	p := &Provider{store: secretStore, vault: vault, logger: logger}
	copy(p.key[:], encryptionKey)
	return p, nil
}

// Get resolves path to plaintext, decrypting database-backed secrets or
// reading through to the vault for externally-backed ones.
func (p *Provider) Get(ctx context.Context, workspaceID, path string) (string, error) {
	secretRow, err := p.store.Get(ctx, workspaceID, path)
	if err != nil {
		return "", fmt.Errorf("failed to load secret %s/%s: %w", workspaceID, path, err)
	}

	switch secretRow.Backend {
	case model.SecretBackendVault:
		if p.vault == nil {
			return "", fmt.Errorf("secret %s/%s is vault-backed but no vault client is configured", workspaceID, path)
		}
		value, err := p.vault.Read(ctx, secretRow.ExternalRef)
		if err != nil {
			return "", fmt.Errorf("failed to read secret %s/%s from vault: %w", workspaceID, path, err)
		}
		return string(value), nil

	default:
		plaintext, err := p.decrypt(secretRow.EncryptedValue)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt secret %s/%s: %w", workspaceID, path, err)
		}
		return string(plaintext), nil
	}
}

// Put writes value to the given backend, replacing whatever was there
// before — including switching backends, which is how a workspace migrates
// a single secret from database to vault or back.
func (p *Provider) Put(ctx context.Context, workspaceID, path string, value string, backend model.SecretBackend) error {
	row := &model.Secret{WorkspaceID: workspaceID, Path: path, Backend: backend}

	switch backend {
	case model.SecretBackendVault:
		if p.vault == nil {
			return fmt.Errorf("cannot write vault-backed secret %s/%s: no vault client configured", workspaceID, path)
		}
		ref, err := p.vault.Write(ctx, workspaceID, path, []byte(value))
		if err != nil {
			return fmt.Errorf("failed to write secret %s/%s to vault: %w", workspaceID, path, err)
		}
		row.ExternalRef = ref

	default:
		ciphertext, err := p.encrypt([]byte(value))
		if err != nil {
			return fmt.Errorf("failed to encrypt secret %s/%s: %w", workspaceID, path, err)
		}
		row.Backend = model.SecretBackendDatabase
		row.EncryptedValue = ciphertext
	}

	if err := p.store.Put(ctx, row); err != nil {
		return fmt.Errorf("failed to persist secret %s/%s: %w", workspaceID, path, err)
	}
	return nil
}

// Delete removes path. Deleting a secret that doesn't exist is treated as
// success, matching the idempotent semantics of the underlying store.
func (p *Provider) Delete(ctx context.Context, workspaceID, path string) error {
	existing, err := p.store.Get(ctx, workspaceID, path)
	if err == nil && existing.Backend == model.SecretBackendVault && p.vault != nil {
		if err := p.vault.Delete(ctx, existing.ExternalRef); err != nil {
			p.logger.Warn().Err(err).Str("workspace_id", workspaceID).Str("path", path).
				Msg("failed to delete vault-side secret value; database marker removed anyway")
		}
	}
	if err := p.store.Delete(ctx, workspaceID, path); err != nil {
		return fmt.Errorf("failed to delete secret %s/%s: %w", workspaceID, path, err)
	}
	return nil
}

// Rename moves a secret from oldPath to newPath, preserving its backend and
// (for vault-backed secrets) its external value without a plaintext
// round-trip through this process for database-backed ones either, since
// the ciphertext itself is simply copied to the new row.
func (p *Provider) Rename(ctx context.Context, workspaceID, oldPath, newPath string) error {
	existing, err := p.store.Get(ctx, workspaceID, oldPath)
	if err != nil {
		return fmt.Errorf("failed to load secret %s/%s for rename: %w", workspaceID, oldPath, err)
	}

	renamed := *existing
	renamed.Path = newPath
	if err := p.store.Put(ctx, &renamed); err != nil {
		return fmt.Errorf("failed to write renamed secret %s/%s: %w", workspaceID, newPath, err)
	}

	if err := p.store.Delete(ctx, workspaceID, oldPath); err != nil {
		p.logger.Warn().Err(err).Str("workspace_id", workspaceID).Str("path", oldPath).
			Msg("renamed secret but failed to delete old path; old row remains as a stale duplicate")
	}
	return nil
}

// MigrateBackend re-encrypts or re-vaults every secret in workspaceID from
// its current backend onto target, one at a time. Used for deployment-wide
// backend switches (spec §4.H "backend-switch migration").
func (p *Provider) MigrateBackend(ctx context.Context, workspaceID string, target model.SecretBackend) (int, error) {
	secrets, err := p.store.List(ctx, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("failed to list secrets for workspace %s: %w", workspaceID, err)
	}

	moved := 0
	for _, s := range secrets {
		if s.Backend == target {
			continue
		}
		plaintext, err := p.Get(ctx, workspaceID, s.Path)
		if err != nil {
			return moved, fmt.Errorf("failed to read secret %s/%s during migration: %w", workspaceID, s.Path, err)
		}
		if err := p.Put(ctx, workspaceID, s.Path, plaintext, target); err != nil {
			return moved, fmt.Errorf("failed to migrate secret %s/%s to %s: %w", workspaceID, s.Path, target, err)
		}
		moved++
	}
	return moved, nil
}

func (p *Provider) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &p.key), nil
}

func (p *Provider) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24 {
		return nil, fmt.Errorf("ciphertext too short to contain a nonce")
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	plaintext, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &p.key)
	if !ok {
		return nil, fmt.Errorf("secret decryption failed: wrong key or corrupted ciphertext")
	}
	return plaintext, nil
}
