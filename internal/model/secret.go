package model

import "time"

// SecretBackend identifies which Provider implementation owns a Secret's
// stored value (spec §4.H pluggable backends).
type SecretBackend string

const (
	SecretBackendDatabase SecretBackend = "database"
	SecretBackendVault    SecretBackend = "vault"
)

// Secret is a workspace-scoped key/value pair whose value is never held in
// plaintext outside of a Provider.Get call (spec §3, §4.H).
type Secret struct {
	WorkspaceID string
	Path        string
	Backend     SecretBackend
	// EncryptedValue holds the nacl/secretbox ciphertext when Backend is
	// SecretBackendDatabase; empty otherwise.
	EncryptedValue []byte
	// ExternalRef holds the vault-side locator when Backend is
	// SecretBackendVault; empty otherwise.
	ExternalRef string
	UpdatedAt   time.Time
}
