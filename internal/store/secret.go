package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bobmcallan/quartzqueue/internal/model"
	plerr "github.com/bobmcallan/quartzqueue/internal/platform/errors"
)

// PostgresSecretStore implements store.SecretStore. It never interprets
// EncryptedValue — that is the secret provider's job (internal/secret) —
// it only persists whichever of EncryptedValue or ExternalRef the caller
// set (spec §4.H).
type PostgresSecretStore struct {
	pool *Pool
}

// NewSecretStore creates a new PostgresSecretStore.
func NewSecretStore(pool *Pool) *PostgresSecretStore {
	return &PostgresSecretStore{pool: pool}
}

func (s *PostgresSecretStore) Get(ctx context.Context, workspaceID, path string) (*model.Secret, error) {
	const q = `
		SELECT workspace_id, path, backend, encrypted_value, external_ref, updated_at
		FROM secret WHERE workspace_id = $1 AND path = $2`

	var sec model.Secret
	var backend string
	var externalRef *string
	err := s.pool.QueryRow(ctx, q, workspaceID, path).Scan(
		&sec.WorkspaceID, &sec.Path, &backend, &sec.EncryptedValue, &externalRef, &sec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, plerr.New(plerr.KindNotFound, "store.Secret.Get", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}
	sec.Backend = model.SecretBackend(backend)
	if externalRef != nil {
		sec.ExternalRef = *externalRef
	}
	return &sec, nil
}

func (s *PostgresSecretStore) Put(ctx context.Context, secret *model.Secret) error {
	const q = `
		INSERT INTO secret (workspace_id, path, backend, encrypted_value, external_ref, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (workspace_id, path) DO UPDATE SET
			backend = excluded.backend, encrypted_value = excluded.encrypted_value,
			external_ref = excluded.external_ref, updated_at = now()`
	_, err := s.pool.Exec(ctx, q, secret.WorkspaceID, secret.Path, string(secret.Backend), secret.EncryptedValue, nullString(secret.ExternalRef))
	if err != nil {
		return fmt.Errorf("failed to put secret: %w", err)
	}
	return nil
}

// Delete is idempotent: deleting an absent secret is success, matching the
// NotFound-as-success contract the backend migration relies on (spec §4.H).
func (s *PostgresSecretStore) Delete(ctx context.Context, workspaceID, path string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM secret WHERE workspace_id = $1 AND path = $2`, workspaceID, path); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

func (s *PostgresSecretStore) List(ctx context.Context, workspaceID string) ([]*model.Secret, error) {
	const q = `
		SELECT workspace_id, path, backend, encrypted_value, external_ref, updated_at
		FROM secret WHERE workspace_id = $1 ORDER BY path`
	rows, err := s.pool.Query(ctx, q, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	defer rows.Close()

	var secrets []*model.Secret
	for rows.Next() {
		var sec model.Secret
		var backend string
		var externalRef *string
		if err := rows.Scan(&sec.WorkspaceID, &sec.Path, &backend, &sec.EncryptedValue, &externalRef, &sec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan secret: %w", err)
		}
		sec.Backend = model.SecretBackend(backend)
		if externalRef != nil {
			sec.ExternalRef = *externalRef
		}
		secrets = append(secrets, &sec)
	}
	return secrets, rows.Err()
}
