package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bobmcallan/quartzqueue/internal/model"
	plerr "github.com/bobmcallan/quartzqueue/internal/platform/errors"
)

// PostgresLockCacheStore implements store.LockCacheStore. Entries are
// shared across every worker that resolves the same (language,
// fingerprint) pair, so a single successful resolve is reused by the whole
// fleet (spec §4.F).
type PostgresLockCacheStore struct {
	pool *Pool
}

// NewLockCacheStore creates a new PostgresLockCacheStore.
func NewLockCacheStore(pool *Pool) *PostgresLockCacheStore {
	return &PostgresLockCacheStore{pool: pool}
}

func (s *PostgresLockCacheStore) Get(ctx context.Context, language, fingerprint string) (*model.ResolvedArtifact, error) {
	const q = `
		SELECT language, fingerprint, lockfile, manifest, expires_at, resolve_error
		FROM resolved_artifact WHERE language = $1 AND fingerprint = $2`

	var a model.ResolvedArtifact
	var resolveErr *string
	err := s.pool.QueryRow(ctx, q, language, fingerprint).Scan(
		&a.Language, &a.Fingerprint, &a.Lockfile, &a.Manifest, &a.ExpiresAt, &resolveErr,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, plerr.New(plerr.KindNotFound, "store.LockCache.Get", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resolved artifact: %w", err)
	}
	if resolveErr != nil {
		a.ResolveError = *resolveErr
	}
	return &a, nil
}

func (s *PostgresLockCacheStore) Put(ctx context.Context, artifact *model.ResolvedArtifact) error {
	const q = `
		INSERT INTO resolved_artifact (language, fingerprint, lockfile, manifest, expires_at, resolve_error)
		VALUES ($1,$2,$3,$4,$5,NULL)
		ON CONFLICT (language, fingerprint) DO UPDATE SET
			lockfile = excluded.lockfile, manifest = excluded.manifest,
			expires_at = excluded.expires_at, resolve_error = NULL`
	_, err := s.pool.Exec(ctx, q, artifact.Language, artifact.Fingerprint, artifact.Lockfile, artifact.Manifest, artifact.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to put resolved artifact: %w", err)
	}
	return nil
}

// PutError records a failed resolve attempt so subsequent lookups (spec
// §4.F "negative caching") fail fast instead of re-running the resolver.
func (s *PostgresLockCacheStore) PutError(ctx context.Context, language, fingerprint, resolveErr string) error {
	const q = `
		INSERT INTO resolved_artifact (language, fingerprint, resolve_error)
		VALUES ($1,$2,$3)
		ON CONFLICT (language, fingerprint) DO UPDATE SET resolve_error = excluded.resolve_error`
	_, err := s.pool.Exec(ctx, q, language, fingerprint, resolveErr)
	if err != nil {
		return fmt.Errorf("failed to record resolve error: %w", err)
	}
	return nil
}
