package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bobmcallan/quartzqueue/internal/model"
	plerr "github.com/bobmcallan/quartzqueue/internal/platform/errors"
)

// PostgresResourceStore implements store.ResourceStore.
type PostgresResourceStore struct {
	pool *Pool
}

// NewResourceStore creates a new PostgresResourceStore.
func NewResourceStore(pool *Pool) *PostgresResourceStore {
	return &PostgresResourceStore{pool: pool}
}

func (s *PostgresResourceStore) Get(ctx context.Context, workspaceID, path string) (*model.Resource, error) {
	const q = `SELECT workspace_id, path, value, resource_type FROM resource WHERE workspace_id = $1 AND path = $2`

	var r model.Resource
	var resourceType *string
	err := s.pool.QueryRow(ctx, q, workspaceID, path).Scan(&r.WorkspaceID, &r.Path, &r.Value, &resourceType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, plerr.New(plerr.KindNotFound, "store.Resource.Get", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	if resourceType != nil {
		r.ResourceType = *resourceType
	}
	return &r, nil
}

func (s *PostgresResourceStore) Put(ctx context.Context, resource *model.Resource) error {
	const q = `
		INSERT INTO resource (workspace_id, path, value, resource_type)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (workspace_id, path) DO UPDATE SET
			value = excluded.value, resource_type = excluded.resource_type`
	_, err := s.pool.Exec(ctx, q, resource.WorkspaceID, resource.Path, resource.Value, nullString(resource.ResourceType))
	if err != nil {
		return fmt.Errorf("failed to put resource: %w", err)
	}
	return nil
}

func (s *PostgresResourceStore) Delete(ctx context.Context, workspaceID, path string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM resource WHERE workspace_id = $1 AND path = $2`, workspaceID, path); err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	return nil
}
