package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bobmcallan/quartzqueue/internal/model"
	plerr "github.com/bobmcallan/quartzqueue/internal/platform/errors"
)

// PostgresVariableStore implements store.VariableStore.
type PostgresVariableStore struct {
	pool *Pool
}

// NewVariableStore creates a new PostgresVariableStore.
func NewVariableStore(pool *Pool) *PostgresVariableStore {
	return &PostgresVariableStore{pool: pool}
}

func (s *PostgresVariableStore) Get(ctx context.Context, workspaceID, path string) (*model.Variable, error) {
	const q = `
		SELECT workspace_id, path, value, is_secret, description, account
		FROM variable WHERE workspace_id = $1 AND path = $2`

	var v model.Variable
	var value, description, account *string
	err := s.pool.QueryRow(ctx, q, workspaceID, path).Scan(&v.WorkspaceID, &v.Path, &value, &v.IsSecret, &description, &account)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, plerr.New(plerr.KindNotFound, "store.Variable.Get", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variable: %w", err)
	}
	if value != nil {
		v.Value = *value
	}
	if description != nil {
		v.Description = *description
	}
	if account != nil {
		v.Account = *account
	}
	return &v, nil
}

func (s *PostgresVariableStore) Put(ctx context.Context, variable *model.Variable) error {
	const q = `
		INSERT INTO variable (workspace_id, path, value, is_secret, description, account)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (workspace_id, path) DO UPDATE SET
			value = excluded.value, is_secret = excluded.is_secret,
			description = excluded.description, account = excluded.account`
	_, err := s.pool.Exec(ctx, q, variable.WorkspaceID, variable.Path, nullString(variable.Value),
		variable.IsSecret, nullString(variable.Description), nullString(variable.Account))
	if err != nil {
		return fmt.Errorf("failed to put variable: %w", err)
	}
	return nil
}

func (s *PostgresVariableStore) Delete(ctx context.Context, workspaceID, path string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM variable WHERE workspace_id = $1 AND path = $2`, workspaceID, path); err != nil {
		return fmt.Errorf("failed to delete variable: %w", err)
	}
	return nil
}
