package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/quartzqueue/internal/model"
	"github.com/bobmcallan/quartzqueue/internal/platform/log"
	"github.com/bobmcallan/quartzqueue/internal/secret"
)

type fakeVariableStore struct {
	rows map[string]*model.Variable
}

func (f *fakeVariableStore) Get(ctx context.Context, workspaceID, path string) (*model.Variable, error) {
	v, ok := f.rows[workspaceID+"/"+path]
	if !ok {
		return nil, assert.AnError
	}
	return v, nil
}
func (f *fakeVariableStore) Put(ctx context.Context, v *model.Variable) error {
	f.rows[v.WorkspaceID+"/"+v.Path] = v
	return nil
}
func (f *fakeVariableStore) Delete(ctx context.Context, workspaceID, path string) error {
	delete(f.rows, workspaceID+"/"+path)
	return nil
}

type fakeResourceStore struct {
	rows map[string]*model.Resource
}

func (f *fakeResourceStore) Get(ctx context.Context, workspaceID, path string) (*model.Resource, error) {
	r, ok := f.rows[workspaceID+"/"+path]
	if !ok {
		return nil, assert.AnError
	}
	return r, nil
}
func (f *fakeResourceStore) Put(ctx context.Context, r *model.Resource) error {
	f.rows[r.WorkspaceID+"/"+r.Path] = r
	return nil
}
func (f *fakeResourceStore) Delete(ctx context.Context, workspaceID, path string) error {
	delete(f.rows, workspaceID+"/"+path)
	return nil
}

type fakeMaterializeSecretStore struct {
	rows map[string]*model.Secret
}

func (f *fakeMaterializeSecretStore) Get(ctx context.Context, workspaceID, path string) (*model.Secret, error) {
	s, ok := f.rows[workspaceID+"/"+path]
	if !ok {
		return nil, assert.AnError
	}
	return s, nil
}
func (f *fakeMaterializeSecretStore) Put(ctx context.Context, s *model.Secret) error {
	f.rows[s.WorkspaceID+"/"+s.Path] = s
	return nil
}
func (f *fakeMaterializeSecretStore) Delete(ctx context.Context, workspaceID, path string) error {
	delete(f.rows, workspaceID+"/"+path)
	return nil
}
func (f *fakeMaterializeSecretStore) List(ctx context.Context, workspaceID string) ([]*model.Secret, error) {
	return nil, nil
}

func newTestMaterializer(t *testing.T) (*materializer, *fakeVariableStore, *fakeResourceStore, *secret.Provider) {
	t.Helper()
	variables := &fakeVariableStore{rows: make(map[string]*model.Variable)}
	resources := &fakeResourceStore{rows: make(map[string]*model.Resource)}
	secretStore := &fakeMaterializeSecretStore{rows: make(map[string]*model.Secret)}
	secrets, err := secret.NewProvider(secretStore, nil, []byte("0123456789abcdef0123456789abcdef")[:secret.KeySize], log.NewSilent())
	require.NoError(t, err)
	return newMaterializer(variables, resources, secrets), variables, resources, secrets
}

func TestResolveLeavesPlainStringsUntouched(t *testing.T) {
	m, _, _, _ := newTestMaterializer(t)
	out, err := m.Resolve(context.Background(), "ws", map[string]any{"name": "plain-value"})
	require.NoError(t, err)
	assert.Equal(t, "plain-value", out["name"])
}

func TestResolveSubstitutesPlainVariable(t *testing.T) {
	m, variables, _, _ := newTestMaterializer(t)
	variables.rows["ws/u/host"] = &model.Variable{WorkspaceID: "ws", Path: "u/host", Value: "db.internal"}

	out, err := m.Resolve(context.Background(), "ws", map[string]any{"host": "$var:u/host"})
	require.NoError(t, err)
	assert.Equal(t, "db.internal", out["host"])
}

func TestResolveSubstitutesSecretVariableThroughProvider(t *testing.T) {
	m, variables, _, secrets := newTestMaterializer(t)
	variables.rows["ws/u/pw"] = &model.Variable{WorkspaceID: "ws", Path: "u/pw", IsSecret: true}
	require.NoError(t, secrets.Put(context.Background(), "ws", "u/pw", "hunter2", model.SecretBackendDatabase))

	out, err := m.Resolve(context.Background(), "ws", map[string]any{"password": "$var:u/pw"})
	require.NoError(t, err)
	assert.Equal(t, "hunter2", out["password"])
}

func TestResolveDecodesResourceJSONBeforeSubstitution(t *testing.T) {
	m, _, resources, _ := newTestMaterializer(t)
	resources.rows["ws/u/db"] = &model.Resource{WorkspaceID: "ws", Path: "u/db", Value: []byte(`{"host":"db","port":5432}`)}

	out, err := m.Resolve(context.Background(), "ws", map[string]any{"conn": "$res:u/db"})
	require.NoError(t, err)
	decoded, ok := out["conn"].(map[string]any)
	require.True(t, ok, "resource value must be decoded into a structured value, not left as a raw JSON string")
	assert.Equal(t, "db", decoded["host"])
	assert.Equal(t, float64(5432), decoded["port"])
}

func TestResolveWalksNestedMapsAndSlices(t *testing.T) {
	m, variables, _, _ := newTestMaterializer(t)
	variables.rows["ws/u/name"] = &model.Variable{WorkspaceID: "ws", Path: "u/name", Value: "nested-value"}

	out, err := m.Resolve(context.Background(), "ws", map[string]any{
		"nested": map[string]any{"inner": "$var:u/name"},
		"list":   []any{"$var:u/name", "literal"},
	})
	require.NoError(t, err)
	assert.Equal(t, "nested-value", out["nested"].(map[string]any)["inner"])
	assert.Equal(t, []any{"nested-value", "literal"}, out["list"])
}

func TestResolveFailsWithWrappedErrorWhenVariableMissing(t *testing.T) {
	m, _, _, _ := newTestMaterializer(t)
	_, err := m.Resolve(context.Background(), "ws", map[string]any{"missing": "$var:u/nope"})
	assert.Error(t, err)
}

func TestResolveFailsWhenResourceMissing(t *testing.T) {
	m, _, _, _ := newTestMaterializer(t)
	_, err := m.Resolve(context.Background(), "ws", map[string]any{"missing": "$res:u/nope"})
	assert.Error(t, err)
}
