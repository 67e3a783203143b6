package secret

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/quartzqueue/internal/model"
	"github.com/bobmcallan/quartzqueue/internal/platform/log"
)

type fakeSecretStore struct {
	rows map[string]*model.Secret
}

func newFakeSecretStore() *fakeSecretStore {
	return &fakeSecretStore{rows: make(map[string]*model.Secret)}
}

func key(workspaceID, path string) string { return workspaceID + "/" + path }

func (f *fakeSecretStore) Get(ctx context.Context, workspaceID, path string) (*model.Secret, error) {
	row, ok := f.rows[key(workspaceID, path)]
	if !ok {
		return nil, assert.AnError
	}
	cp := *row
	return &cp, nil
}

func (f *fakeSecretStore) Put(ctx context.Context, s *model.Secret) error {
	cp := *s
	f.rows[key(s.WorkspaceID, s.Path)] = &cp
	return nil
}

func (f *fakeSecretStore) Delete(ctx context.Context, workspaceID, path string) error {
	delete(f.rows, key(workspaceID, path))
	return nil
}

func (f *fakeSecretStore) List(ctx context.Context, workspaceID string) ([]*model.Secret, error) {
	var out []*model.Secret
	for _, row := range f.rows {
		if row.WorkspaceID == workspaceID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeVault struct {
	data map[string][]byte
	seq  int
}

func newFakeVault() *fakeVault { return &fakeVault{data: make(map[string][]byte)} }

func (f *fakeVault) Read(ctx context.Context, ref string) ([]byte, error) {
	v, ok := f.data[ref]
	if !ok {
		return nil, assert.AnError
	}
	return v, nil
}

func (f *fakeVault) Write(ctx context.Context, workspaceID, path string, value []byte) (string, error) {
	f.seq++
	ref := workspaceID + ":" + path + ":" + string(rune('0'+f.seq))
	f.data[ref] = value
	return ref, nil
}

func (f *fakeVault) Delete(ctx context.Context, ref string) error {
	delete(f.data, ref)
	return nil
}

var testKey = []byte("0123456789abcdef0123456789abcdef")[:KeySize]

func TestNewProviderRejectsWrongKeySize(t *testing.T) {
	_, err := NewProvider(newFakeSecretStore(), nil, []byte("too-short"), log.NewSilent())
	assert.Error(t, err)
}

func TestPutGetRoundTripsDatabaseBackend(t *testing.T) {
	p, err := NewProvider(newFakeSecretStore(), nil, testKey, log.NewSilent())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Put(ctx, "ws", "u/test/key", "s3cr3t", model.SecretBackendDatabase))

	got, err := p.Get(ctx, "ws", "u/test/key")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got)
}

func TestPutGetRoundTripsVaultBackend(t *testing.T) {
	p, err := NewProvider(newFakeSecretStore(), newFakeVault(), testKey, log.NewSilent())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Put(ctx, "ws", "u/test/key", "v4ult-value", model.SecretBackendVault))

	got, err := p.Get(ctx, "ws", "u/test/key")
	require.NoError(t, err)
	assert.Equal(t, "v4ult-value", got)
}

func TestGetVaultBackedWithoutVaultClientFails(t *testing.T) {
	store := newFakeSecretStore()
	store.rows[key("ws", "p")] = &model.Secret{WorkspaceID: "ws", Path: "p", Backend: model.SecretBackendVault, ExternalRef: "ref"}

	p, err := NewProvider(store, nil, testKey, log.NewSilent())
	require.NoError(t, err)

	_, err = p.Get(context.Background(), "ws", "p")
	assert.Error(t, err)
}

func TestMigrateBackendRotatesFromDatabaseToVaultAndBack(t *testing.T) {
	store := newFakeSecretStore()
	vault := newFakeVault()
	p, err := NewProvider(store, vault, testKey, log.NewSilent())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Put(ctx, "ws", "u/test/key", "rotate-me", model.SecretBackendDatabase))

	moved, err := p.MigrateBackend(ctx, "ws", model.SecretBackendVault)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	got, err := p.Get(ctx, "ws", "u/test/key")
	require.NoError(t, err)
	assert.Equal(t, "rotate-me", got, "value survives a backend migration unchanged")

	moved, err = p.MigrateBackend(ctx, "ws", model.SecretBackendDatabase)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	got, err = p.Get(ctx, "ws", "u/test/key")
	require.NoError(t, err)
	assert.Equal(t, "rotate-me", got, "rotating back to database preserves the same plaintext")
}

func TestRenamePreservesCiphertextWithoutReEncrypting(t *testing.T) {
	store := newFakeSecretStore()
	p, err := NewProvider(store, nil, testKey, log.NewSilent())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Put(ctx, "ws", "old/path", "unchanged", model.SecretBackendDatabase))
	original := store.rows[key("ws", "old/path")].EncryptedValue

	require.NoError(t, p.Rename(ctx, "ws", "old/path", "new/path"))

	renamed, ok := store.rows[key("ws", "new/path")]
	require.True(t, ok)
	assert.Equal(t, original, renamed.EncryptedValue, "rename must copy ciphertext, not re-encrypt")
	_, stillThere := store.rows[key("ws", "old/path")]
	assert.False(t, stillThere)
}

func TestDeleteIsIdempotent(t *testing.T) {
	p, err := NewProvider(newFakeSecretStore(), nil, testKey, log.NewSilent())
	require.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, p.Delete(ctx, "ws", "never/existed"))
}
