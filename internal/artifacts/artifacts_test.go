package artifacts

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore() *Store {
	return NewStoreWithFs(afero.NewMemMapFs(), "/reports")
}

func TestPathLayout(t *testing.T) {
	store := newMemStore()
	scanID := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	path := store.Path("lynis", "web-1", scanID, "txt")
	assert.Equal(t, filepath.Join("/reports", "lynis", "web-1_11111111-2222-3333-4444-555555555555.txt"), path)
}

func TestPathSanitizesTargetName(t *testing.T) {
	store := newMemStore()
	scanID := uuid.New()

	path := store.Path("trivy", "web/1:latest", scanID, ".json")
	assert.NotContains(t, filepath.Base(path), "/")
	assert.NotContains(t, filepath.Base(path), ":")
	assert.Equal(t, ".json", filepath.Ext(path))
}

func TestSaveAndRead(t *testing.T) {
	store := newMemStore()
	scanID := uuid.New()

	path, err := store.Save("openscap", "db-1", scanID, "xml", []byte("<results/>"))
	require.NoError(t, err)

	data, err := store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("<results/>"), data)
}

func TestReadMissing(t *testing.T) {
	store := newMemStore()

	_, err := store.Read("/reports/lynis/missing.txt")
	assert.Error(t, err)
}

func TestRemoveMissingIsNoop(t *testing.T) {
	store := newMemStore()

	assert.NoError(t, store.Remove("/reports/atomic/never-written.txt"))
}

func TestRemove(t *testing.T) {
	store := newMemStore()
	scanID := uuid.New()

	path, err := store.Save("atomic", "host-1", scanID, "txt", []byte("PASS"))
	require.NoError(t, err)

	require.NoError(t, store.Remove(path))

	_, err = store.Read(path)
	assert.Error(t, err)
}
