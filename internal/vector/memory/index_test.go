package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wintrouble/backend/internal/vector"
)

func TestIndexSearchOrdersByCosine(t *testing.T) {
	ctx := context.Background()
	idx := New()

	require.NoError(t, idx.Upsert(ctx, []vector.Point{
		{ID: "a_0", DocumentID: "a", Vector: []float32{1, 0}},
		{ID: "b_0", DocumentID: "b", Vector: []float32{0, 1}},
		{ID: "c_0", DocumentID: "c", Vector: []float32{1, 1}},
	}))

	hits, err := idx.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a_0", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "c_0", hits[1].ID)
}

func TestIndexDeleteDocumentOnlyTouchesThatDocument(t *testing.T) {
	ctx := context.Background()
	idx := New()

	require.NoError(t, idx.Upsert(ctx, []vector.Point{
		{ID: "dir:a_0", Source: "dir", DocumentID: "a", Vector: []float32{1}},
		{ID: "dir:a_1", Source: "dir", DocumentID: "a", Vector: []float32{1}},
		{ID: "upload:a_0", Source: "upload", DocumentID: "a", Vector: []float32{1}},
		{ID: "dir:b_0", Source: "dir", DocumentID: "b", Vector: []float32{1}},
	}))
	require.NoError(t, idx.DeleteDocument(ctx, "dir", "a"))

	assert.Empty(t, idx.IDs("dir", "a"))
	assert.Equal(t, []string{"upload:a_0"}, idx.IDs("upload", "a"))
	assert.Equal(t, []string{"dir:b_0"}, idx.IDs("dir", "b"))
}

func TestIndexSnapshotSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "vectors.gob")
	modified := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	idx, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())

	require.NoError(t, idx.Upsert(ctx, []vector.Point{
		{ID: "dir:a_0", Source: "dir", DocumentID: "a", Vector: []float32{1, 0}, Text: "Reset winsock.", LastModified: &modified},
		{ID: "dir:b_0", Source: "dir", DocumentID: "b", Vector: []float32{0, 1}, Text: "Run sfc /scannow."},
	}))
	require.NoError(t, idx.DeleteDocument(ctx, "dir", "b"))
	require.NoError(t, idx.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())

	hits, err := reopened.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Reset winsock.", hits[0].Text)
	require.NotNil(t, hits[0].LastModified)
	assert.True(t, hits[0].LastModified.Equal(modified))
}

func TestIndexFailedSnapshotLeavesStateUnchanged(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.gob")

	idx, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, []vector.Point{{ID: "dir:a_0", Source: "dir", DocumentID: "a", Vector: []float32{1}}}))

	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	assert.Error(t, idx.DeleteDocument(ctx, "dir", "a"))
	assert.Equal(t, []string{"dir:a_0"}, idx.IDs("dir", "a"))
}

func TestOpenRejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.gob")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o644))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 0, vector.Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Zero(t, vector.Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, vector.Cosine([]float32{1}, []float32{1, 1}))
}
