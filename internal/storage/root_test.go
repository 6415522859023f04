package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRootRoundTrip(t *testing.T) {
	root := NewMemoryRoot()

	require.NoError(t, root.WriteFileAtomic("a.json", []byte(`{"v":1}`)))
	assert.True(t, root.Exists("a.json"))
	assert.False(t, root.Exists("a.json.tmp"))

	data, err := root.ReadFile("a.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(data))

	size, err := root.Size("a.json")
	require.NoError(t, err)
	assert.EqualValues(t, 7, size)

	require.NoError(t, root.WriteFileAtomic("a.json", []byte(`{}`)))
	data, err = root.ReadFile("a.json")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))

	require.NoError(t, root.Remove("a.json"))
	require.NoError(t, root.Remove("a.json"))
	assert.False(t, root.Exists("a.json"))
}

func TestSubAndList(t *testing.T) {
	root := NewMemoryRoot()
	sub, err := root.Sub("icon-cache")
	require.NoError(t, err)

	require.NoError(t, sub.WriteFileAtomic("b.png", []byte("b")))
	require.NoError(t, sub.WriteFileAtomic("a.png", []byte("a")))
	require.NoError(t, root.WriteFileAtomic("icon-usage.json", []byte("{}")))

	names, err := sub.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.png"}, names)

	assert.True(t, root.Exists("icon-cache/a.png"))
}

func TestOSRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "iconcache")

	root, err := NewOSRoot(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, root.String())

	require.NoError(t, root.WriteFileAtomic("x.bin", []byte("payload")))
	data, err := os.ReadFile(filepath.Join(dir, "x.bin"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = NewOSRoot("")
	assert.Error(t, err)
}
