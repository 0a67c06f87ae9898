package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBoltStore(t *testing.T) *DocStore {
	t.Helper()
	backend, err := OpenBolt(filepath.Join(t.TempDir(), "conv", "docs.bolt"))
	require.NoError(t, err)
	s := New(backend, NewLocalFeed(), nil)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltStore(t *testing.T) {
	runStoreSuite(t, newBoltStore)
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.bolt")
	ctx := context.Background()

	backend, err := OpenBolt(path)
	require.NoError(t, err)
	s := New(backend, NewLocalFeed(), nil)
	require.NoError(t, s.SetMerge(ctx, "chats", "u1", Fields{"chatsData": []string{"a"}}))
	require.NoError(t, s.Close())

	backend, err = OpenBolt(path)
	require.NoError(t, err)
	s = New(backend, NewLocalFeed(), nil)
	defer s.Close()

	doc, err := s.Get(ctx, "chats", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
	var got []string
	_, err = doc.Decode("chatsData", &got)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
}
