package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-dm/internal/docstore"
)

func TestRepository_Profiles(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	defer store.Close()
	repo := NewRepository(store)

	_, err := repo.GetProfile(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, repo.TouchLastSeen(ctx, "ghost", 42))
	_, err = store.Get(ctx, usersCollection, "ghost")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	want := Profile{ID: "u1", Username: "alice", Name: "Alice", Avatar: "a.png", Bio: "hi"}
	require.NoError(t, repo.SaveProfile(ctx, want))
	require.NoError(t, repo.TouchLastSeen(ctx, "u1", 1234))

	got, err := repo.GetProfile(ctx, "u1")
	require.NoError(t, err)
	want.LastSeen = 1234
	assert.Equal(t, &want, got)
	assert.Equal(t, "Alice", got.DisplayName())
}

func TestProfile_DisplayName(t *testing.T) {
	assert.Equal(t, "bob", Profile{ID: "u2", Username: "bob"}.DisplayName())
	assert.Equal(t, "u3", Profile{ID: "u3"}.DisplayName())
}
