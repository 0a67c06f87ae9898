package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-dm/internal/docstore"
	appErrors "go-dm/pkg/errors"
)

func TestSend_UpdatesLogAndBothEntries(t *testing.T) {
	svc := newTestService(t, nil)
	id := mustCreate(t, svc, "alice", "bob")

	msg := mustSend(t, svc, "alice", "bob", id, "  hi  ")

	assert.Regexp(t, `^\d+-[0-9a-f]{8}$`, msg.ID)
	assert.Equal(t, "hi", msg.Text)

	msgs := messagesOf(t, svc, id)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg, msgs[0])
	assert.Equal(t, "alice", msgs[0].From)

	a := entryOf(t, svc, "alice", id)
	b := entryOf(t, svc, "bob", id)
	assert.False(t, a.Unread())
	assert.True(t, b.Unread())
	assert.Equal(t, "hi", a.LastMessage)
	assert.Equal(t, "hi", b.LastMessage)
	assert.Equal(t, a.UpdatedAt, b.UpdatedAt)
	assert.Greater(t, a.UpdatedAt, msg.CreatedAt-1)
}

func TestSend_ImageOnlyPreview(t *testing.T) {
	svc := newTestService(t, nil)
	id := mustCreate(t, svc, "alice", "bob")

	_, err := svc.Send(context.Background(), SendRequest{SelfID: "alice", PeerID: "bob", ConversationID: id, ImageRef: "https://cdn/x.png"})
	require.NoError(t, err)

	assert.Equal(t, "Image", entryOf(t, svc, "bob", id).LastMessage)
	msgs := messagesOf(t, svc, id)
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].Text)
	assert.Equal(t, "https://cdn/x.png", msgs[0].Image)
}

func TestSend_PreconditionsNeverReachStore(t *testing.T) {
	store := newHookStore(t)
	svc := newTestService(t, store)

	tests := []struct {
		name string
		req  SendRequest
		want error
	}{
		{"blank text", SendRequest{SelfID: "alice", PeerID: "bob", ConversationID: "c1", Text: "   "}, appErrors.ErrEmptyMessage},
		{"no conversation", SendRequest{SelfID: "alice", PeerID: "bob", Text: "hi"}, appErrors.ErrNoConversation},
		{"no peer", SendRequest{SelfID: "alice", ConversationID: "c1", Text: "hi"}, appErrors.ErrMissingUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Send(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, appErrors.CodeFailedPrecondition, appErrors.CodeOf(err))
		})
	}
	updates, appends := store.counts()
	assert.Zero(t, updates)
	assert.Zero(t, appends)
}

func TestSend_UnknownConversation(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Send(context.Background(), SendRequest{SelfID: "alice", PeerID: "bob", ConversationID: "missing", Text: "hi"})
	assert.Equal(t, appErrors.CodeNotFound, appErrors.CodeOf(err))
	assert.Empty(t, entriesOf(t, svc, "alice"))
}

func TestSend_RecreatesMissingEntry(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	require.NoError(t, svc.messages.Create(ctx, "c1", 1))

	mustSend(t, svc, "alice", "bob", "c1", "hello")

	a := entryOf(t, svc, "alice", "c1")
	b := entryOf(t, svc, "bob", "c1")
	assert.Equal(t, "bob", a.PeerID)
	assert.Equal(t, "alice", b.PeerID)
	assert.True(t, b.Unread())
	assert.NotNil(t, b.HiddenFor)
}

func TestSend_KeepsHideState(t *testing.T) {
	svc := newTestService(t, nil)
	id := mustCreate(t, svc, "alice", "bob")
	require.NoError(t, svc.HideChat(context.Background(), "alice", id))

	mustSend(t, svc, "bob", "alice", id, "still there?")

	a := entryOf(t, svc, "alice", id)
	assert.True(t, a.HiddenBy("alice"))
	assert.Equal(t, "still there?", a.LastMessage)
	assert.True(t, a.Unread())
}

func TestSend_IDsDistinctWithinOneMillisecond(t *testing.T) {
	frozen := time.UnixMilli(1_700_000_000_000)
	svc := newTestService(t, nil, WithClock(func() time.Time { return frozen }))
	id := mustCreate(t, svc, "alice", "bob")

	first := mustSend(t, svc, "alice", "bob", id, "one")
	second := mustSend(t, svc, "alice", "bob", id, "two")

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, messagesOf(t, svc, id), 2)
}

func TestSend_PartialFailureIsNotUnwound(t *testing.T) {
	store := newHookStore(t)
	svc := newTestService(t, store)
	id := mustCreate(t, svc, "alice", "bob")
	store.onUpdate = func(collection, key string, _ docstore.Fields, _ bool) error {
		if collection == chatsCollection && key == "bob" {
			return errors.New("network down")
		}
		return nil
	}

	msg, err := svc.Send(context.Background(), SendRequest{SelfID: "alice", PeerID: "bob", ConversationID: id, Text: "hi"})
	require.ErrorIs(t, err, appErrors.ErrStoreUnavailable)
	assert.NotEmpty(t, msg.ID)

	// Log and sender entry committed; the peer's entry is stale.
	assert.Len(t, messagesOf(t, svc, id), 1)
	assert.Equal(t, "hi", entryOf(t, svc, "alice", id).LastMessage)
	assert.Empty(t, entryOf(t, svc, "bob", id).LastMessage)
}

func TestSend_ConcurrentSendsAllLand(t *testing.T) {
	svc := newTestService(t, nil)
	id := mustCreate(t, svc, "alice", "bob")

	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		self, peer := "alice", "bob"
		if i%2 == 1 {
			self, peer = peer, self
		}
		go func() {
			_, err := svc.Send(context.Background(), SendRequest{SelfID: self, PeerID: peer, ConversationID: id, Text: "ping"})
			errs <- err
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, <-errs)
	}
	assert.Len(t, messagesOf(t, svc, id), 20)
	assert.Len(t, entriesOf(t, svc, "alice"), 1)
	assert.Len(t, entriesOf(t, svc, "bob"), 1)
}

func TestMarkSeen(t *testing.T) {
	store := newHookStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()
	id := mustCreate(t, svc, "alice", "bob")
	mustSend(t, svc, "alice", "bob", id, "hi")
	require.True(t, entryOf(t, svc, "bob", id).Unread())

	require.NoError(t, svc.MarkSeen(ctx, "bob", id))
	assert.False(t, entryOf(t, svc, "bob", id).Unread())

	before, err := store.Get(ctx, chatsCollection, "bob")
	require.NoError(t, err)
	require.NoError(t, svc.MarkSeen(ctx, "bob", id))
	after, err := store.Get(ctx, chatsCollection, "bob")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version, "already-seen entry must not be rewritten")

	assert.NoError(t, svc.MarkSeen(ctx, "bob", "unknown"))
	assert.NoError(t, svc.MarkSeen(ctx, "nobody", id))
	assert.ErrorIs(t, svc.MarkSeen(ctx, "bob", ""), appErrors.ErrNoConversation)
}
