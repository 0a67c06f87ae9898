package chat

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"go-dm/internal/docstore"
	"go-dm/internal/user"
)

// tickingClock advances one millisecond per reading so updatedAt values are
// strictly ordered in tests.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickingClock() *tickingClock {
	return &tickingClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func quietLogger() *log.Logger { return log.New(io.Discard) }

func newTestService(t *testing.T, store docstore.Store, opts ...Option) *Service {
	t.Helper()
	if store == nil {
		mem := docstore.NewMemory()
		t.Cleanup(func() { _ = mem.Close() })
		store = mem
	}
	base := []Option{WithClock(newTickingClock().Now), WithLogger(quietLogger())}
	return NewService(store, user.NewRepository(store), append(base, opts...)...)
}

func seedProfiles(t *testing.T, store docstore.Store, ids ...string) {
	t.Helper()
	repo := user.NewRepository(store)
	for _, id := range ids {
		require.NoError(t, repo.SaveProfile(context.Background(), user.Profile{ID: id, Username: id, Name: "User " + id}))
	}
}

func entriesOf(t *testing.T, svc *Service, owner string) []SummaryEntry {
	t.Helper()
	entries, err := svc.chats.Entries(context.Background(), owner)
	require.NoError(t, err)
	return entries
}

func entryOf(t *testing.T, svc *Service, owner, conversationID string) SummaryEntry {
	t.Helper()
	entries := entriesOf(t, svc, owner)
	i := findEntry(entries, conversationID)
	require.GreaterOrEqual(t, i, 0, "no entry for %s in %s's record", conversationID, owner)
	return entries[i]
}

func messagesOf(t *testing.T, svc *Service, conversationID string) []Message {
	t.Helper()
	msgs, err := svc.messages.Messages(context.Background(), conversationID)
	require.NoError(t, err)
	return msgs
}

func mustCreate(t *testing.T, svc *Service, self, peer string) string {
	t.Helper()
	res, err := svc.CreateConversation(context.Background(), self, peer)
	require.NoError(t, err)
	require.True(t, res.Created)
	return res.ConversationID
}

func mustSend(t *testing.T, svc *Service, self, peer, conversationID, text string) Message {
	t.Helper()
	msg, err := svc.Send(context.Background(), SendRequest{SelfID: self, PeerID: peer, ConversationID: conversationID, Text: text})
	require.NoError(t, err)
	return msg
}

// hookStore wraps a Store so tests can fail or intercept single primitives.
type hookStore struct {
	docstore.Store

	mu           sync.Mutex
	onGet        func(collection, key string) error
	onUpdate     func(collection, key string, fields docstore.Fields, conditional bool) error
	onAppend     func(collection, key string) error
	onAdd        func(collection string, fields docstore.Fields) error
	updates      int
	appends      int
	addedRecords []docstore.Fields
}

func (h *hookStore) Get(ctx context.Context, collection, key string) (*docstore.Document, error) {
	if h.onGet != nil {
		if err := h.onGet(collection, key); err != nil {
			return nil, err
		}
	}
	return h.Store.Get(ctx, collection, key)
}

func (h *hookStore) UpdateFields(ctx context.Context, collection, key string, fields docstore.Fields, opts ...docstore.WriteOption) error {
	h.mu.Lock()
	h.updates++
	hook := h.onUpdate
	h.mu.Unlock()
	if hook != nil {
		if err := hook(collection, key, fields, len(opts) > 0); err != nil {
			return err
		}
	}
	return h.Store.UpdateFields(ctx, collection, key, fields, opts...)
}

func (h *hookStore) AppendToArrayField(ctx context.Context, collection, key, field string, value any) error {
	h.mu.Lock()
	h.appends++
	hook := h.onAppend
	h.mu.Unlock()
	if hook != nil {
		if err := hook(collection, key); err != nil {
			return err
		}
	}
	return h.Store.AppendToArrayField(ctx, collection, key, field, value)
}

func (h *hookStore) Add(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	if h.onAdd != nil {
		if err := h.onAdd(collection, fields); err != nil {
			return "", err
		}
	}
	h.mu.Lock()
	h.addedRecords = append(h.addedRecords, fields)
	h.mu.Unlock()
	return h.Store.Add(ctx, collection, fields)
}

func (h *hookStore) counts() (updates, appends int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.updates, h.appends
}

func newHookStore(t *testing.T) *hookStore {
	mem := docstore.NewMemory()
	t.Cleanup(func() { _ = mem.Close() })
	return &hookStore{Store: mem}
}
