package chat

import (
	"context"
	"errors"

	"go-dm/internal/docstore"
)

const (
	chatsCollection    = "chats"
	messagesCollection = "messages"
	reportsCollection  = "reports"

	chatsField    = "chatsData"
	messagesField = "messages"
)

// modify is the read-modify-write used for every whole-array rewrite. With
// attempts > 0 each commit is conditional on the version it read and the
// computation is re-run on conflict; attempts <= 0 commits unconditionally
// (last write wins).
func modify(ctx context.Context, store docstore.Store, attempts int, collection, key string,
	compute func(doc *docstore.Document) (docstore.Fields, bool, error)) error {
	lastWriteWins := attempts <= 0
	if lastWriteWins {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		doc, err := store.Get(ctx, collection, key)
		if err != nil {
			return err
		}
		fields, changed, err := compute(doc)
		if err != nil || !changed {
			return err
		}
		var opts []docstore.WriteOption
		if !lastWriteWins {
			opts = append(opts, docstore.IfVersion(doc.Version))
		}
		err = store.UpdateFields(ctx, collection, key, fields, opts...)
		if errors.Is(err, docstore.ErrVersionConflict) {
			continue
		}
		return err
	}
	return docstore.ErrVersionConflict
}

// ChatRepository owns chats/{userId} documents.
type ChatRepository struct {
	store    docstore.Store
	attempts int
}

func NewChatRepository(store docstore.Store, attempts int) *ChatRepository {
	return &ChatRepository{store: store, attempts: attempts}
}

// EnsureRecord creates chats/{owner} when absent. The merge carries no
// fields so an existing entry list is never touched.
func (r *ChatRepository) EnsureRecord(ctx context.Context, owner string) error {
	_, err := r.store.Get(ctx, chatsCollection, owner)
	if !errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	return r.store.SetMerge(ctx, chatsCollection, owner, docstore.Fields{})
}

func (r *ChatRepository) Entries(ctx context.Context, owner string) ([]SummaryEntry, error) {
	doc, err := r.store.Get(ctx, chatsCollection, owner)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeEntries(doc)
}

func (r *ChatRepository) AppendEntry(ctx context.Context, owner string, entry SummaryEntry) error {
	if entry.HiddenFor == nil {
		entry.HiddenFor = []string{}
	}
	return r.store.AppendToArrayField(ctx, chatsCollection, owner, chatsField, entry)
}

// Modify rewrites the owner's entry list. fn reports whether it changed
// anything; unchanged lists are not written.
func (r *ChatRepository) Modify(ctx context.Context, owner string, fn func([]SummaryEntry) ([]SummaryEntry, bool, error)) error {
	return modify(ctx, r.store, r.attempts, chatsCollection, owner, func(doc *docstore.Document) (docstore.Fields, bool, error) {
		entries, err := decodeEntries(doc)
		if err != nil {
			return nil, false, err
		}
		next, changed, err := fn(entries)
		if err != nil || !changed {
			return nil, false, err
		}
		return docstore.Fields{chatsField: next}, true, nil
	})
}

func (r *ChatRepository) Subscribe(ctx context.Context, owner string, fn func(*docstore.Document)) (docstore.Cancel, error) {
	return r.store.Subscribe(ctx, chatsCollection, owner, fn)
}

func decodeEntries(doc *docstore.Document) ([]SummaryEntry, error) {
	var entries []SummaryEntry
	if _, err := doc.Decode(chatsField, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func findEntry(entries []SummaryEntry, conversationID string) int {
	for i, e := range entries {
		if e.MessagesID == conversationID {
			return i
		}
	}
	return -1
}

// MessageRepository owns messages/{conversationId} documents.
type MessageRepository struct {
	store    docstore.Store
	attempts int
}

func NewMessageRepository(store docstore.Store, attempts int) *MessageRepository {
	return &MessageRepository{store: store, attempts: attempts}
}

func (r *MessageRepository) NewConversationID() string {
	return r.store.NewKey(messagesCollection)
}

func (r *MessageRepository) Create(ctx context.Context, conversationID string, createdAt int64) error {
	return r.store.SetMerge(ctx, messagesCollection, conversationID, docstore.Fields{
		"createdAt":   createdAt,
		messagesField: []Message{},
	})
}

func (r *MessageRepository) Append(ctx context.Context, conversationID string, msg Message) error {
	return r.store.AppendToArrayField(ctx, messagesCollection, conversationID, messagesField, msg)
}

func (r *MessageRepository) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	doc, err := r.store.Get(ctx, messagesCollection, conversationID)
	if err != nil {
		return nil, err
	}
	return decodeMessages(doc)
}

// Rewrite replaces the whole message sequence with fn's result. A missing
// log is left alone.
func (r *MessageRepository) Rewrite(ctx context.Context, conversationID string, fn func([]Message) ([]Message, bool, error)) error {
	err := modify(ctx, r.store, r.attempts, messagesCollection, conversationID, func(doc *docstore.Document) (docstore.Fields, bool, error) {
		msgs, err := decodeMessages(doc)
		if err != nil {
			return nil, false, err
		}
		next, changed, err := fn(msgs)
		if err != nil || !changed {
			return nil, false, err
		}
		if next == nil {
			next = []Message{}
		}
		return docstore.Fields{messagesField: next}, true, nil
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	return err
}

func (r *MessageRepository) Subscribe(ctx context.Context, conversationID string, fn func(*docstore.Document)) (docstore.Cancel, error) {
	return r.store.Subscribe(ctx, messagesCollection, conversationID, fn)
}

func decodeMessages(doc *docstore.Document) ([]Message, error) {
	var msgs []Message
	if _, err := doc.Decode(messagesField, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

type ReportRepository struct {
	store docstore.Store
}

func NewReportRepository(store docstore.Store) *ReportRepository {
	return &ReportRepository{store: store}
}

func (r *ReportRepository) Save(ctx context.Context, rec ReportRecord) error {
	_, err := r.store.Add(ctx, reportsCollection, docstore.Fields{
		"messagesId":     rec.MessagesID,
		"reportedBy":     rec.ReportedBy,
		"reportedUserId": rec.ReportedUserID,
		"reason":         rec.Reason,
		"reportedAt":     rec.ReportedAt,
	})
	return err
}
