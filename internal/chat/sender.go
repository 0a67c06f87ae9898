package chat

import (
	"context"
	"errors"
	"strings"

	"go-dm/internal/docstore"
	appErrors "go-dm/pkg/errors"
)

// Compose checks req and builds the message it would send. It never touches
// the store.
func (s *Service) Compose(req SendRequest) (Message, error) {
	text := strings.TrimSpace(req.Text)
	switch {
	case req.SelfID == "":
		return Message{}, appErrors.ErrMissingUser
	case req.ConversationID == "":
		return Message{}, appErrors.ErrNoConversation
	case req.PeerID == "":
		return Message{}, appErrors.ErrMissingUser
	case text == "" && req.ImageRef == "":
		return Message{}, appErrors.ErrEmptyMessage
	}
	now := s.nowMillis()
	return Message{
		ID:        s.newMessageID(now),
		From:      req.SelfID,
		Text:      text,
		Image:     req.ImageRef,
		CreatedAt: now,
	}, nil
}

// Deliver appends msg to the log and then refreshes the sender's entry (seen)
// and the peer's entry (unread). The three writes are independent: whatever
// succeeded stays committed and the first failure is returned.
func (s *Service) Deliver(ctx context.Context, req SendRequest, msg Message) error {
	unlock := s.locks.Lock(conversationLock(req.ConversationID))
	defer unlock()

	logger := s.logger.With("conversation", req.ConversationID, "user", req.SelfID)
	if err := s.messages.Append(ctx, req.ConversationID, msg); err != nil {
		logger.Error("message append failed", "message", msg.ID, "err", err)
		if errors.Is(err, docstore.ErrNotFound) {
			return appErrors.Wrap(appErrors.CodeNotFound, "conversation not found", err)
		}
		return storeError(err)
	}

	preview := msg.Preview()
	now := s.nowMillis()
	var firstErr error
	for _, side := range []struct {
		owner, peer string
		seen        bool
	}{
		{req.SelfID, req.PeerID, true},
		{req.PeerID, req.SelfID, false},
	} {
		err := s.upsertEntry(ctx, side.owner, SummaryEntry{
			MessagesID:  req.ConversationID,
			PeerID:      side.peer,
			LastMessage: preview,
			UpdatedAt:   now,
			MessageSeen: side.seen,
		})
		if err != nil {
			logger.Error("summary entry left stale", "owner", side.owner, "err", err)
			if firstErr == nil {
				firstErr = storeError(err)
			}
		}
	}
	return firstErr
}

// Send is Compose followed by Deliver. The composed message is returned even
// when delivery fails.
func (s *Service) Send(ctx context.Context, req SendRequest) (Message, error) {
	msg, err := s.Compose(req)
	if err != nil {
		return Message{}, err
	}
	return msg, s.Deliver(ctx, req, msg)
}

// upsertEntry refreshes preview, timestamp and seen flag of the owner's
// entry, recreating it when it is missing. The hide-set is kept.
func (s *Service) upsertEntry(ctx context.Context, owner string, fresh SummaryEntry) error {
	unlock := s.locks.Lock(recordLock(owner))
	defer unlock()
	if err := s.chats.EnsureRecord(ctx, owner); err != nil {
		return err
	}
	return s.chats.Modify(ctx, owner, func(entries []SummaryEntry) ([]SummaryEntry, bool, error) {
		i := findEntry(entries, fresh.MessagesID)
		if i < 0 {
			fresh.HiddenFor = []string{}
			return append(entries, fresh), true, nil
		}
		e := &entries[i]
		if fresh.LastMessage != "" {
			e.LastMessage = fresh.LastMessage
		}
		e.UpdatedAt = fresh.UpdatedAt
		e.MessageSeen = fresh.MessageSeen
		return entries, true, nil
	})
}

// updateEntry applies fn to the owner's entry for conversationID. A missing
// record or entry is a no-op, as is fn returning false.
func (s *Service) updateEntry(ctx context.Context, owner, conversationID string, fn func(*SummaryEntry) bool) error {
	unlock := s.locks.Lock(recordLock(owner))
	defer unlock()
	err := s.chats.Modify(ctx, owner, func(entries []SummaryEntry) ([]SummaryEntry, bool, error) {
		i := findEntry(entries, conversationID)
		if i < 0 {
			return nil, false, nil
		}
		return entries, fn(&entries[i]), nil
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	return err
}

// MarkSeen flags the owner's entry as read. Already-read entries are not
// rewritten.
func (s *Service) MarkSeen(ctx context.Context, selfID, conversationID string) error {
	if selfID == "" {
		return appErrors.ErrMissingUser
	}
	if conversationID == "" {
		return appErrors.ErrNoConversation
	}
	return storeError(s.updateEntry(ctx, selfID, conversationID, func(e *SummaryEntry) bool {
		if e.MessageSeen {
			return false
		}
		e.MessageSeen = true
		return true
	}))
}
