package chat

import (
	"context"

	appErrors "go-dm/pkg/errors"
)

// CreateConversation opens a conversation between selfID and peerID. When the
// caller's record already lists peerID that conversation is returned with
// Created=false. The check reads only the caller's record, so two sessions
// racing on the same pair can still create two conversations.
func (s *Service) CreateConversation(ctx context.Context, selfID, peerID string) (CreateResult, error) {
	if selfID == "" || peerID == "" {
		return CreateResult{}, appErrors.ErrMissingUser
	}
	if selfID == peerID {
		return CreateResult{}, appErrors.ErrSelfConversation
	}

	entries, err := s.chats.Entries(ctx, selfID)
	if err != nil {
		return CreateResult{}, storeError(err)
	}
	for _, e := range entries {
		if e.PeerID == peerID {
			return CreateResult{ConversationID: e.MessagesID}, nil
		}
	}

	id := s.messages.NewConversationID()
	now := s.nowMillis()
	if err := s.messages.Create(ctx, id, now); err != nil {
		return CreateResult{}, storeError(err)
	}

	logger := s.logger.With("conversation", id, "user", selfID, "peer", peerID)
	for _, side := range []struct{ owner, peer string }{{selfID, peerID}, {peerID, selfID}} {
		if err := s.appendEntry(ctx, side.owner, SummaryEntry{
			MessagesID:  id,
			PeerID:      side.peer,
			UpdatedAt:   now,
			MessageSeen: true,
		}); err != nil {
			logger.Error("conversation left partially created", "owner", side.owner, "err", err)
			return CreateResult{}, storeError(err)
		}
	}
	logger.Debug("conversation created")
	return CreateResult{ConversationID: id, Created: true}, nil
}

func (s *Service) appendEntry(ctx context.Context, owner string, entry SummaryEntry) error {
	unlock := s.locks.Lock(recordLock(owner))
	defer unlock()
	if err := s.chats.EnsureRecord(ctx, owner); err != nil {
		return err
	}
	return s.chats.AppendEntry(ctx, owner, entry)
}

// EnsureRecord creates the user's conversation record when it does not exist
// yet. Existing entries are never touched.
func (s *Service) EnsureRecord(ctx context.Context, owner string) error {
	if owner == "" {
		return appErrors.ErrMissingUser
	}
	return storeError(s.chats.EnsureRecord(ctx, owner))
}
