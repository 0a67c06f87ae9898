package chat

import (
	"context"
	"slices"

	appErrors "go-dm/pkg/errors"
)

// DeleteMessage removes one message from the shared log for both
// participants. Only its sender may do that.
func (s *Service) DeleteMessage(ctx context.Context, selfID, conversationID, messageID string) error {
	switch {
	case selfID == "":
		return appErrors.ErrMissingUser
	case conversationID == "":
		return appErrors.ErrNoConversation
	case messageID == "":
		return appErrors.ErrMessageNotFound
	}

	unlock := s.locks.Lock(conversationLock(conversationID))
	defer unlock()

	err := s.messages.Rewrite(ctx, conversationID, func(msgs []Message) ([]Message, bool, error) {
		i := slices.IndexFunc(msgs, func(m Message) bool { return m.ID == messageID })
		if i < 0 {
			return nil, false, appErrors.ErrMessageNotFound
		}
		if msgs[i].From != selfID {
			return nil, false, appErrors.ErrNotAuthorized
		}
		return slices.Delete(msgs, i, i+1), true, nil
	})
	if err != nil {
		s.logger.Warn("delete failed", "conversation", conversationID, "message", messageID, "user", selfID, "err", err)
	}
	return storeError(err)
}

// HideChat hides the conversation from selfID's own list. The peer's entry
// and the log are untouched; hiding twice is the same as hiding once.
func (s *Service) HideChat(ctx context.Context, selfID, conversationID string) error {
	if selfID == "" {
		return appErrors.ErrMissingUser
	}
	if conversationID == "" {
		return appErrors.ErrNoConversation
	}
	return storeError(s.updateEntry(ctx, selfID, conversationID, func(e *SummaryEntry) bool {
		if e.HiddenBy(selfID) {
			return false
		}
		e.HiddenFor = append(e.HiddenFor, selfID)
		return true
	}))
}

// ReportRequest names the reported conversation. PeerID is looked up from
// the reporter's record when empty.
type ReportRequest struct {
	SelfID         string
	PeerID         string
	ConversationID string
	Reason         string
}

// Report tombstones every message of the conversation for the reporter and
// files a report record. The messages stay visible to the peer. Only the
// tombstone write can fail the call; the record is best effort.
func (s *Service) Report(ctx context.Context, req ReportRequest) error {
	if req.SelfID == "" {
		return appErrors.ErrMissingUser
	}
	if req.ConversationID == "" {
		return appErrors.ErrNoConversation
	}
	logger := s.logger.With("conversation", req.ConversationID, "user", req.SelfID)

	unlock := s.locks.Lock(conversationLock(req.ConversationID))
	err := s.messages.Rewrite(ctx, req.ConversationID, func(msgs []Message) ([]Message, bool, error) {
		changed := false
		for i := range msgs {
			if msgs[i].VisibleTo(req.SelfID) {
				msgs[i].DeletedFor = append(msgs[i].DeletedFor, req.SelfID)
				changed = true
			}
		}
		return msgs, changed, nil
	})
	unlock()
	if err != nil {
		logger.Error("report tombstones failed", "err", err)
		return storeError(err)
	}

	peerID := req.PeerID
	if peerID == "" {
		peerID = s.lookupPeer(ctx, req.SelfID, req.ConversationID)
	}
	rec := ReportRecord{
		MessagesID:     req.ConversationID,
		ReportedBy:     req.SelfID,
		ReportedUserID: peerID,
		Reason:         req.Reason,
		ReportedAt:     s.nowMillis(),
	}
	if err := s.reports.Save(ctx, rec); err != nil {
		logger.Warn("report record not written", "err", err)
	}
	return nil
}

func (s *Service) lookupPeer(ctx context.Context, owner, conversationID string) string {
	entries, err := s.chats.Entries(ctx, owner)
	if err != nil {
		return ""
	}
	if i := findEntry(entries, conversationID); i >= 0 {
		return entries[i].PeerID
	}
	return ""
}
