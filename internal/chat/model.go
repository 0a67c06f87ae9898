package chat

import (
	"slices"

	"go-dm/internal/user"
)

// ---------------------------------------------
// 🗄️ Document models (field names are the stored names)
// ---------------------------------------------

// SummaryEntry is one participant's row for a conversation inside
// chats/{owner}.chatsData. Each side only ever rewrites its own copy.
type SummaryEntry struct {
	MessagesID  string   `json:"messagesId"`
	PeerID      string   `json:"rId"`
	LastMessage string   `json:"lastMessage"`
	UpdatedAt   int64    `json:"updatedAt"`
	MessageSeen bool     `json:"messageSeen"`
	HiddenFor   []string `json:"hiddenFor"`
}

func (e SummaryEntry) Unread() bool { return !e.MessageSeen }

func (e SummaryEntry) HiddenBy(userID string) bool {
	return slices.Contains(e.HiddenFor, userID)
}

// Message is one element of messages/{conversationId}.messages.
type Message struct {
	ID         string   `json:"id"`
	From       string   `json:"from"`
	Text       string   `json:"text,omitempty"`
	Image      string   `json:"image,omitempty"`
	CreatedAt  int64    `json:"createdAt"`
	DeletedFor []string `json:"deletedFor,omitempty"`
}

// VisibleTo is false once userID soft-deleted the message for themselves.
func (m Message) VisibleTo(userID string) bool {
	return !slices.Contains(m.DeletedFor, userID)
}

// Preview is the text copied into both summary entries.
func (m Message) Preview() string {
	if m.Text != "" {
		return m.Text
	}
	if m.Image != "" {
		return "Image"
	}
	return ""
}

type ReportRecord struct {
	MessagesID     string `json:"messagesId"`
	ReportedBy     string `json:"reportedBy"`
	ReportedUserID string `json:"reportedUserId"`
	Reason         string `json:"reason"`
	ReportedAt     int64  `json:"reportedAt"`
}

// ---------------------------------------------
// ⚡ View models published by a Session
// ---------------------------------------------

type ConversationView struct {
	SummaryEntry
	Peer user.Profile `json:"peer"`
}

type DeliveryStatus string

const (
	StatusSent    DeliveryStatus = "sent"
	StatusPending DeliveryStatus = "pending"
	StatusFailed  DeliveryStatus = "failed"
)

type MessageView struct {
	Message
	Mine   bool           `json:"mine"`
	Status DeliveryStatus `json:"status"`
}

type CreateResult struct {
	ConversationID string `json:"conversation_id"`
	Created        bool   `json:"created"`
}

// SendRequest carries one outbound message. Text is trimmed before use.
type SendRequest struct {
	SelfID         string
	PeerID         string
	ConversationID string
	Text           string
	ImageRef       string
}
