package chat

import (
	"context"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"go-dm/internal/docstore"
	appErrors "go-dm/pkg/errors"
)

// Mutator is the set of user actions the gateway can run. Both a live
// Session and the stateless Service.For implement it.
type Mutator interface {
	CreateConversation(ctx context.Context, peerID string) (CreateResult, error)
	Send(ctx context.Context, req SendRequest) (Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	HideChat(ctx context.Context, conversationID string) error
	Report(ctx context.Context, conversationID, reason string) error
	MarkSeen(ctx context.Context, conversationID string) error
}

// LastSeenToucher is implemented by profile lookups that can stamp presence.
type LastSeenToucher interface {
	TouchLastSeen(ctx context.Context, id string, millis int64) error
}

type messagesDelivery struct {
	gen  uint64
	msgs []Message
}

type localMessage struct {
	msg    Message
	status DeliveryStatus
}

// Session is the live view of one signed-in user: their conversation list
// and the messages of the selected conversation. All view state is owned by
// the run loop; subscription callbacks and user actions reach it through
// channels, the same way the hub owns its client map.
type Session struct {
	svc    *Service
	userID string
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	chatsIn    chan []ConversationView
	messagesIn chan messagesDelivery
	commands   chan func()
	quit       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	selectMu   sync.Mutex

	chatUpdates    chan []ConversationView
	messageUpdates chan []MessageView

	// Owned by run.
	cancelChats    docstore.Cancel
	cancelMessages docstore.Cancel
	conversations  []ConversationView
	localHidden    map[string]bool
	selected       string
	gen            uint64
	remote         []Message
	local          []localMessage
	removed        map[string]bool
	suppressed     map[string]bool
}

// Open starts a session for userID: it makes sure the user's conversation
// record exists, stamps lastSeen and subscribes to the record.
func (s *Service) Open(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, appErrors.ErrMissingUser
	}
	if err := s.EnsureRecord(ctx, userID); err != nil {
		return nil, err
	}
	if t, ok := s.profiles.(LastSeenToucher); ok {
		if err := t.TouchLastSeen(ctx, userID, s.nowMillis()); err != nil {
			s.logger.Warn("lastSeen not updated", "user", userID, "err", err)
		}
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &Session{
		svc:            s,
		userID:         userID,
		logger:         s.logger.With("user", userID),
		ctx:            sctx,
		cancel:         cancel,
		chatsIn:        make(chan []ConversationView),
		messagesIn:     make(chan messagesDelivery),
		commands:       make(chan func()),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		chatUpdates:    make(chan []ConversationView, 1),
		messageUpdates: make(chan []MessageView, 1),
		localHidden:    make(map[string]bool),
		removed:        make(map[string]bool),
		suppressed:     make(map[string]bool),
	}

	stop, err := s.chats.Subscribe(sctx, userID, func(doc *docstore.Document) {
		entries, err := decodeEntries(doc)
		if err != nil {
			sess.logger.Warn("skipping undecodable conversation record", "version", doc.Version, "err", err)
			return
		}
		views := s.ResolvePeers(sctx, entries)
		select {
		case sess.chatsIn <- views:
		case <-sess.quit:
		}
	})
	if err != nil {
		cancel()
		return nil, storeError(err)
	}
	sess.cancelChats = stop

	go sess.run()
	return sess, nil
}

func (s *Session) UserID() string { return s.userID }

// ChatUpdates carries the visible conversation list after every change. Only
// the newest list is kept when the reader falls behind. The channel is closed
// by Close.
func (s *Session) ChatUpdates() <-chan []ConversationView { return s.chatUpdates }

// MessageUpdates carries the message list of the selected conversation, with
// the same latest-wins behavior as ChatUpdates.
func (s *Session) MessageUpdates() <-chan []MessageView { return s.messageUpdates }

func (s *Session) run() {
	defer close(s.done)
	defer s.shutdown()
	for {
		select {
		case <-s.quit:
			return

		case views := <-s.chatsIn:
			s.conversations = views
			s.publishChats()

		case d := <-s.messagesIn:
			if d.gen != s.gen {
				continue
			}
			s.remote = d.msgs
			s.reconcile()
			s.publishMessages()

		case cmd := <-s.commands:
			cmd()
		}
	}
}

func (s *Session) shutdown() {
	s.cancelChats()
	if s.cancelMessages != nil {
		s.cancelMessages()
		s.cancelMessages = nil
	}
	s.cancel()
	s.conversations = nil
	s.remote = nil
	s.local = nil
	s.selected = ""
	clear(s.localHidden)
	clear(s.removed)
	clear(s.suppressed)
	close(s.chatUpdates)
	close(s.messageUpdates)
}

// Close cancels every subscription and drops all view state. It is safe to
// call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
}

// do runs fn on the loop and waits for it.
func (s *Session) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case s.commands <- func() { fn(); close(ran) }:
	case <-s.done:
		return appErrors.ErrSessionClosed
	}
	<-ran
	return nil
}

// Select makes conversationID the active conversation. The previous message
// subscription is cancelled before the new one starts; an empty id just
// clears the selection. The entry is marked seen afterwards.
func (s *Session) Select(ctx context.Context, conversationID string) error {
	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	var gen uint64
	if err := s.do(func() {
		if s.cancelMessages != nil {
			s.cancelMessages()
			s.cancelMessages = nil
		}
		s.gen++
		gen = s.gen
		s.selected = conversationID
		s.remote = nil
		s.local = nil
		clear(s.removed)
		clear(s.suppressed)
		s.publishMessages()
	}); err != nil {
		return err
	}
	if conversationID == "" {
		return nil
	}

	stop, err := s.svc.messages.Subscribe(s.ctx, conversationID, func(doc *docstore.Document) {
		msgs, err := decodeMessages(doc)
		if err != nil {
			s.logger.Warn("skipping undecodable message log", "conversation", conversationID, "err", err)
			return
		}
		select {
		case s.messagesIn <- messagesDelivery{gen: gen, msgs: msgs}:
		case <-s.quit:
		}
	})
	if err != nil {
		return storeError(err)
	}
	installed := false
	_ = s.do(func() {
		if s.gen == gen {
			s.cancelMessages = stop
			installed = true
		}
	})
	if !installed {
		stop()
		return appErrors.ErrSessionClosed
	}

	if err := s.svc.MarkSeen(ctx, s.userID, conversationID); err != nil {
		s.logger.Warn("mark seen failed", "conversation", conversationID, "err", err)
	}
	return nil
}

func (s *Session) Selected() string {
	var id string
	_ = s.do(func() { id = s.selected })
	return id
}

// Chats returns the visible conversation list, newest first.
func (s *Session) Chats() []ConversationView {
	var out []ConversationView
	_ = s.do(func() { out = s.visibleChats() })
	return out
}

// Messages returns the selected conversation's messages as the user sees
// them, including local sends not yet confirmed by the log.
func (s *Session) Messages() []MessageView {
	var out []MessageView
	_ = s.do(func() { out = s.visibleMessages() })
	return out
}

// Media lists image refs of the visible messages, oldest first.
func (s *Session) Media() []string {
	var out []string
	_ = s.do(func() {
		for _, m := range s.visibleMessages() {
			if m.Image != "" {
				out = append(out, m.Image)
			}
		}
	})
	return out
}

// CreateConversation reuses a conversation with peerID already present in
// the local view before asking the service.
func (s *Session) CreateConversation(ctx context.Context, peerID string) (CreateResult, error) {
	var existing string
	_ = s.do(func() {
		for _, c := range s.conversations {
			if c.PeerID == peerID && !c.HiddenBy(s.userID) {
				existing = c.MessagesID
				return
			}
		}
	})
	if existing != "" && peerID != "" {
		return CreateResult{ConversationID: existing}, nil
	}
	return s.svc.CreateConversation(ctx, s.userID, peerID)
}

// Send applies the message to the local view as pending, then delivers it.
// On failure the local copy stays, flagged failed.
func (s *Session) Send(ctx context.Context, req SendRequest) (Message, error) {
	req.SelfID = s.userID
	if err := s.do(func() {
		if req.ConversationID == "" {
			req.ConversationID = s.selected
		}
		if req.PeerID == "" {
			req.PeerID = s.peerOf(req.ConversationID)
		}
	}); err != nil {
		return Message{}, err
	}
	if req.PeerID == "" && req.ConversationID != "" {
		req.PeerID = s.svc.lookupPeer(ctx, s.userID, req.ConversationID)
	}

	msg, err := s.svc.Compose(req)
	if err != nil {
		return Message{}, err
	}
	_ = s.do(func() {
		if req.ConversationID == s.selected {
			s.local = append(s.local, localMessage{msg: msg, status: StatusPending})
			s.publishMessages()
		}
	})

	if err := s.svc.Deliver(ctx, req, msg); err != nil {
		_ = s.do(func() {
			if s.setStatus(msg.ID, StatusFailed) {
				s.publishMessages()
			}
		})
		return msg, err
	}
	return msg, nil
}

// DeleteMessage refuses locally when the message is known and not ours.
// Otherwise it disappears from the view at once and comes back only if the
// store write fails.
func (s *Session) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	var (
		known bool
		from  string
	)
	if err := s.do(func() {
		if conversationID == "" {
			conversationID = s.selected
		}
		if conversationID != s.selected {
			return
		}
		if m, ok := s.findMessage(messageID); ok {
			known, from = true, m.From
		}
	}); err != nil {
		return err
	}
	if known && from != s.userID {
		return appErrors.ErrNotAuthorized
	}

	_ = s.do(func() {
		if conversationID == s.selected {
			s.removed[messageID] = true
			s.publishMessages()
		}
	})
	err := s.svc.DeleteMessage(ctx, s.userID, conversationID, messageID)
	if err != nil {
		_ = s.do(func() {
			if conversationID == s.selected && s.removed[messageID] {
				delete(s.removed, messageID)
				s.publishMessages()
			}
		})
	}
	return err
}

// HideChat drops the conversation from the visible list right away.
func (s *Session) HideChat(ctx context.Context, conversationID string) error {
	if err := s.do(func() {
		if conversationID == "" {
			conversationID = s.selected
		}
		if conversationID != "" {
			s.localHidden[conversationID] = true
			s.publishChats()
		}
	}); err != nil {
		return err
	}
	err := s.svc.HideChat(ctx, s.userID, conversationID)
	if err != nil {
		_ = s.do(func() {
			delete(s.localHidden, conversationID)
			s.publishChats()
		})
	}
	return err
}

// Report clears the local message view of the conversation, then tombstones
// its messages for this user and files a report.
func (s *Session) Report(ctx context.Context, conversationID, reason string) error {
	var peerID string
	if err := s.do(func() {
		if conversationID == "" {
			conversationID = s.selected
		}
		peerID = s.peerOf(conversationID)
		if conversationID != "" && conversationID == s.selected {
			for _, m := range s.remote {
				s.suppressed[m.ID] = true
			}
			s.local = nil
			s.publishMessages()
		}
	}); err != nil {
		return err
	}
	return s.svc.Report(ctx, ReportRequest{
		SelfID:         s.userID,
		PeerID:         peerID,
		ConversationID: conversationID,
		Reason:         reason,
	})
}

func (s *Session) MarkSeen(ctx context.Context, conversationID string) error {
	return s.svc.MarkSeen(ctx, s.userID, conversationID)
}

// ---------------------------------------------
// Loop-owned helpers
// ---------------------------------------------

func (s *Session) peerOf(conversationID string) string {
	for _, c := range s.conversations {
		if c.MessagesID == conversationID {
			return c.PeerID
		}
	}
	return ""
}

func (s *Session) findMessage(id string) (Message, bool) {
	for _, m := range s.remote {
		if m.ID == id {
			return m, true
		}
	}
	for _, l := range s.local {
		if l.msg.ID == id {
			return l.msg, true
		}
	}
	return Message{}, false
}

func (s *Session) setStatus(id string, status DeliveryStatus) bool {
	for i := range s.local {
		if s.local[i].msg.ID == id {
			s.local[i].status = status
			return true
		}
	}
	return false
}

// reconcile drops local sends the log has confirmed.
func (s *Session) reconcile() {
	if len(s.local) == 0 {
		return
	}
	confirmed := make(map[string]bool, len(s.remote))
	for _, m := range s.remote {
		confirmed[m.ID] = true
	}
	s.local = slices.DeleteFunc(s.local, func(l localMessage) bool { return confirmed[l.msg.ID] })
}

func (s *Session) visibleChats() []ConversationView {
	out := make([]ConversationView, 0, len(s.conversations))
	for _, c := range s.conversations {
		if c.HiddenBy(s.userID) || s.localHidden[c.MessagesID] {
			continue
		}
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b ConversationView) int {
		switch {
		case a.UpdatedAt > b.UpdatedAt:
			return -1
		case a.UpdatedAt < b.UpdatedAt:
			return 1
		}
		return 0
	})
	return out
}

func (s *Session) visibleMessages() []MessageView {
	out := make([]MessageView, 0, len(s.remote)+len(s.local))
	if s.selected == "" {
		return out
	}
	for _, m := range s.remote {
		if !m.VisibleTo(s.userID) || s.removed[m.ID] || s.suppressed[m.ID] {
			continue
		}
		out = append(out, MessageView{Message: m, Mine: m.From == s.userID, Status: StatusSent})
	}
	for _, l := range s.local {
		if s.removed[l.msg.ID] {
			continue
		}
		out = append(out, MessageView{Message: l.msg, Mine: true, Status: l.status})
	}
	return out
}

func (s *Session) publishChats() {
	offerLatest(s.chatUpdates, s.visibleChats())
}

func (s *Session) publishMessages() {
	offerLatest(s.messageUpdates, s.visibleMessages())
}

// offerLatest replaces whatever unread value sits in ch. Only the loop
// writes to these channels.
func offerLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
