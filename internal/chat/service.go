package chat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"go-dm/internal/docstore"
	"go-dm/internal/user"
	appErrors "go-dm/pkg/errors"
)

const (
	defaultConflictRetries = 5
	profileLookupLimit     = 8
)

//go:generate mockgen -destination=mocks/mock_profiles.go -package=mocks go-dm/internal/chat ProfileLookup

// ProfileLookup is the point read used to denormalize peers.
type ProfileLookup interface {
	GetProfile(ctx context.Context, id string) (*user.Profile, error)
}

// Service runs the conversation pipelines (create, send, delete, hide,
// report, mark seen) against a document store. It is safe for concurrent use
// and serializes mutations of the same conversation or owner record.
type Service struct {
	store    docstore.Store
	chats    *ChatRepository
	messages *MessageRepository
	reports  *ReportRepository
	profiles ProfileLookup
	locks    *keyLock

	now     func() time.Time
	retries int
	logger  *log.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithConflictRetries sets how often a read-modify-write is recomputed after
// losing a version race. Zero turns the version check off.
func WithConflictRetries(n int) Option {
	return func(s *Service) { s.retries = n }
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(store docstore.Store, profiles ProfileLookup, opts ...Option) *Service {
	s := &Service{
		store:    store,
		profiles: profiles,
		locks:    newKeyLock(),
		now:      time.Now,
		retries:  defaultConflictRetries,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithPrefix("chat")
	s.chats = NewChatRepository(store, s.retries)
	s.messages = NewMessageRepository(store, s.retries)
	s.reports = NewReportRepository(store)
	return s
}

func (s *Service) nowMillis() int64 { return s.now().UnixMilli() }

// newMessageID is the send time in millis plus a random suffix, so two sends
// in the same millisecond still get distinct ids.
func (s *Service) newMessageID(createdAt int64) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%d-%s", createdAt, hex.EncodeToString(b[:]))
}

func conversationLock(id string) string { return "messages/" + id }
func recordLock(owner string) string    { return "chats/" + owner }

// storeError maps a failed store call onto the engine's error taxonomy.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, docstore.ErrVersionConflict):
		return appErrors.StaleWrite(err)
	default:
		return appErrors.StoreUnavailable(err)
	}
}

// ResolvePeers looks up every entry's peer in parallel. A failed lookup
// yields a placeholder profile carrying only the id.
func (s *Service) ResolvePeers(ctx context.Context, entries []SummaryEntry) []ConversationView {
	views := make([]ConversationView, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(profileLookupLimit)
	for i, entry := range entries {
		views[i] = ConversationView{SummaryEntry: entry, Peer: user.Profile{ID: entry.PeerID}}
		g.Go(func() error {
			p, err := s.profiles.GetProfile(gctx, entry.PeerID)
			if err != nil {
				s.logger.Warn("peer lookup failed", "peer", entry.PeerID, "err", err)
				return nil
			}
			views[i].Peer = *p
			return nil
		})
	}
	_ = g.Wait()
	return views
}

// For binds the pipelines to one user without any local view state.
func (s *Service) For(userID string) Mutator {
	return &userActions{svc: s, userID: userID}
}

type userActions struct {
	svc    *Service
	userID string
}

func (u *userActions) CreateConversation(ctx context.Context, peerID string) (CreateResult, error) {
	return u.svc.CreateConversation(ctx, u.userID, peerID)
}

func (u *userActions) Send(ctx context.Context, req SendRequest) (Message, error) {
	req.SelfID = u.userID
	if req.PeerID == "" && req.ConversationID != "" {
		req.PeerID = u.svc.lookupPeer(ctx, u.userID, req.ConversationID)
	}
	return u.svc.Send(ctx, req)
}

func (u *userActions) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	return u.svc.DeleteMessage(ctx, u.userID, conversationID, messageID)
}

func (u *userActions) HideChat(ctx context.Context, conversationID string) error {
	return u.svc.HideChat(ctx, u.userID, conversationID)
}

func (u *userActions) Report(ctx context.Context, conversationID, reason string) error {
	return u.svc.Report(ctx, ReportRequest{SelfID: u.userID, ConversationID: conversationID, Reason: reason})
}

func (u *userActions) MarkSeen(ctx context.Context, conversationID string) error {
	return u.svc.MarkSeen(ctx, u.userID, conversationID)
}
