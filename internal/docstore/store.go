package docstore

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// commitAttempts bounds the internal compare-and-swap loop of a single
// primitive. It only spins when another writer commits the same document in
// between our load and commit.
const commitAttempts = 16

// Cancel stops a subscription. Calling it more than once is a no-op.
type Cancel func()

// Store is the document store contract the chat engine depends on.
type Store interface {
	Get(ctx context.Context, collection, key string) (*Document, error)
	SetMerge(ctx context.Context, collection, key string, fields Fields) error
	UpdateFields(ctx context.Context, collection, key string, fields Fields, opts ...WriteOption) error
	AppendToArrayField(ctx context.Context, collection, key, field string, value any) error
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	Subscribe(ctx context.Context, collection, key string, fn func(*Document)) (Cancel, error)
	NewKey(collection string) string
}

// Backend persists documents. Commit must be atomic: it writes doc only if
// the stored version still equals expected (0 meaning "absent") and returns
// ErrVersionConflict otherwise.
type Backend interface {
	Load(ctx context.Context, collection, key string) (*Document, error)
	Commit(ctx context.Context, doc *Document, expected int64) error
	Close() error
}

// Feed fans committed versions out to watchers of the same document.
type Feed interface {
	Publish(ctx context.Context, doc *Document) error
	Watch(ctx context.Context, collection, key string, fn func(*Document)) (Cancel, error)
	Close() error
}

type writeOptions struct {
	ifVersion    int64
	hasIfVersion bool
}

type WriteOption func(*writeOptions)

// IfVersion makes a write conditional on the document still being at
// version v. A mismatch fails with ErrVersionConflict.
func IfVersion(v int64) WriteOption {
	return func(o *writeOptions) {
		o.ifVersion = v
		o.hasIfVersion = true
	}
}

// DocStore implements Store on top of a Backend and a Feed.
type DocStore struct {
	backend Backend
	feed    Feed
	logger  *log.Logger
}

func New(backend Backend, feed Feed, logger *log.Logger) *DocStore {
	if logger == nil {
		logger = log.Default()
	}
	return &DocStore{backend: backend, feed: feed, logger: logger.WithPrefix("docstore")}
}

func (s *DocStore) Close() error {
	return errors.Join(s.feed.Close(), s.backend.Close())
}

func (s *DocStore) Get(ctx context.Context, collection, key string) (*Document, error) {
	return s.backend.Load(ctx, collection, key)
}

func (s *DocStore) SetMerge(ctx context.Context, collection, key string, fields Fields) error {
	return s.mutate(ctx, collection, key, true, writeOptions{}, func(doc *Document) error {
		return doc.merge(fields)
	})
}

func (s *DocStore) UpdateFields(ctx context.Context, collection, key string, fields Fields, opts ...WriteOption) error {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return s.mutate(ctx, collection, key, false, o, func(doc *Document) error {
		return doc.merge(fields)
	})
}

func (s *DocStore) AppendToArrayField(ctx context.Context, collection, key, field string, value any) error {
	return s.mutate(ctx, collection, key, false, writeOptions{}, func(doc *Document) error {
		return doc.appendTo(field, value)
	})
}

// Add creates a document under a fresh key.
func (s *DocStore) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	key := s.NewKey(collection)
	doc := emptyDocument(collection, key)
	if err := doc.merge(fields); err != nil {
		return "", err
	}
	doc.Version = 1
	if err := s.backend.Commit(ctx, doc, 0); err != nil {
		return "", err
	}
	s.publish(ctx, doc)
	return key, nil
}

func (s *DocStore) NewKey(collection string) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Subscribe delivers the current snapshot of the document (Version 0 when it
// does not exist yet) followed by later committed versions in increasing
// version order. Deliveries for one subscription never overlap. Once the
// returned Cancel has been called no new delivery starts.
func (s *DocStore) Subscribe(ctx context.Context, collection, key string, fn func(*Document)) (Cancel, error) {
	sub := newSubscription(fn)
	stopFeed, err := s.feed.Watch(ctx, collection, key, sub.offer)
	if err != nil {
		return nil, err
	}
	current, err := s.backend.Load(ctx, collection, key)
	if errors.Is(err, ErrNotFound) {
		current, err = emptyDocument(collection, key), nil
	}
	if err != nil {
		stopFeed()
		return nil, err
	}
	sub.offer(current)
	go sub.run()
	return sub.cancelWith(stopFeed), nil
}

func (s *DocStore) mutate(ctx context.Context, collection, key string, create bool, o writeOptions, apply func(*Document) error) error {
	for attempt := 0; attempt < commitAttempts; attempt++ {
		current, err := s.backend.Load(ctx, collection, key)
		switch {
		case errors.Is(err, ErrNotFound):
			if !create {
				return err
			}
			current = emptyDocument(collection, key)
		case err != nil:
			return err
		}
		if o.hasIfVersion && current.Version != o.ifVersion {
			return ErrVersionConflict
		}

		next := current.clone()
		if err := apply(next); err != nil {
			return err
		}
		next.Version = current.Version + 1

		err = s.backend.Commit(ctx, next, current.Version)
		if errors.Is(err, ErrVersionConflict) && !o.hasIfVersion {
			continue
		}
		if err != nil {
			return err
		}
		s.publish(ctx, next)
		return nil
	}
	return ErrVersionConflict
}

func (s *DocStore) publish(ctx context.Context, doc *Document) {
	if err := s.feed.Publish(ctx, doc); err != nil {
		s.logger.Warn("change feed publish failed", "collection", doc.Collection, "key", doc.Key, "version", doc.Version, "err", err)
	}
}
