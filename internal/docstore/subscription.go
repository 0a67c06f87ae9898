package docstore

import "sync"

// subscription is a latest-wins mailbox between a feed and one callback.
// Under backpressure intermediate versions are skipped; the callback only
// ever sees increasing versions and always ends on the newest one offered.
type subscription struct {
	fn func(*Document)

	mu        sync.Mutex
	pending   *Document
	delivered int64
	closed    bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newSubscription(fn func(*Document)) *subscription {
	return &subscription{
		fn:        fn,
		delivered: -1,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (s *subscription) offer(doc *Document) {
	if doc == nil {
		return
	}
	s.mu.Lock()
	if s.closed || doc.Version <= s.delivered || (s.pending != nil && s.pending.Version >= doc.Version) {
		s.mu.Unlock()
		return
	}
	s.pending = doc
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		doc := s.pending
		s.pending = nil
		if s.closed || doc == nil || doc.Version <= s.delivered {
			s.mu.Unlock()
			continue
		}
		s.delivered = doc.Version
		s.mu.Unlock()

		s.fn(doc.clone())
	}
}

func (s *subscription) cancelWith(stopFeed Cancel) Cancel {
	return func() {
		s.once.Do(func() {
			s.mu.Lock()
			s.closed = true
			s.pending = nil
			s.mu.Unlock()
			close(s.done)
			stopFeed()
		})
	}
}
