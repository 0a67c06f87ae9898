package docstore

import (
	"context"
	"sync"
)

// LocalFeed delivers commits to watchers in the same process. It is only
// correct when every writer shares the same Store value.
type LocalFeed struct {
	mu       sync.RWMutex
	nextID   uint64
	watchers map[string]map[uint64]func(*Document)
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{watchers: make(map[string]map[uint64]func(*Document))}
}

func topic(collection, key string) string {
	return collection + "/" + key
}

func (f *LocalFeed) Publish(_ context.Context, doc *Document) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, fn := range f.watchers[topic(doc.Collection, doc.Key)] {
		fn(doc.clone())
	}
	return nil
}

func (f *LocalFeed) Watch(_ context.Context, collection, key string, fn func(*Document)) (Cancel, error) {
	t := topic(collection, key)

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	if f.watchers[t] == nil {
		f.watchers[t] = make(map[uint64]func(*Document))
	}
	f.watchers[t][id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.watchers[t], id)
			if len(f.watchers[t]) == 0 {
				delete(f.watchers, t)
			}
		})
	}, nil
}

func (f *LocalFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchers = make(map[string]map[uint64]func(*Document))
	return nil
}
