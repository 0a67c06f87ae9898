package docstore

import (
	"context"
	"sync"
)

// MemoryBackend keeps documents in process memory.
type MemoryBackend struct {
	mu   sync.Mutex
	docs map[string]*Document
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]*Document)}
}

// NewMemory returns a ready Store backed by memory with an in-process feed.
func NewMemory() *DocStore {
	return New(NewMemoryBackend(), NewLocalFeed(), nil)
}

func (b *MemoryBackend) Load(_ context.Context, collection, key string) (*Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.docs[topic(collection, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.clone(), nil
}

func (b *MemoryBackend) Commit(_ context.Context, doc *Document, expected int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := topic(doc.Collection, doc.Key)
	var stored int64
	if cur, ok := b.docs[t]; ok {
		stored = cur.Version
	}
	if stored != expected {
		return ErrVersionConflict
	}
	b.docs[t] = doc.clone()
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
