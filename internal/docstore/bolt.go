package docstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// BoltBackend stores each collection as a bucket in a single bbolt file.
// Values are the JSON encoding of boltRecord.
type BoltBackend struct {
	db *bolt.DB
}

type boltRecord struct {
	Version int64                      `json:"version"`
	Fields  map[string]json.RawMessage `json:"fields"`
}

func OpenBolt(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "docstore.OpenBolt.MkdirAll")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "docstore.OpenBolt.Open")
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Load(_ context.Context, collection, key string) (*Document, error) {
	var doc *Document
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return ErrNotFound
		}
		v := bucket.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		var rec boltRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return errors.Wrapf(err, "docstore.bolt.Load %s/%s", collection, key)
		}
		doc = &Document{Collection: collection, Key: key, Version: rec.Version, Fields: rec.Fields}
		if doc.Fields == nil {
			doc.Fields = map[string]json.RawMessage{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *BoltBackend) Commit(_ context.Context, doc *Document, expected int64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(doc.Collection))
		if err != nil {
			return errors.Wrap(err, "docstore.bolt.Commit.CreateBucket")
		}
		var stored int64
		if v := bucket.Get([]byte(doc.Key)); v != nil {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return errors.Wrapf(err, "docstore.bolt.Commit %s/%s", doc.Collection, doc.Key)
			}
			stored = rec.Version
		}
		if stored != expected {
			return ErrVersionConflict
		}
		enc, err := json.Marshal(boltRecord{Version: doc.Version, Fields: doc.Fields})
		if err != nil {
			return err
		}
		return bucket.Put([]byte(doc.Key), enc)
	})
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
