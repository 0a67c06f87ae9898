package docstore

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisFeedStore(t *testing.T) {
	mr := miniredis.RunT(t)
	// One backend shared by every store built in this test mimics several
	// processes on one database, each with its own Redis connection.
	runStoreSuite(t, func(t *testing.T) *DocStore {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		s := New(NewMemoryBackend(), NewRedisFeed(client, nil), nil)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
