package docstore

import "testing"

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) *DocStore {
		return NewMemory()
	})
}
