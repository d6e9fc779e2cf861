package store_test

import (
	"testing"

	"github.com/agenthands/canon/internal/store"
	"github.com/agenthands/canon/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.NewMemoryStore()
	})
}
