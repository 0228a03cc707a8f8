package badger

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// Open opens (or creates) the badger directory used by the session store.
func Open(dir string) (*badger.DB, error) {
	if dir == "" {
		return nil, fmt.Errorf("badger dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create badger dir failed: %w", err)
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger %s failed: %w", dir, err)
	}
	return db, nil
}
