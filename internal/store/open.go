package store

import "vidvault/internal/logging"

// Open selects the persistence backend once at startup. A relational
// backend that fails to initialize is not fatal: the store falls back to
// flat-file snapshots, logged as a single warning. There is no dual-write
// and no migration between backends at runtime.
func Open(dbPath, dataDir string) (Store, string, error) {
	st, err := NewSQLiteStore(dbPath)
	if err == nil {
		return st, "sqlite", nil
	}
	logging.Store.Printf("warning: sqlite backend unavailable, falling back to flat files: %v", err)

	ff, ferr := NewFlatFileStore(dataDir)
	if ferr != nil {
		return nil, "", ferr
	}
	return ff, "flatfile", nil
}
