// Package replay is the optional CAPTURE_PROCESS_REPLAY sink: when enabled,
// every optimize() call records its inputs and outputs to a disk-backed
// key-value store so a later run can diff against it to catch optimizer
// regressions. Disabled by default; the kernel optimizer itself never reads
// from this store, only writes to it.
package replay

import (
	"encoding/json"
	"fmt"

	"github.com/example/go-kernelopt/internal/renderer"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("process_replay")

// Record is one captured optimize() invocation: the input ast (rendered as
// a stable string, since the uop graph itself isn't serializable across
// process boundaries), the renderer options, the opts that were applied,
// the generated kernel name, the call site, and any environment context
// variables worth diffing runs against.
type Record struct {
	AST         string            `json:"ast"`
	Opts        renderer.Renderer `json:"opts"`
	AppliedOpts []renderer.Opt    `json:"applied_opts"`
	Name        string            `json:"name"`
	CallerLoc   string            `json:"caller_loc"`
	ContextVars map[string]string `json:"context_vars"`
	Src         string            `json:"src"`
}

// Store is a bbolt-backed key-value store of Records, keyed by a caller-
// chosen id (typically a hash of the record's ast + opts).
type Store struct {
	db *bolt.DB
}

// Open creates or opens the replay database at path, creating the records
// bucket if it doesn't already exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("replay: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("replay: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

// Put writes rec under key, overwriting any prior record with the same key.
func (s *Store) Put(key string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("replay: encode record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), data)
	})
}

// Get looks up the record stored under key.
func (s *Store) Get(key string) (Record, bool, error) {
	var rec Record
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketName).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("replay: decode record %s: %w", key, err)
	}
	return rec, found, nil
}

// Count returns the number of records currently stored, mostly useful for
// tests and diagnostics.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}
