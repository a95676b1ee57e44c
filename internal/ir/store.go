package ir

import (
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"
)

// Store persists a build's trace to .rkr/db, replacing the hand-rolled flat
// file the original tool used with a bolt database (see SPEC_FULL.md DOMAIN
// STACK): one "traces" bucket holding the canonical step slice under a
// single well-known key, and a "graph-hash-index" bucket mapping a trace
// hash to the root command id it produced, so a later run can detect "no
// changes detected" (S1) without replaying anything.
type Store struct {
	db *bolt.DB
}

var (
	bucketTraces = []byte("traces")
	bucketIndex  = []byte("graph-hash-index")

	keyLatest = []byte("latest")
)

// OpenStore opens (creating if absent) the bolt database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening trace store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTraces); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketIndex)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing trace store buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveLatest persists steps as the build's current trace. An unterminated
// or absent trace is treated as absent at load time (spec.md §6); SaveLatest
// only ever writes a fully-built slice, so partial writes never land here.
func (s *Store) SaveLatest(steps []Step) error {
	payload, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("marshaling trace: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTraces).Put(keyLatest, payload)
	})
}

// LoadLatest returns the previously saved trace, or ok=false if none
// exists (first-time build, spec.md S1) or the saved trace has no End
// record.
func (s *Store) LoadLatest() (steps []Step, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketTraces).Get(keyLatest)
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &steps); err != nil {
			return err
		}
		for _, st := range steps {
			if st.Kind == StepEnd {
				ok = true
				return nil
			}
		}
		steps = nil
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("loading trace: %w", err)
	}
	return steps, ok, nil
}

// RecordGraphHash indexes hash → rootCommand, allowing a future build to
// recognize "no changes detected" without replaying the prior trace byte
// for byte.
func (s *Store) RecordGraphHash(hash string, rootCommand CommandID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndex).Put([]byte(hash), []byte(fmt.Sprintf("%d", rootCommand)))
	})
}

// LookupGraphHash reports whether hash was previously indexed by
// RecordGraphHash, and which root command produced it. A build whose prior
// trace hash is already indexed, and whose rerun set turns out empty, is
// S1's "no changes detected" case: the prior build already reached this
// exact trace.
func (s *Store) LookupGraphHash(hash string) (rootCommand CommandID, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketIndex).Get([]byte(hash))
		if raw == nil {
			return nil
		}
		ok = true
		var n int64
		_, scanErr := fmt.Sscanf(string(raw), "%d", &n)
		rootCommand = CommandID(n)
		return scanErr
	})
	if err != nil {
		return 0, false, fmt.Errorf("looking up graph hash: %w", err)
	}
	return rootCommand, ok, nil
}
