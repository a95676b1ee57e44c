// Package cache implements the content-addressed blob store backing
// `.rkr/cache/<digest>` (spec.md §6) and the "saved" state the planner's
// caching policy (spec.md §4.I) consults to suppress InputMayChange and
// OutputNeeded edges.
//
// Grounded on internal/core/cache.go's FileCache: prefix-sharded
// directories and an atomic temp-dir-then-rename Put. The key used here is
// a CIDv1 of the content's BLAKE3 digest (see internal/version.Fingerprint)
// rather than a raw hex task hash, and an index in BoltDB backs Has so a
// lookup does not need a Stat on every entry.
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	bolt "github.com/boltdb/bolt"

	"rkr/internal/version"
)

var bucketEntries = []byte("cache-entries")

// Store is a content-addressed blob cache rooted at dir (".rkr/cache").
type Store struct {
	dir string
	idx *bolt.DB
}

// Open opens (creating if absent) a cache store rooted at dir, with its
// index database at indexPath (internal/cli uses ".rkr/cache-index.db").
func Open(dir, indexPath string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}
	db, err := bolt.Open(indexPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening cache index %s: %w", indexPath, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing cache index: %w", err)
	}
	return &Store{dir: dir, idx: db}, nil
}

func (s *Store) Close() error { return s.idx.Close() }

// Has reports whether content with the given fingerprint is cached,
// consulting the index before touching the filesystem.
func (s *Store) Has(fp version.Fingerprint) (bool, error) {
	key, err := fp.CacheKey()
	if err != nil {
		return false, fmt.Errorf("computing cache key: %w", err)
	}
	var found bool
	err = s.idx.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketEntries).Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

// entryPath returns the sharded on-disk path for a cache key, mirroring
// FileCache.entryPath's hash[0:2]/hash sharding.
func (s *Store) entryPath(key string) string {
	if len(key) < 2 {
		return filepath.Join(s.dir, key)
	}
	return filepath.Join(s.dir, key[:2], key, "blob")
}

// Put writes content under its own fingerprint's cache key, atomically, and
// records it in the index. A second Put of the same content is a cheap
// no-op (the index lookup short-circuits the write).
func (s *Store) Put(fp version.Fingerprint, content []byte) error {
	key, err := fp.CacheKey()
	if err != nil {
		return fmt.Errorf("computing cache key: %w", err)
	}
	if has, err := s.Has(fp); err != nil {
		return err
	} else if has {
		return nil
	}

	blobPath := s.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return fmt.Errorf("creating cache entry dir: %w", err)
	}
	if err := writeFileAtomic(blobPath, content, 0o644); err != nil {
		return fmt.Errorf("writing cache blob: %w", err)
	}

	return s.idx.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte(key), []byte(blobPath))
	})
}

// Get retrieves the cached content for fp, or ok=false if absent.
func (s *Store) Get(fp version.Fingerprint) (content []byte, ok bool, err error) {
	key, err := fp.CacheKey()
	if err != nil {
		return nil, false, fmt.Errorf("computing cache key: %w", err)
	}
	var blobPath string
	err = s.idx.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketEntries).Get([]byte(key))
		if v != nil {
			blobPath = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if blobPath == "" {
		return nil, false, nil
	}
	content, err = os.ReadFile(blobPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading cache blob %s: %w", blobPath, err)
	}
	return content, true, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
