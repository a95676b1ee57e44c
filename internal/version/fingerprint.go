package version

import (
	"fmt"
	"io"
	"os"

	"github.com/ipfs/go-cid"
	mbase "github.com/multiformats/go-multibase"
	mhash "github.com/multiformats/go-multihash"
	"lukechampine.com/blake3"
)

// Fingerprint is a content digest paired with the cheap metadata (size,
// mtime) spec.md §3 requires FileContentVersion to carry, so two versions
// can often be compared without rehashing.
type Fingerprint struct {
	Digest []byte
	Size   int64
	MTime  int64 // unix nanoseconds; comparison-only, never round-tripped to disk
}

// Equal compares two fingerprints by digest only, per spec.md §4.B ("match
// compares only saved fingerprints"); size/mtime are cheap pre-filters a
// caller may use to skip hashing, not part of identity.
func (f Fingerprint) Equal(other Fingerprint) bool {
	if len(f.Digest) == 0 || len(other.Digest) == 0 {
		return false
	}
	if len(f.Digest) != len(other.Digest) {
		return false
	}
	for i := range f.Digest {
		if f.Digest[i] != other.Digest[i] {
			return false
		}
	}
	return true
}

// IsZero reports whether no digest has been computed yet.
func (f Fingerprint) IsZero() bool { return len(f.Digest) == 0 }

// FingerprintFile computes the BLAKE3 fingerprint of a file's current
// content. Fingerprinting is treated as a black box by spec.md §1; BLAKE3 is
// the concrete instantiation (see SPEC_FULL.md DOMAIN STACK), matching the
// digest algorithm of the tool this engine's design is drawn from.
func FingerprintFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprinting %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Fingerprint{}, fmt.Errorf("stat %s: %w", path, err)
	}

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return Fingerprint{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	return Fingerprint{
		Digest: h.Sum(nil),
		Size:   info.Size(),
		MTime:  info.ModTime().UnixNano(),
	}, nil
}

// CID renders the fingerprint as a self-describing content identifier
// (CIDv1, raw codec, blake3 multihash) used to name cache-directory entries
// in internal/cache.
func (f Fingerprint) CID() (cid.Cid, error) {
	if f.IsZero() {
		return cid.Undef, fmt.Errorf("cannot derive CID from empty fingerprint")
	}
	mh, err := mhash.Encode(f.Digest, mhash.BLAKE3)
	if err != nil {
		return cid.Undef, fmt.Errorf("encoding multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// CacheKey returns the base32-encoded string used as a cache directory name.
func (f Fingerprint) CacheKey() (string, error) {
	c, err := f.CID()
	if err != nil {
		return "", err
	}
	return c.StringOfBase(mbase.Base32)
}

// blake3Sum is a small helper so in-memory content (e.g. a version already
// held as bytes) can be fingerprinted without a round-trip through disk.
func blake3Sum(content []byte) []byte {
	h := blake3.New(32, nil)
	_, _ = h.Write(content)
	return h.Sum(nil)
}
