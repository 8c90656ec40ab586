package resolve

import (
	"strings"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/indexpool/pkg/indexer"
)

// DefaultFingerprintCacheSize bounds the fingerprint cache.
const DefaultFingerprintCacheSize = 4096

// Fingerprint hashes a resource's indexable content.
func Fingerprint(r indexer.Resource) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(r.Title)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(r.Body)
	return d.Sum64()
}

// Fingerprints remembers the content hash last indexed per document so
// unchanged documents can be skipped. It is safe for concurrent use.
type Fingerprints struct {
	cache *lru.Cache[string, uint64]
}

// NewFingerprints creates a cache holding up to size entries.
func NewFingerprints(size int) (*Fingerprints, error) {
	if size <= 0 {
		size = DefaultFingerprintCacheSize
	}
	cache, err := lru.New[string, uint64](size)
	if err != nil {
		return nil, err
	}
	return &Fingerprints{cache: cache}, nil
}

// Unchanged reports whether id was last recorded with fp.
func (f *Fingerprints) Unchanged(id string, fp uint64) bool {
	prev, ok := f.cache.Get(id)
	return ok && prev == fp
}

// Record stores fp as the indexed hash of id.
func (f *Fingerprints) Record(id string, fp uint64) {
	f.cache.Add(id, fp)
}

// Forget drops id.
func (f *Fingerprints) Forget(id string) {
	f.cache.Remove(id)
}

// ForgetTree drops ref and every cached document below it.
func (f *Fingerprints) ForgetTree(ref indexer.DocRef) {
	id := ref.ID()
	prefix := strings.TrimSuffix(id, "/") + "/"
	for _, key := range f.cache.Keys() {
		if key == id || strings.HasPrefix(key, prefix) {
			f.cache.Remove(key)
		}
	}
}

// Len returns the number of cached fingerprints.
func (f *Fingerprints) Len() int {
	return f.cache.Len()
}
