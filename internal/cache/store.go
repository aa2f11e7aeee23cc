package cache

import (
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/zeebo/blake3"
)

const DefaultMaxObjectBytes int64 = 50 * 1024 * 1024

var (
	ErrObjectTooLarge = errors.New("cache entry exceeds max object bytes")
	ErrStorageClosed  = errors.New("cache storage closed")
)

type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	URL      string
	StoredAt time.Time
	Digest   string
}

// Store is a single named bucket. Handles stay valid after the bucket is
// deleted; the next Set recreates it.
type Store interface {
	Get(key string) (Entry, bool)
	Set(key string, entry Entry) error
	Delete(key string) bool
	Keys() []string
	Len() int
}

// Storage owns every bucket of one origin.
type Storage interface {
	Bucket(name string) Store
	Open(name string) (Store, error)
	Has(name string) bool
	Delete(name string) (bool, error)
	Names() ([]string, error)
	Close() error
}

func Digest(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:16])
}

func (e Entry) Clone() Entry {
	clone := e
	if e.Header != nil {
		clone.Header = e.Header.Clone()
	}
	if e.Body != nil {
		clone.Body = append([]byte(nil), e.Body...)
	}
	return clone
}

func (e Entry) ETag() string {
	if e.Header != nil {
		if tag := e.Header.Get("ETag"); tag != "" {
			return tag
		}
	}
	digest := e.Digest
	if digest == "" {
		digest = Digest(e.Body)
	}
	return `"b3-` + digest + `"`
}

func prepare(entry Entry, maxObjectBytes int64) (Entry, error) {
	if maxObjectBytes > 0 && int64(len(entry.Body)) > maxObjectBytes {
		return Entry{}, ErrObjectTooLarge
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	if entry.Digest == "" {
		entry.Digest = Digest(entry.Body)
	}
	return entry, nil
}
